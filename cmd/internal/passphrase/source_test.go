package passphrase

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func newTestSource(env map[string]string, terminal bool, typed string) (*Source, *bytes.Buffer) {
	out := &bytes.Buffer{}
	s := NewSource("TEST_PASS", "wallet")
	s.lookup = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	s.isTerminal = func() bool { return terminal }
	s.read = func() ([]byte, error) {
		if typed == "" {
			return nil, errors.New("closed")
		}
		return []byte(typed), nil
	}
	s.out = out
	return s, out
}

func TestSourcePrefersEnvironment(t *testing.T) {
	s, out := newTestSource(map[string]string{"TEST_PASS": "hunter2"}, true, "typed")
	got, err := s.Get()
	if err != nil || got != "hunter2" {
		t.Fatalf("expected env passphrase, got %q err=%v", got, err)
	}
	if out.Len() != 0 {
		t.Fatalf("unexpected prompt %q", out.String())
	}
}

func TestSourceRejectsEmptyEnvironment(t *testing.T) {
	s, _ := newTestSource(map[string]string{"TEST_PASS": "  "}, true, "typed")
	if _, err := s.Get(); err == nil || !strings.Contains(err.Error(), "TEST_PASS") {
		t.Fatalf("expected empty env error, got %v", err)
	}
}

func TestSourcePromptsOnTerminal(t *testing.T) {
	s, out := newTestSource(nil, true, "typed")
	got, err := s.Get()
	if err != nil || got != "typed" {
		t.Fatalf("expected typed passphrase, got %q err=%v", got, err)
	}
	if !strings.Contains(out.String(), "Enter wallet passphrase") {
		t.Fatalf("missing prompt, got %q", out.String())
	}
	// Cached after the first read.
	s.read = func() ([]byte, error) { return []byte("other"), nil }
	if again, _ := s.Get(); again != "typed" {
		t.Fatalf("expected cached value, got %q", again)
	}
}

func TestSourceWithoutTerminal(t *testing.T) {
	s, _ := newTestSource(nil, false, "")
	if _, err := s.Get(); err == nil || !strings.Contains(err.Error(), "TEST_PASS") {
		t.Fatalf("expected guidance to set TEST_PASS, got %v", err)
	}
}
