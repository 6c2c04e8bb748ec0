package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"escrowchain/config"
	"escrowchain/crypto"
	"escrowchain/native/token"
)

func TestResolveGenesisPathPrecedence(t *testing.T) {
	lookup := func(key string) (string, bool) {
		if key != genesisPathEnv {
			t.Fatalf("unexpected lookup key: %s", key)
		}
		return "env-path", true
	}
	emptyLookup := func(string) (string, bool) { return "", false }

	if path := resolveGenesisPath("cli-path", "cfg-path", lookup); path != "cli-path" {
		t.Fatalf("cli flag should win, got %q", path)
	}
	if path := resolveGenesisPath("", "cfg-path", lookup); path != "env-path" {
		t.Fatalf("environment should override config, got %q", path)
	}
	if path := resolveGenesisPath("", " cfg-path ", emptyLookup); path != "cfg-path" {
		t.Fatalf("config should be used last, got %q", path)
	}
}

func TestOpenNodeAppliesGenesisOnce(t *testing.T) {
	dir := t.TempDir()
	holder := crypto.NewAddress(crypto.EscrowPrefix, bytes.Repeat([]byte{0x0a}, 20))
	genesisPath := filepath.Join(dir, "genesis.json")
	doc := fmt.Sprintf(`{
  "chainId": 1,
  "mints": [{"symbol": "USD", "decimals": 2, "authority": %q}],
  "native": {%q: "25"},
  "tokens": {%q: {"USD": "900"}}
}`, holder.String(), holder.String(), holder.String())
	if err := os.WriteFile(genesisPath, []byte(doc), 0o600); err != nil {
		t.Fatalf("write genesis: %v", err)
	}

	cfg := config.Default()
	cfg.DataDir = filepath.Join(dir, "data")
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	n, err := openNode(context.Background(), cfg, genesisPath, logger)
	if err != nil {
		t.Fatalf("open node: %v", err)
	}
	root := n.ledger.Root()
	if n.ledger.Height() != 1 {
		t.Fatalf("expected genesis at height 1, got %d", n.ledger.Height())
	}
	n.Close()

	n, err = openNode(context.Background(), cfg, genesisPath, logger)
	if err != nil {
		t.Fatalf("reopen node: %v", err)
	}
	defer n.Close()
	if n.ledger.Height() != 1 || n.ledger.Root() != root {
		t.Fatalf("genesis re-applied: height=%d root=%s", n.ledger.Height(), n.ledger.Root())
	}
	bal, err := n.ledger.TokenBalance(holder.Bytes20(), token.MintAddress("USD"))
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal != 900 {
		t.Fatalf("expected 900 USD, got %d", bal)
	}
}

func TestOpenNodeRejectsForeignGenesis(t *testing.T) {
	dir := t.TempDir()
	genesisPath := filepath.Join(dir, "genesis.json")
	if err := os.WriteFile(genesisPath, []byte(`{"chainId": 77}`), 0o600); err != nil {
		t.Fatalf("write genesis: %v", err)
	}
	cfg := config.Default()
	cfg.DataDir = filepath.Join(dir, "data")
	if _, err := openNode(context.Background(), cfg, genesisPath, slog.New(slog.NewJSONHandler(io.Discard, nil))); err == nil {
		t.Fatalf("expected chain id mismatch")
	}
}
