package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"escrowchain/cmd/internal/passphrase"
	"escrowchain/crypto"
)

// newPassphrase is swapped out in tests.
var newPassphrase = func() func() (string, error) {
	return passphrase.NewSource(keystorePassEnv, "keystore").Get
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func printError(stderr io.Writer, msg string) int {
	fmt.Fprintf(stderr, "Error: %s\n", msg)
	return 1
}

func parseFlags(fs *flag.FlagSet, args []string, stderr io.Writer) bool {
	if err := fs.Parse(args); err != nil {
		return false
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return false
	}
	return true
}

func runGenerateKey(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("generate-key", stderr)
	var (
		path  string
		light bool
	)
	fs.StringVar(&path, "keystore", "wallet.keystore", "keystore file to create")
	fs.BoolVar(&light, "light", false, "use light scrypt parameters (devnets only)")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if _, err := os.Stat(path); err == nil {
		return printError(stderr, fmt.Sprintf("%s already exists", path))
	} else if !errors.Is(err, os.ErrNotExist) {
		return printError(stderr, err.Error())
	}
	pass, err := newPassphrase()()
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, err.Error())
	}
	params := crypto.StandardScrypt
	if light {
		params = crypto.LightScrypt
	}
	if err := crypto.SaveToKeystoreWith(path, key, pass, params); err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "Saved key to %s\n", path)
	fmt.Fprintln(stdout, key.PubKey().Address().String())
	return 0
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("address", stderr)
	var path string
	fs.StringVar(&path, "keystore", "wallet.keystore", "keystore file")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	key, err := loadKey(path)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, key.PubKey().Address().String())
	return 0
}

func loadKey(path string) (*crypto.PrivateKey, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("--keystore is required")
	}
	pass, err := newPassphrase()()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return key, nil
}
