package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	rpcURLEnv       = "ESCROW_RPC_URL"
	rpcTokenEnv     = "ESCROW_RPC_TOKEN"
	keystorePassEnv = "ESCROW_KEYSTORE_PASS"
	defaultRPCURL   = "http://localhost:8080"
)

var (
	rpcEndpoint  = defaultRPCEndpoint()
	rpcAuthToken = strings.TrimSpace(os.Getenv(rpcTokenEnv))
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	args, err := applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	switch args[0] {
	case "generate-key":
		return runGenerateKey(args[1:], stdout, stderr)
	case "address":
		return runAddress(args[1:], stdout, stderr)
	case "derive":
		return runDerive(args[1:], stdout, stderr)
	case "make":
		return runMake(args[1:], stdout, stderr)
	case "take":
		return runTake(args[1:], stdout, stderr)
	case "refund":
		return runRefund(args[1:], stdout, stderr)
	case "get":
		return runGet(args[1:], stdout, stderr)
	case "balance":
		return runBalance(args[1:], stdout, stderr)
	case "history":
		return runHistory(args[1:], stdout, stderr)
	case "create-account":
		return runCreateAccount(args[1:], stdout, stderr)
	case "transfer":
		return runTransfer(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func defaultRPCEndpoint() string {
	if value := strings.TrimSpace(os.Getenv(rpcURLEnv)); value != "" {
		return value
	}
	return defaultRPCURL
}

// applyGlobalFlags consumes --rpc before the command name.
func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--rpc":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--rpc requires a URL")
			}
			rpcEndpoint = args[i+1]
			i++
		case strings.HasPrefix(arg, "--rpc="):
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
		default:
			out = append(out, args[i:]...)
			return out, nil
		}
	}
	return out, nil
}

func usage() string {
	return strings.Join([]string{
		"Usage: escrow-cli [--rpc URL] <command> [flags]",
		"",
		"Keys:",
		"  generate-key    --keystore PATH                   Create an encrypted key",
		"  address         --keystore PATH                   Print the key's address",
		"",
		"Escrow:",
		"  derive          --maker ADDR --seed N [--mint-a MINT]",
		"  make            --keystore PATH --mint-a MINT --mint-b MINT --seed N --deposit N --receive N",
		"  take            --keystore PATH --escrow ADDR",
		"  refund          --keystore PATH --escrow ADDR",
		"  get             --escrow ADDR",
		"",
		"Tokens:",
		"  balance         --address ADDR [--mint MINT]      Token balance, or native when --mint is omitted",
		"  create-account  --keystore PATH --mint MINT [--owner ADDR]",
		"  transfer        --keystore PATH --mint MINT --to ADDR --amount N --decimals N",
		"",
		"Ledger:",
		"  history         [--from N] [--limit N]            Committed operations from the journal",
		"",
		"Environment: " + rpcURLEnv + ", " + rpcTokenEnv + ", " + keystorePassEnv,
	}, "\n")
}
