package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"escrowchain/crypto"
	"escrowchain/native/escrow"
)

type deriveOutput struct {
	Escrow string `json:"escrow"`
	Vault  string `json:"vault,omitempty"`
	Proof  string `json:"proof"`
}

// runDerive computes escrow and vault addresses locally.
func runDerive(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("derive", stderr)
	var maker, seed, mintA string
	fs.StringVar(&maker, "maker", "", "maker address")
	fs.StringVar(&seed, "seed", "", "escrow seed")
	fs.StringVar(&mintA, "mint-a", "", "optional mint A, to derive the vault")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if err := requireAddress("maker", maker); err != nil {
		return printError(stderr, err.Error())
	}
	seedValue, err := parseAmountFlag("seed", seed)
	if err != nil {
		return printError(stderr, err.Error())
	}
	makerAddr, _ := crypto.ParseAddress(strings.TrimSpace(maker))
	addr, proof := escrow.DeriveAddress(makerAddr, seedValue)
	out := deriveOutput{
		Escrow: crypto.FromBytes20(addr).String(),
		Proof:  "0x" + hex.EncodeToString(proof[:]),
	}
	if strings.TrimSpace(mintA) != "" {
		if err := requireAddress("mint-a", mintA); err != nil {
			return printError(stderr, err.Error())
		}
		mint, _ := crypto.ParseAddress(strings.TrimSpace(mintA))
		out.Vault = crypto.FromBytes20(escrow.VaultAddress(addr, mint)).String()
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return printError(stderr, err.Error())
	}
	writeRPCResult(stdout, encoded)
	return 0
}

func runGet(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("get", stderr)
	var escrowAddr string
	fs.StringVar(&escrowAddr, "escrow", "", "escrow address")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if err := requireAddress("escrow", escrowAddr); err != nil {
		return printError(stderr, err.Error())
	}
	return query("escrow_get", map[string]string{"escrow": strings.TrimSpace(escrowAddr)}, stdout, stderr)
}

func runBalance(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("balance", stderr)
	var address, mint string
	fs.StringVar(&address, "address", "", "wallet address")
	fs.StringVar(&mint, "mint", "", "mint; omit for the native balance")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if err := requireAddress("address", address); err != nil {
		return printError(stderr, err.Error())
	}
	if strings.TrimSpace(mint) == "" {
		return query("native_balance", map[string]string{"address": strings.TrimSpace(address)}, stdout, stderr)
	}
	if err := requireAddress("mint", mint); err != nil {
		return printError(stderr, err.Error())
	}
	return query("token_balance", map[string]string{
		"owner": strings.TrimSpace(address),
		"mint":  strings.TrimSpace(mint),
	}, stdout, stderr)
}

type historyQuery struct {
	From  uint64 `json:"from"`
	Limit int    `json:"limit,omitempty"`
}

func runHistory(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("history", stderr)
	var params historyQuery
	fs.Uint64Var(&params.From, "from", 1, "first sequence number")
	fs.IntVar(&params.Limit, "limit", 20, "maximum entries")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if params.Limit < 0 {
		return printError(stderr, "limit must not be negative")
	}
	return query("ledger_history", params, stdout, stderr)
}

func query(method string, params interface{}, stdout, stderr io.Writer) int {
	result, rpcErr, err := rpcCall(method, params, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	if len(result) == 0 {
		return printError(stderr, fmt.Sprintf("%s returned no result", method))
	}
	writeRPCResult(stdout, result)
	return 0
}
