package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"escrowchain/core/types"
	"escrowchain/crypto"
)

type nonceResult struct {
	Nonce uint64 `json:"nonce"`
}

const defaultChainID = 1

func addChainFlag(fs *flag.FlagSet, chain *uint64) {
	fs.Uint64Var(chain, "chain-id", defaultChainID, "chain identifier to sign for")
}

func requireAddress(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("--%s is required", field)
	}
	if _, err := crypto.ParseAddress(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("--%s: %v", field, err)
	}
	return nil
}

func parseAmountFlag(field, value string) (uint64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("--%s is required", field)
	}
	amount, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("--%s must be an unsigned integer", field)
	}
	return amount, nil
}

// submit signs payload with the key at keystorePath using the signer's next
// nonce and sends it with tx_send.
func submit(keystorePath string, chain uint64, txType types.TxType, payload interface{}, stdout, stderr io.Writer) int {
	key, err := loadKey(keystorePath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	signer := key.PubKey().Address().String()

	raw, rpcErr, err := rpcCall("account_nonce", map[string]string{"address": signer}, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	var nonce nonceResult
	if err := json.Unmarshal(raw, &nonce); err != nil {
		return printError(stderr, fmt.Sprintf("decode nonce: %v", err))
	}

	tx := &types.Transaction{ChainID: chain, Type: txType, Nonce: nonce.Nonce}
	if err := tx.SetPayload(payload); err != nil {
		return printError(stderr, err.Error())
	}
	if err := tx.Sign(key.PrivateKey); err != nil {
		return printError(stderr, err.Error())
	}
	result, rpcErr, err := rpcCall("tx_send", tx, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runMake(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("make", stderr)
	var (
		keystorePath string
		mintA, mintB string
		seed         string
		deposit      string
		receive      string
		chain        uint64
	)
	fs.StringVar(&keystorePath, "keystore", "wallet.keystore", "maker keystore")
	fs.StringVar(&mintA, "mint-a", "", "mint of the asset locked in the vault")
	fs.StringVar(&mintB, "mint-b", "", "mint of the asset requested in exchange")
	fs.StringVar(&seed, "seed", "", "seed distinguishing this escrow among the maker's escrows")
	fs.StringVar(&deposit, "deposit", "", "amount of mint A to lock")
	fs.StringVar(&receive, "receive", "", "amount of mint B requested")
	addChainFlag(fs, &chain)
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if err := requireAddress("mint-a", mintA); err != nil {
		return printError(stderr, err.Error())
	}
	if err := requireAddress("mint-b", mintB); err != nil {
		return printError(stderr, err.Error())
	}
	seedValue, err := parseAmountFlag("seed", seed)
	if err != nil {
		return printError(stderr, err.Error())
	}
	depositValue, err := parseAmountFlag("deposit", deposit)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if depositValue == 0 {
		return printError(stderr, "--deposit must be greater than zero")
	}
	receiveValue, err := parseAmountFlag("receive", receive)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if receiveValue == 0 {
		fmt.Fprintln(stderr, "Warning: --receive is zero; anyone may take this escrow for free")
	}
	return submit(keystorePath, chain, types.TxTypeEscrowMake, types.EscrowMakePayload{
		MintA:   strings.TrimSpace(mintA),
		MintB:   strings.TrimSpace(mintB),
		Seed:    seedValue,
		Deposit: depositValue,
		Receive: receiveValue,
	}, stdout, stderr)
}

// lookupEscrow fetches the record so take and refund can fill in its mints and
// maker.
func lookupEscrow(escrowAddr string) (*escrowRecord, *rpcError, error) {
	raw, rpcErr, err := rpcCall("escrow_get", map[string]string{"escrow": escrowAddr}, false)
	if err != nil || rpcErr != nil {
		return nil, rpcErr, err
	}
	var rec escrowRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, nil, fmt.Errorf("decode escrow: %w", err)
	}
	return &rec, nil, nil
}

type escrowRecord struct {
	Address string `json:"address"`
	Maker   string `json:"maker"`
	MintA   string `json:"mintA"`
	MintB   string `json:"mintB"`
}

func runTake(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("take", stderr)
	var (
		keystorePath string
		escrowAddr   string
		chain        uint64
	)
	fs.StringVar(&keystorePath, "keystore", "wallet.keystore", "taker keystore")
	fs.StringVar(&escrowAddr, "escrow", "", "escrow address")
	addChainFlag(fs, &chain)
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if err := requireAddress("escrow", escrowAddr); err != nil {
		return printError(stderr, err.Error())
	}
	rec, rpcErr, err := lookupEscrow(strings.TrimSpace(escrowAddr))
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	return submit(keystorePath, chain, types.TxTypeEscrowTake, types.EscrowTakePayload{
		Maker:  rec.Maker,
		MintA:  rec.MintA,
		MintB:  rec.MintB,
		Escrow: rec.Address,
	}, stdout, stderr)
}

func runRefund(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("refund", stderr)
	var (
		keystorePath string
		escrowAddr   string
		chain        uint64
	)
	fs.StringVar(&keystorePath, "keystore", "wallet.keystore", "maker keystore")
	fs.StringVar(&escrowAddr, "escrow", "", "escrow address")
	addChainFlag(fs, &chain)
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if err := requireAddress("escrow", escrowAddr); err != nil {
		return printError(stderr, err.Error())
	}
	rec, rpcErr, err := lookupEscrow(strings.TrimSpace(escrowAddr))
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	return submit(keystorePath, chain, types.TxTypeEscrowRefund, types.EscrowRefundPayload{
		MintA:  rec.MintA,
		Escrow: rec.Address,
	}, stdout, stderr)
}

func runCreateAccount(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("create-account", stderr)
	var (
		keystorePath string
		mint         string
		owner        string
		chain        uint64
	)
	fs.StringVar(&keystorePath, "keystore", "wallet.keystore", "payer keystore")
	fs.StringVar(&mint, "mint", "", "mint of the new account")
	fs.StringVar(&owner, "owner", "", "owner of the new account (defaults to the payer)")
	addChainFlag(fs, &chain)
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if err := requireAddress("mint", mint); err != nil {
		return printError(stderr, err.Error())
	}
	if strings.TrimSpace(owner) != "" {
		if err := requireAddress("owner", owner); err != nil {
			return printError(stderr, err.Error())
		}
	}
	return submit(keystorePath, chain, types.TxTypeCreateAccount, types.CreateAccountPayload{
		Owner: strings.TrimSpace(owner),
		Mint:  strings.TrimSpace(mint),
	}, stdout, stderr)
}

func runTransfer(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("transfer", stderr)
	var (
		keystorePath string
		mint         string
		to           string
		amount       string
		decimals     uint
		chain        uint64
	)
	fs.StringVar(&keystorePath, "keystore", "wallet.keystore", "sender keystore")
	fs.StringVar(&mint, "mint", "", "mint to transfer; omit for native balance")
	fs.StringVar(&to, "to", "", "recipient wallet address")
	fs.StringVar(&amount, "amount", "", "amount in base units")
	fs.UintVar(&decimals, "decimals", 0, "decimals of the mint, checked by the ledger")
	addChainFlag(fs, &chain)
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if err := requireAddress("to", to); err != nil {
		return printError(stderr, err.Error())
	}
	value, err := parseAmountFlag("amount", amount)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if strings.TrimSpace(mint) == "" {
		return submit(keystorePath, chain, types.TxTypeNativeTransfer, types.NativeTransferPayload{
			To:     strings.TrimSpace(to),
			Amount: value,
		}, stdout, stderr)
	}
	if err := requireAddress("mint", mint); err != nil {
		return printError(stderr, err.Error())
	}
	if decimals > 255 {
		return printError(stderr, "--decimals must be at most 255")
	}
	return submit(keystorePath, chain, types.TxTypeTokenTransfer, types.TokenTransferPayload{
		Mint:     strings.TrimSpace(mint),
		To:       strings.TrimSpace(to),
		Amount:   value,
		Decimals: uint8(decimals),
	}, stdout, stderr)
}
