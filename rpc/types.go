package rpc

import (
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"escrowchain/core/journal"
	"escrowchain/core/ledger"
	"escrowchain/crypto"
	"escrowchain/native/escrow"
	"escrowchain/native/token"
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`

	status int
}

// EscrowResult describes an open escrow and its vault.
type EscrowResult struct {
	Address     string `json:"address"`
	Maker       string `json:"maker"`
	MintA       string `json:"mintA"`
	MintB       string `json:"mintB"`
	Seed        string `json:"seed"`
	Receive     string `json:"receive"`
	Vault       string `json:"vault"`
	VaultAmount string `json:"vaultAmount"`
	Proof       string `json:"proof"`
}

// DeriveResult reports the addresses an escrow would occupy.
type DeriveResult struct {
	Escrow string `json:"escrow"`
	Vault  string `json:"vault,omitempty"`
	Proof  string `json:"proof"`
}

// TokenAccountResult describes a holding account.
type TokenAccountResult struct {
	Address string `json:"address"`
	Mint    string `json:"mint"`
	Owner   string `json:"owner"`
	Amount  string `json:"amount"`
}

// BalanceResult reports a single balance.
type BalanceResult struct {
	Address string `json:"address"`
	Mint    string `json:"mint,omitempty"`
	Amount  string `json:"amount"`
}

// NonceResult reports the next nonce expected from an address.
type NonceResult struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
}

// ReceiptResult summarises a committed transaction.
type ReceiptResult struct {
	Seq    uint64       `json:"seq"`
	Op     string       `json:"op"`
	Root   string       `json:"root"`
	TxHash string       `json:"txHash"`
	Logs   []ReceiptLog `json:"logs"`
}

// HistoryEntryResult describes one committed operation from the journal.
type HistoryEntryResult struct {
	Seq    uint64 `json:"seq"`
	Op     string `json:"op"`
	Signer string `json:"signer,omitempty"`
	TxHash string `json:"txHash,omitempty"`
	Root   string `json:"root"`
	Time   string `json:"time"`
}

// ReceiptLog captures a structured event emitted during execution.
type ReceiptLog map[string]string

// HealthResult is served from /healthz.
type HealthResult struct {
	Status  string `json:"status"`
	ChainID uint64 `json:"chainId"`
	Height  uint64 `json:"height"`
	Root    string `json:"root"`
}

func formatAddress(addr [20]byte) string {
	return crypto.FromBytes20(addr).String()
}

func formatAmount(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func escrowResult(rec *escrow.Escrow, vaultAmount uint64) EscrowResult {
	return EscrowResult{
		Address:     formatAddress(rec.Address),
		Maker:       formatAddress(rec.Maker),
		MintA:       formatAddress(rec.MintA),
		MintB:       formatAddress(rec.MintB),
		Seed:        formatAmount(rec.Seed),
		Receive:     formatAmount(rec.Receive),
		Vault:       formatAddress(escrow.VaultAddress(rec.Address, rec.MintA)),
		VaultAmount: formatAmount(vaultAmount),
		Proof:       "0x" + hex.EncodeToString(rec.Proof[:]),
	}
}

func tokenAccountResult(account *token.Account) TokenAccountResult {
	return TokenAccountResult{
		Address: formatAddress(account.Address),
		Mint:    formatAddress(account.Mint),
		Owner:   formatAddress(account.Owner),
		Amount:  formatAmount(account.Amount),
	}
}

func receiptResult(receipt *ledger.Receipt) ReceiptResult {
	out := ReceiptResult{
		Seq:    receipt.Seq,
		Op:     receipt.Op,
		Root:   receipt.Root.Hex(),
		TxHash: receipt.TxHash.Hex(),
		Logs:   make([]ReceiptLog, 0, len(receipt.Events)),
	}
	for _, evt := range receipt.Events {
		if evt == nil {
			continue
		}
		entry := ReceiptLog{"type": evt.Type}
		for k, v := range evt.Attributes {
			entry[k] = v
		}
		out.Logs = append(out.Logs, entry)
	}
	return out
}

func historyEntryResult(entry *journal.Entry) HistoryEntryResult {
	out := HistoryEntryResult{
		Seq:  entry.Seq,
		Op:   entry.Op,
		Root: common.Hash(entry.Root).Hex(),
		Time: entry.Timestamp().Format(time.RFC3339Nano),
	}
	if entry.Signer != ([20]byte{}) {
		out.Signer = formatAddress(entry.Signer)
	}
	if entry.TxHash != ([32]byte{}) {
		out.TxHash = common.Hash(entry.TxHash).Hex()
	}
	return out
}
