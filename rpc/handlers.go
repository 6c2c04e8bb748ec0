package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"escrowchain/core/types"
	"escrowchain/crypto"
	"escrowchain/native/escrow"
	"escrowchain/native/token"
)

type addressParams struct {
	Address string `json:"address"`
}

type escrowParams struct {
	Escrow string `json:"escrow"`
}

type deriveParams struct {
	Maker string `json:"maker"`
	Seed  string `json:"seed"`
	MintA string `json:"mintA,omitempty"`
}

type historyParams struct {
	From  uint64 `json:"from"`
	Limit int    `json:"limit,omitempty"`
}

type balanceParams struct {
	Owner string `json:"owner"`
	Mint  string `json:"mint"`
}

func decodeParams(req *RPCRequest, out interface{}) *RPCError {
	if len(req.Params) != 1 {
		return invalidParams("parameter object required", nil)
	}
	dec := json.NewDecoder(strings.NewReader(string(req.Params[0])))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return invalidParams("invalid parameter object", err.Error())
	}
	return nil
}

func parseAddressParam(field, value string) ([20]byte, *RPCError) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return [20]byte{}, invalidParams(fmt.Sprintf("%s is required", field), nil)
	}
	addr, err := crypto.ParseAddress(trimmed)
	if err != nil {
		return [20]byte{}, invalidParams(fmt.Sprintf("invalid %s", field), err.Error())
	}
	return addr, nil
}

func (s *Server) handleSendTransaction(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
	if len(req.Params) != 1 {
		return nil, invalidParams("transaction parameter required", nil)
	}
	var tx types.Transaction
	if err := json.Unmarshal(req.Params[0], &tx); err != nil {
		return nil, invalidParams("invalid transaction format", err.Error())
	}
	receipt, err := s.ledger.ApplyTransaction(ctx, &tx)
	if err != nil {
		return nil, ledgerError(err)
	}
	return receiptResult(receipt), nil
}

func (s *Server) handleEscrowGet(req *RPCRequest) (interface{}, *RPCError) {
	var params escrowParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseAddressParam("escrow", params.Escrow)
	if rpcErr != nil {
		return nil, rpcErr
	}
	rec, err := s.ledger.Escrow(addr)
	if err != nil {
		return nil, ledgerError(err)
	}
	vault, err := s.ledger.TokenAccount(escrow.VaultAddress(rec.Address, rec.MintA))
	if err != nil {
		return nil, ledgerError(err)
	}
	return escrowResult(rec, vault.Amount), nil
}

func (s *Server) handleEscrowDerive(req *RPCRequest) (interface{}, *RPCError) {
	var params deriveParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	maker, rpcErr := parseAddressParam("maker", params.Maker)
	if rpcErr != nil {
		return nil, rpcErr
	}
	seed, err := strconv.ParseUint(strings.TrimSpace(params.Seed), 10, 64)
	if err != nil {
		return nil, invalidParams("invalid seed", err.Error())
	}
	addr, proof := escrow.DeriveAddress(maker, seed)
	result := DeriveResult{Escrow: formatAddress(addr), Proof: "0x" + hex.EncodeToString(proof[:])}
	if strings.TrimSpace(params.MintA) != "" {
		mintA, rpcErr := parseAddressParam("mintA", params.MintA)
		if rpcErr != nil {
			return nil, rpcErr
		}
		result.Vault = formatAddress(escrow.VaultAddress(addr, mintA))
	}
	return result, nil
}

func (s *Server) handleTokenAccount(req *RPCRequest) (interface{}, *RPCError) {
	var params addressParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseAddressParam("address", params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	account, err := s.ledger.TokenAccount(addr)
	if err != nil {
		return nil, ledgerError(err)
	}
	return tokenAccountResult(account), nil
}

func (s *Server) handleTokenBalance(req *RPCRequest) (interface{}, *RPCError) {
	var params balanceParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	owner, rpcErr := parseAddressParam("owner", params.Owner)
	if rpcErr != nil {
		return nil, rpcErr
	}
	mint, rpcErr := parseAddressParam("mint", params.Mint)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, err := s.ledger.TokenBalance(owner, mint)
	if err != nil {
		return nil, ledgerError(err)
	}
	return BalanceResult{
		Address: formatAddress(token.AssociatedAddress(owner, mint)),
		Mint:    formatAddress(mint),
		Amount:  formatAmount(amount),
	}, nil
}

func (s *Server) handleNativeBalance(req *RPCRequest) (interface{}, *RPCError) {
	var params addressParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseAddressParam("address", params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, err := s.ledger.NativeBalance(addr)
	if err != nil {
		return nil, ledgerError(err)
	}
	return BalanceResult{Address: formatAddress(addr), Amount: formatAmount(amount)}, nil
}

func (s *Server) handleAccountNonce(req *RPCRequest) (interface{}, *RPCError) {
	var params addressParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseAddressParam("address", params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	nonce, err := s.ledger.Nonce(addr)
	if err != nil {
		return nil, ledgerError(err)
	}
	return NonceResult{Address: formatAddress(addr), Nonce: nonce}, nil
}

const maxHistoryEntries = 100

func (s *Server) handleHistory(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
	var params historyParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if params.Limit < 0 {
		return nil, invalidParams("limit must not be negative", nil)
	}
	if params.Limit == 0 || params.Limit > maxHistoryEntries {
		params.Limit = maxHistoryEntries
	}
	entries, err := s.ledger.History(ctx, params.From, params.Limit)
	if err != nil {
		return nil, ledgerError(err)
	}
	out := make([]HistoryEntryResult, 0, len(entries))
	for _, entry := range entries {
		out = append(out, historyEntryResult(entry))
	}
	return out, nil
}
