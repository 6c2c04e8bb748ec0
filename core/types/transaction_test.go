package types

import (
	"bytes"
	"errors"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestTransactionSignAndRecover(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tx := &Transaction{ChainID: 7, Type: TxTypeEscrowMake, Nonce: 3}
	if err := tx.SetPayload(EscrowMakePayload{MintA: "a", MintB: "b", Seed: 1, Deposit: 100, Receive: 50}); err != nil {
		t.Fatalf("set payload: %v", err)
	}
	if err := tx.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	from, err := tx.From()
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	want := ethcrypto.PubkeyToAddress(key.PublicKey).Bytes()
	if !bytes.Equal(from, want) {
		t.Fatalf("unexpected signer: got %x want %x", from, want)
	}

	var decoded EscrowMakePayload
	if err := tx.DecodePayload(&decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.Seed != 1 || decoded.Deposit != 100 || decoded.Receive != 50 {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
}

func TestTransactionTamperChangesSigner(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tx := &Transaction{ChainID: 1, Type: TxTypeEscrowRefund, Nonce: 0, Payload: []byte(`{"mintA":"x","escrow":"y"}`)}
	if err := tx.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	signer := ethcrypto.PubkeyToAddress(key.PublicKey).Bytes()

	tampered := &Transaction{ChainID: tx.ChainID, Type: tx.Type, Nonce: tx.Nonce + 1, Payload: tx.Payload, R: tx.R, S: tx.S, V: tx.V}
	from, err := tampered.From()
	if err == nil && bytes.Equal(from, signer) {
		t.Fatalf("tampered transaction recovered original signer")
	}
}

func TestTransactionWithoutSignature(t *testing.T) {
	tx := &Transaction{Type: TxTypeEscrowTake}
	if _, err := tx.From(); !errors.Is(err, ErrMissingSignature) {
		t.Fatalf("expected ErrMissingSignature, got %v", err)
	}
}

func TestTxTypeString(t *testing.T) {
	if TxTypeEscrowTake.String() != "escrow.take" {
		t.Fatalf("unexpected name %q", TxTypeEscrowTake.String())
	}
	if TxType(0xFF).String() != "unknown(0xff)" {
		t.Fatalf("unexpected name %q", TxType(0xFF).String())
	}
}
