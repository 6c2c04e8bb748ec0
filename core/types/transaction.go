package types

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// TxType defines the purpose of a transaction.
type TxType byte

const (
	TxTypeEscrowMake     TxType = 0x01 // Maker locks asset A and opens an escrow
	TxTypeEscrowTake     TxType = 0x02 // Taker pays asset B and receives the vault
	TxTypeEscrowRefund   TxType = 0x03 // Maker closes an open escrow
	TxTypeTokenTransfer  TxType = 0x10 // Checked transfer between holding accounts
	TxTypeCreateAccount  TxType = 0x11 // Create an associated holding account
	TxTypeNativeTransfer TxType = 0x12 // Move native balance used for deposits
)

var (
	ErrMissingSignature = errors.New("tx: missing signature")
	ErrInvalidSignature = errors.New("tx: invalid signature")
)

// String returns the canonical operation name for the transaction type.
func (t TxType) String() string {
	switch t {
	case TxTypeEscrowMake:
		return "escrow.make"
	case TxTypeEscrowTake:
		return "escrow.take"
	case TxTypeEscrowRefund:
		return "escrow.refund"
	case TxTypeTokenTransfer:
		return "token.transfer"
	case TxTypeCreateAccount:
		return "token.create_account"
	case TxTypeNativeTransfer:
		return "system.transfer"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// Transaction is a signed request to run exactly one program instruction.
// Payload is the JSON encoding of the instruction parameters.
type Transaction struct {
	ChainID uint64          `json:"chainId"`
	Type    TxType          `json:"type"`
	Nonce   uint64          `json:"nonce"`
	Payload json.RawMessage `json:"payload"`

	R *big.Int `json:"r"`
	S *big.Int `json:"s"`
	V *big.Int `json:"v"`

	from []byte
}

type txSigningData struct {
	ChainID uint64
	Type    TxType
	Nonce   uint64
	Payload []byte
}

// Hash returns the keccak256 digest of the RLP-encoded signing fields.
func (tx *Transaction) Hash() ([]byte, error) {
	encoded, err := rlp.EncodeToBytes(&txSigningData{
		ChainID: tx.ChainID,
		Type:    tx.Type,
		Nonce:   tx.Nonce,
		Payload: []byte(tx.Payload),
	})
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256(encoded), nil
}

// SetPayload JSON-encodes the instruction parameters into the transaction.
func (tx *Transaction) SetPayload(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tx.Payload = data
	tx.from = nil
	return nil
}

// DecodePayload unmarshals the instruction parameters into out.
func (tx *Transaction) DecodePayload(out interface{}) error {
	if len(tx.Payload) == 0 {
		return fmt.Errorf("tx: empty payload")
	}
	return json.Unmarshal(tx.Payload, out)
}

func (tx *Transaction) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash, privKey)
	if err != nil {
		return err
	}
	tx.R = new(big.Int).SetBytes(sig[:32])
	tx.S = new(big.Int).SetBytes(sig[32:64])
	tx.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	tx.from = nil
	return nil
}

// From recovers the signer address from the signature.
func (tx *Transaction) From() ([]byte, error) {
	if tx.from != nil {
		return tx.from, nil
	}
	if tx.R == nil || tx.S == nil || tx.V == nil {
		return nil, ErrMissingSignature
	}
	if len(tx.R.Bytes()) > 32 || len(tx.S.Bytes()) > 32 || !tx.V.IsUint64() || tx.V.Uint64() < 27 || tx.V.Uint64() > 28 {
		return nil, ErrInvalidSignature
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	sig := make([]byte, 65)
	copy(sig[32-len(tx.R.Bytes()):32], tx.R.Bytes())
	copy(sig[64-len(tx.S.Bytes()):64], tx.S.Bytes())
	sig[64] = byte(tx.V.Uint64() - 27)
	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	tx.from = crypto.PubkeyToAddress(*pubKey).Bytes()
	return tx.from, nil
}

// Sender returns the recovered signer as a fixed-size address.
func (tx *Transaction) Sender() ([20]byte, error) {
	var out [20]byte
	from, err := tx.From()
	if err != nil {
		return out, err
	}
	copy(out[:], from)
	return out, nil
}
