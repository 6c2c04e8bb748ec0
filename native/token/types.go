package token

import (
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ProgramName identifies token program allocations in the system program.
const ProgramName = "token"

const (
	mintTag       = "mint"
	associatedTag = "associated-token"
)

// Mint describes a fungible asset.
type Mint struct {
	Address   [20]byte
	Symbol    string
	Decimals  uint8
	Authority [20]byte
	Supply    uint64
}

// Clone returns a copy of the mint.
func (m *Mint) Clone() *Mint {
	if m == nil {
		return nil
	}
	clone := *m
	return &clone
}

// Account is a holding account of a single mint controlled by Owner.
type Account struct {
	Address [20]byte
	Mint    [20]byte
	Owner   [20]byte
	Amount  uint64
}

// Clone returns a copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}

// NormalizeSymbol upper-cases and trims a mint symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// MintAddress returns the canonical address of the mint registered under
// symbol.
func MintAddress(symbol string) [20]byte {
	return derive([]byte(mintTag), []byte(NormalizeSymbol(symbol)))
}

// AssociatedAddress returns the canonical holding account of owner for mint.
func AssociatedAddress(owner, mint [20]byte) [20]byte {
	return derive([]byte(associatedTag), owner[:], mint[:])
}

func derive(parts ...[]byte) [20]byte {
	digest := ethcrypto.Keccak256(parts...)
	var out [20]byte
	copy(out[:], digest[12:])
	return out
}
