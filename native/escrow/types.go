package escrow

import (
	"encoding/binary"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"escrowchain/native/token"
)

// ProgramName identifies escrow record allocations in the system program.
const ProgramName = "escrow"

const seedTag = "escrow"

// Escrow is the on-ledger record describing one open trade. The record lives
// at an address derived from the maker and seed; Proof holds the full
// derivation digest so the address can be re-authenticated on every access.
// Every field is immutable once Make succeeds.
type Escrow struct {
	Address [20]byte
	Seed    uint64
	Maker   [20]byte
	MintA   [20]byte
	MintB   [20]byte
	Receive uint64
	Proof   [32]byte
}

// Clone returns a copy of the escrow record so callers can mutate it without
// affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	return &clone
}

// DerivationProof returns keccak256("escrow" || maker || seed) with the seed
// encoded as eight little-endian bytes.
func DerivationProof(maker [20]byte, seed uint64) [32]byte {
	var seedBytes [8]byte
	binary.LittleEndian.PutUint64(seedBytes[:], seed)
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256([]byte(seedTag), maker[:], seedBytes[:]))
	return out
}

// DeriveAddress returns the deterministic record address for (maker, seed)
// together with the derivation proof it was computed from.
func DeriveAddress(maker [20]byte, seed uint64) ([20]byte, [32]byte) {
	proof := DerivationProof(maker, seed)
	var addr [20]byte
	copy(addr[:], proof[12:])
	return addr, proof
}

// VaultAddress returns the custody account holding mintA for the escrow at
// escrowAddr.
func VaultAddress(escrowAddr, mintA [20]byte) [20]byte {
	return token.AssociatedAddress(escrowAddr, mintA)
}

// VerifyDerivation recomputes the record address from its maker and seed and
// checks it against both the stored address and proof.
func VerifyDerivation(e *Escrow) error {
	if e == nil {
		return fmt.Errorf("%w: nil record", ErrAddressMismatch)
	}
	addr, proof := DeriveAddress(e.Maker, e.Seed)
	if addr != e.Address || proof != e.Proof {
		return fmt.Errorf("%w: record %x does not derive from maker %x seed %d", ErrAddressMismatch, e.Address, e.Maker, e.Seed)
	}
	return nil
}
