package state

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"escrowchain/native/escrow"
	"escrowchain/native/system"
	"escrowchain/native/token"
	"escrowchain/storage/trie"
)

// Manager reads and writes program state held in the state trie. It satisfies
// the state interfaces of the system, token and escrow engines.
type Manager struct {
	trie *trie.Trie
}

// NewManager creates a state manager operating on the provided trie.
func NewManager(tr *trie.Trie) *Manager {
	return &Manager{trie: tr}
}

// Trie returns the trie the manager writes to.
func (m *Manager) Trie() *trie.Trie { return m.trie }

// Root returns the hash of the pending state.
func (m *Manager) Root() common.Hash { return m.trie.Hash() }

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 before it reaches the trie.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.trie.Update(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.trie.Get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.trie.Delete(kvKey(key))
}

// KVAppend appends value to the RLP-encoded byte slice list stored under key.
// Duplicate values are ignored to keep the index deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	var list [][]byte
	if _, err := m.KVGet(key, &list); err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return m.KVPut(key, list)
}

// KVGetList decodes the RLP list stored under key into the slice pointed to by
// out. A missing key yields an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	val := reflect.ValueOf(out)
	if val.Kind() != reflect.Ptr || val.IsNil() || val.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("kv: destination must be a non-nil slice pointer")
	}
	ok, err := m.KVGet(key, out)
	if err != nil {
		return err
	}
	if !ok {
		val.Elem().Set(reflect.MakeSlice(val.Elem().Type(), 0, 0))
	}
	return nil
}

// NativeBalance returns the native balance of addr.
func (m *Manager) NativeBalance(addr [20]byte) (uint64, error) {
	var amount uint64
	if _, err := m.KVGet(addressKey(nativeBalancePrefix, addr), &amount); err != nil {
		return 0, err
	}
	return amount, nil
}

// SetNativeBalance overwrites the native balance of addr. Zero balances are
// removed from state.
func (m *Manager) SetNativeBalance(addr [20]byte, amount uint64) error {
	key := addressKey(nativeBalancePrefix, addr)
	if amount == 0 {
		return m.KVDelete(key)
	}
	return m.KVPut(key, amount)
}

// Nonce returns the next expected transaction nonce for addr.
func (m *Manager) Nonce(addr [20]byte) (uint64, error) {
	var nonce uint64
	if _, err := m.KVGet(addressKey(noncePrefix, addr), &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

// SetNonce records the next expected transaction nonce for addr.
func (m *Manager) SetNonce(addr [20]byte, nonce uint64) error {
	return m.KVPut(addressKey(noncePrefix, addr), nonce)
}

// AllocationGet returns the system allocation recorded for addr.
func (m *Manager) AllocationGet(addr [20]byte) (*system.Allocation, bool, error) {
	alloc := new(system.Allocation)
	ok, err := m.KVGet(addressKey(allocationPrefix, addr), alloc)
	if err != nil || !ok {
		return nil, false, err
	}
	return alloc, true, nil
}

// AllocationPut stores the system allocation for addr.
func (m *Manager) AllocationPut(addr [20]byte, alloc *system.Allocation) error {
	if alloc == nil {
		return fmt.Errorf("state: nil allocation")
	}
	return m.KVPut(addressKey(allocationPrefix, addr), alloc)
}

// AllocationDelete removes the system allocation for addr.
func (m *Manager) AllocationDelete(addr [20]byte) error {
	return m.KVDelete(addressKey(allocationPrefix, addr))
}

// MintGet returns the mint stored at addr.
func (m *Manager) MintGet(addr [20]byte) (*token.Mint, bool, error) {
	mint := new(token.Mint)
	ok, err := m.KVGet(addressKey(mintPrefix, addr), mint)
	if err != nil || !ok {
		return nil, false, err
	}
	return mint, true, nil
}

// MintPut stores a mint and records it in the mint index.
func (m *Manager) MintPut(mint *token.Mint) error {
	if mint == nil {
		return fmt.Errorf("state: nil mint")
	}
	if err := m.KVPut(addressKey(mintPrefix, mint.Address), mint); err != nil {
		return err
	}
	return m.KVAppend(mintIndexKey, mint.Address[:])
}

// Mints returns every registered mint in registration order.
func (m *Manager) Mints() ([]*token.Mint, error) {
	var index [][]byte
	if err := m.KVGetList(mintIndexKey, &index); err != nil {
		return nil, err
	}
	out := make([]*token.Mint, 0, len(index))
	for _, raw := range index {
		var addr [20]byte
		copy(addr[:], raw)
		mint, ok, err := m.MintGet(addr)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, mint)
		}
	}
	return out, nil
}

// TokenAccountGet returns the holding account stored at addr.
func (m *Manager) TokenAccountGet(addr [20]byte) (*token.Account, bool, error) {
	account := new(token.Account)
	ok, err := m.KVGet(addressKey(tokenAccountPrefix, addr), account)
	if err != nil || !ok {
		return nil, false, err
	}
	return account, true, nil
}

// TokenAccountPut stores a holding account.
func (m *Manager) TokenAccountPut(account *token.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil token account")
	}
	return m.KVPut(addressKey(tokenAccountPrefix, account.Address), account)
}

// TokenAccountDelete removes the holding account stored at addr.
func (m *Manager) TokenAccountDelete(addr [20]byte) error {
	return m.KVDelete(addressKey(tokenAccountPrefix, addr))
}

// EscrowGet returns the escrow record stored at addr.
func (m *Manager) EscrowGet(addr [20]byte) (*escrow.Escrow, bool, error) {
	rec := new(escrow.Escrow)
	ok, err := m.KVGet(addressKey(escrowPrefix, addr), rec)
	if err != nil || !ok {
		return nil, false, err
	}
	return rec, true, nil
}

// EscrowPut stores an escrow record at its address.
func (m *Manager) EscrowPut(rec *escrow.Escrow) error {
	if rec == nil {
		return fmt.Errorf("state: nil escrow")
	}
	return m.KVPut(addressKey(escrowPrefix, rec.Address), rec)
}

// EscrowDelete removes the escrow record stored at addr.
func (m *Manager) EscrowDelete(addr [20]byte) error {
	return m.KVDelete(addressKey(escrowPrefix, addr))
}
