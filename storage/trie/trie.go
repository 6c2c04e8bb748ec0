package trie

import (
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/trie/trienode"
	"github.com/ethereum/go-ethereum/triedb"

	"escrowchain/storage"
)

// Trie is the authenticated key/value store holding program state. Callers
// hash keys before they reach the trie. A Trie is not safe for concurrent
// use; the ledger mutates private copies and swaps them in on commit.
type Trie struct {
	db    *triedb.Database
	inner *gethtrie.Trie
	root  common.Hash
}

// NewTrie opens the trie at root. An empty root opens the empty trie.
func NewTrie(store storage.Database, root []byte) (*Trie, error) {
	rootHash := gethtypes.EmptyRootHash
	if len(root) > 0 {
		rootHash = common.BytesToHash(root)
	}
	t := &Trie{db: store.TrieDB()}
	if err := t.open(rootHash); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Trie) open(root common.Hash) error {
	inner, err := gethtrie.New(gethtrie.TrieID(root), t.db)
	if err != nil {
		return err
	}
	t.inner = inner
	t.root = root
	return nil
}

// Get returns the value at key, or nil when absent.
func (t *Trie) Get(key []byte) ([]byte, error) { return t.inner.Get(key) }

// Update writes value at key.
func (t *Trie) Update(key, value []byte) error { return t.inner.Update(key, value) }

// Delete removes key. Missing keys are ignored.
func (t *Trie) Delete(key []byte) error { return t.inner.Delete(key) }

// Hash returns the root over all pending writes.
func (t *Trie) Hash() common.Hash { return t.inner.Hash() }

// Root returns the last committed root.
func (t *Trie) Root() common.Hash { return t.root }

// Copy returns an independent trie over the same database. Writes to the
// copy are invisible to t until the copy is committed and adopted.
func (t *Trie) Copy() *Trie {
	return &Trie{db: t.db, inner: t.inner.Copy(), root: t.root}
}

// Commit flushes pending writes as state version seq and reopens the trie at
// the new root.
func (t *Trie) Commit(seq uint64) (common.Hash, error) {
	root, nodes := t.inner.Commit(false)
	if nodes != nil {
		set := trienode.NewMergedNodeSet()
		if err := set.Merge(nodes); err != nil {
			return common.Hash{}, err
		}
		if err := t.db.Update(root, t.root, seq, set, nil); err != nil {
			return common.Hash{}, err
		}
		if err := t.db.Commit(root, false); err != nil {
			return common.Hash{}, err
		}
	}
	if err := t.open(root); err != nil {
		return common.Hash{}, err
	}
	return root, nil
}
