package journal

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	entryPrefix = []byte("entry:")
	headKey     = []byte("head")

	errClosed = errors.New("journal: closed")
)

// Entry records one committed ledger operation and the state root it produced.
type Entry struct {
	Seq    uint64
	Op     string
	Signer [20]byte
	TxHash [32]byte
	Root   [32]byte
	Time   uint64
}

// Timestamp returns the commit time of the entry.
func (e *Entry) Timestamp() time.Time {
	return time.Unix(0, int64(e.Time)).UTC()
}

// Journal is an append-only log of committed operations backed by LevelDB.
// The head entry names the state root the ledger must reopen at.
type Journal struct {
	mu   sync.Mutex
	db   *leveldb.DB
	head uint64
	now  func() time.Time
}

// Open opens (or creates) a journal at path.
func Open(path string) (*Journal, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("journal path required")
	}
	db, err := leveldb.OpenFile(filepath.Clean(trimmed), nil)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return newJournal(db)
}

// OpenMemory returns a journal that keeps its log in memory.
func OpenMemory() (*Journal, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open memory journal: %w", err)
	}
	return newJournal(db)
}

func newJournal(db *leveldb.DB) (*Journal, error) {
	j := &Journal{db: db, now: time.Now}
	raw, err := db.Get(headKey, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
	case err != nil:
		_ = db.Close()
		return nil, fmt.Errorf("load journal head: %w", err)
	default:
		j.head = binary.BigEndian.Uint64(raw)
	}
	return j, nil
}

// Close releases the underlying LevelDB resources.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

// Append assigns the next sequence number to entry, stamps it and writes it
// together with the new head in a single batch.
func (j *Journal) Append(entry Entry) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil, errClosed
	}
	entry.Seq = j.head + 1
	if entry.Time == 0 {
		entry.Time = uint64(j.now().UnixNano())
	}
	encoded, err := rlp.EncodeToBytes(&entry)
	if err != nil {
		return nil, fmt.Errorf("encode journal entry: %w", err)
	}
	batch := new(leveldb.Batch)
	batch.Put(entryKey(entry.Seq), encoded)
	batch.Put(headKey, encodeSeq(entry.Seq))
	if err := j.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return nil, fmt.Errorf("write journal entry: %w", err)
	}
	j.head = entry.Seq
	return &entry, nil
}

// Head returns the most recent entry. The boolean is false for an empty
// journal.
func (j *Journal) Head() (*Entry, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil, false, errClosed
	}
	if j.head == 0 {
		return nil, false, nil
	}
	entry, err := j.get(j.head)
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

// Get returns the entry with sequence number seq.
func (j *Journal) Get(seq uint64) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil, errClosed
	}
	return j.get(seq)
}

func (j *Journal) get(seq uint64) (*Entry, error) {
	raw, err := j.db.Get(entryKey(seq), nil)
	if err != nil {
		return nil, fmt.Errorf("load journal entry %d: %w", seq, err)
	}
	entry := new(Entry)
	if err := rlp.DecodeBytes(raw, entry); err != nil {
		return nil, fmt.Errorf("decode journal entry %d: %w", seq, err)
	}
	return entry, nil
}

// Entries returns up to limit entries starting at sequence number from. A
// non-positive limit returns every remaining entry.
func (j *Journal) Entries(ctx context.Context, from uint64, limit int) ([]*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil, errClosed
	}
	iter := j.db.NewIterator(util.BytesPrefix(entryPrefix), nil)
	defer iter.Release()

	out := make([]*Entry, 0)
	for ok := iter.Seek(entryKey(from)); ok; ok = iter.Next() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		entry := new(Entry)
		if err := rlp.DecodeBytes(iter.Value(), entry); err != nil {
			return nil, fmt.Errorf("decode journal entry: %w", err)
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return out, nil
}

func entryKey(seq uint64) []byte {
	key := make([]byte, len(entryPrefix)+8)
	copy(key, entryPrefix)
	binary.BigEndian.PutUint64(key[len(entryPrefix):], seq)
	return key
}

func encodeSeq(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}
