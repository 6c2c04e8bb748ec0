package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAdvancesHead(t *testing.T) {
	j, err := OpenMemory()
	require.NoError(t, err)
	defer j.Close()

	_, ok, err := j.Head()
	require.NoError(t, err)
	require.False(t, ok)

	first, err := j.Append(Entry{Op: "escrow.make", Root: [32]byte{1}})
	require.NoError(t, err)
	require.Equal(t, uint64(1), first.Seq)
	require.NotZero(t, first.Time)

	second, err := j.Append(Entry{Op: "escrow.take", Root: [32]byte{2}})
	require.NoError(t, err)
	require.Equal(t, uint64(2), second.Seq)

	head, ok, err := j.Head()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "escrow.take", head.Op)
	require.Equal(t, [32]byte{2}, head.Root)
}

func TestJournalReopensAtHead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal")
	j, err := Open(path)
	require.NoError(t, err)
	for i := byte(1); i <= 3; i++ {
		_, err := j.Append(Entry{Op: "token.transfer", Root: [32]byte{i}})
		require.NoError(t, err)
	}
	require.NoError(t, j.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	head, ok, err := reopened.Head()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(3), head.Seq)
	require.Equal(t, [32]byte{3}, head.Root)

	next, err := reopened.Append(Entry{Op: "escrow.refund"})
	require.NoError(t, err)
	require.Equal(t, uint64(4), next.Seq)
}

func TestEntriesPaging(t *testing.T) {
	j, err := OpenMemory()
	require.NoError(t, err)
	defer j.Close()
	for i := 0; i < 5; i++ {
		_, err := j.Append(Entry{Op: "system.transfer"})
		require.NoError(t, err)
	}

	page, err := j.Entries(context.Background(), 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, uint64(2), page[0].Seq)
	require.Equal(t, uint64(3), page[1].Seq)

	rest, err := j.Entries(context.Background(), 4, 0)
	require.NoError(t, err)
	require.Len(t, rest, 2)

	entry, err := j.Get(5)
	require.NoError(t, err)
	require.Equal(t, "system.transfer", entry.Op)
}

func TestClosedJournal(t *testing.T) {
	j, err := OpenMemory()
	require.NoError(t, err)
	require.NoError(t, j.Close())
	_, err = j.Append(Entry{Op: "escrow.make"})
	require.ErrorIs(t, err, errClosed)
}
