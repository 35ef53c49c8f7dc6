package memtable

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	flushmanager "github.com/sushant-115/bonsaidb/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/bonsaidb/core/write_engine/page_manager"
)

const testPageSize = 1024

// --- Test Helpers ---

type countingSyncer struct {
	calls int
	err   error
}

func (s *countingSyncer) Sync() error {
	s.calls++
	return s.err
}

func setupBufferPool(t *testing.T, poolSize int) (*BufferPoolManager, *flushmanager.DiskManager, *countingSyncer) {
	t.Helper()
	dm, err := flushmanager.NewDiskManager(filepath.Join(t.TempDir(), "pool.db"), testPageSize, zap.NewNop())
	require.NoError(t, err)
	_, err = dm.OpenOrCreateFile(true, 256)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })

	syncer := &countingSyncer{}
	bpm, err := NewBufferPoolManager(poolSize, dm, syncer, zap.NewNop())
	require.NoError(t, err)
	return bpm, dm, syncer
}

func newFilledPage(t *testing.T, bpm *BufferPoolManager, b byte) pagemanager.PageID {
	t.Helper()
	page, id, err := bpm.NewPage()
	require.NoError(t, err)
	data := page.GetData()
	for i := pagemanager.LSNAnchorSize; i < len(data); i++ {
		data[i] = b
	}
	require.NoError(t, bpm.UnpinPage(id, true))
	return id
}

// --- Test Cases ---

func TestBufferPool_EvictionWritesBack(t *testing.T) {
	bpm, dm, _ := setupBufferPool(t, 2)

	p1 := newFilledPage(t, bpm, 0x01)
	p2 := newFilledPage(t, bpm, 0x02)
	p3 := newFilledPage(t, bpm, 0x03) // evicts p1

	onDisk := make([]byte, testPageSize)
	require.NoError(t, dm.ReadPage(p1, onDisk))
	require.Equal(t, byte(0x01), onDisk[testPageSize-1])

	// p1 comes back from disk and evicts p2, the least recently used.
	page, err := bpm.FetchPage(p1)
	require.NoError(t, err)
	require.Equal(t, byte(0x01), page.GetData()[pagemanager.LSNAnchorSize])
	require.False(t, page.IsDirty())
	require.NoError(t, bpm.UnpinPage(p1, false))

	require.NoError(t, dm.ReadPage(p2, onDisk))
	require.Equal(t, byte(0x02), onDisk[testPageSize-1])
	require.ElementsMatch(t, []pagemanager.PageID{p3}, bpm.DirtyPages())
}

func TestBufferPool_PinnedPagesStay(t *testing.T) {
	bpm, _, _ := setupBufferPool(t, 2)

	_, _, err := bpm.NewPage()
	require.NoError(t, err)
	_, _, err = bpm.NewPage()
	require.NoError(t, err)

	_, _, err = bpm.NewPage()
	require.ErrorIs(t, err, flushmanager.ErrBufferPoolFull)

	err = bpm.UnpinPage(pagemanager.PageID(42), false)
	require.ErrorIs(t, err, flushmanager.ErrPageNotFound)
}

func TestBufferPool_UnpinTwice(t *testing.T) {
	bpm, _, _ := setupBufferPool(t, 1)
	id := newFilledPage(t, bpm, 0x07)
	require.Error(t, bpm.UnpinPage(id, false))

	// Pins nest.
	_, err := bpm.FetchPage(id)
	require.NoError(t, err)
	page, err := bpm.FetchPage(id)
	require.NoError(t, err)
	require.Equal(t, uint32(2), page.GetPinCount())
	require.ErrorIs(t, bpm.InvalidatePage(id), flushmanager.ErrPagePinned)
	require.NoError(t, bpm.UnpinPage(id, false))
	require.NoError(t, bpm.UnpinPage(id, false))
}

// TestBufferPool_LogSyncedBeforeWriteBack checks the write-ahead rule: a page
// carrying a log position is only written after the log is synced.
func TestBufferPool_LogSyncedBeforeWriteBack(t *testing.T) {
	bpm, dm, syncer := setupBufferPool(t, 4)

	plain := newFilledPage(t, bpm, 0x05)
	require.NoError(t, bpm.FlushPage(plain))
	require.Equal(t, 0, syncer.calls)

	logged, _, err := bpm.NewPage()
	require.NoError(t, err)
	logged.SetLSN(pagemanager.LSN{Segment: 1, Position: 64})
	require.NoError(t, bpm.UnpinPage(logged.GetPageID(), true))

	syncer.err = errors.New("disk gone")
	require.ErrorIs(t, bpm.FlushPage(logged.GetPageID()), syncer.err)
	require.Contains(t, bpm.DirtyPages(), logged.GetPageID())

	syncer.err = nil
	require.NoError(t, bpm.FlushPage(logged.GetPageID()))
	require.Equal(t, 2, syncer.calls)
	require.Empty(t, bpm.DirtyPages())

	onDisk := make([]byte, testPageSize)
	require.NoError(t, dm.ReadPage(logged.GetPageID(), onDisk))
	require.Equal(t, pagemanager.LSN{Segment: 1, Position: 64}, pagemanager.ReadLSNAnchor(onDisk))
}

func TestBufferPool_FlushAllAndInvalidate(t *testing.T) {
	bpm, dm, syncer := setupBufferPool(t, 4)
	ids := []pagemanager.PageID{
		newFilledPage(t, bpm, 0x0A),
		newFilledPage(t, bpm, 0x0B),
		newFilledPage(t, bpm, 0x0C),
	}
	require.Len(t, bpm.DirtyPages(), 3)
	require.NoError(t, bpm.FlushAllPages())
	require.Equal(t, 1, syncer.calls)
	require.Empty(t, bpm.DirtyPages())

	for i, id := range ids {
		onDisk := make([]byte, testPageSize)
		require.NoError(t, dm.ReadPage(id, onDisk))
		require.Equal(t, byte(0x0A+i), onDisk[testPageSize-1])
	}

	// A cached change that is invalidated is lost; the disk copy wins.
	page, err := bpm.FetchPage(ids[0])
	require.NoError(t, err)
	page.GetData()[testPageSize-1] = 0xFF
	require.NoError(t, bpm.UnpinPage(ids[0], true))
	require.NoError(t, bpm.InvalidatePage(ids[0]))

	page, err = bpm.FetchPage(ids[0])
	require.NoError(t, err)
	require.Equal(t, byte(0x0A), page.GetData()[testPageSize-1])
	require.NoError(t, bpm.UnpinPage(ids[0], false))
}

func TestBufferPool_NewRejectsBadArguments(t *testing.T) {
	_, err := NewBufferPoolManager(4, nil, nil, nil)
	require.Error(t, err)

	_, dm, _ := setupBufferPool(t, 1)
	_, err = NewBufferPoolManager(0, dm, nil, nil)
	require.Error(t, err)
}
