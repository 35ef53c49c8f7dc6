package flushmanager

import (
	"bytes"
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	pagemanager "github.com/sushant-115/bonsaidb/core/write_engine/page_manager"
)

const testPageSize = 4096

// --- Test Helpers ---

func setupDiskManager(t *testing.T) (*DiskManager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bonsai.db")
	dm, err := NewDiskManager(path, testPageSize, zap.NewNop())
	require.NoError(t, err)
	_, err = dm.OpenOrCreateFile(true, 1024)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })
	return dm, path
}

func filledPage(b byte) []byte {
	return bytes.Repeat([]byte{b}, testPageSize)
}

// --- Test Cases ---

func TestDiskManager_CreateAndReopen(t *testing.T) {
	dm, path := setupDiskManager(t)
	require.Equal(t, uint64(1), dm.NumPages())

	p1, err := dm.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, pagemanager.PageID(1), p1)
	p2, err := dm.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, pagemanager.PageID(2), p2)

	require.NoError(t, dm.WritePage(p2, filledPage(0xAB)))
	require.NoError(t, dm.UpdateHeaderField(func(h *DBFileHeader) {
		h.RootPageID = p1
		h.RootOffset = 1024
		h.TreeIdentifier = 99
		h.SetCheckpointLSN(pagemanager.LSN{Segment: 2, Position: 40})
	}))
	require.NoError(t, dm.Close())

	reopened, err := NewDiskManager(path, testPageSize, nil)
	require.NoError(t, err)
	header, err := reopened.OpenOrCreateFile(false, 0)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, DBMagic, header.Magic)
	require.Equal(t, uint32(1024), header.BucketSize)
	require.Equal(t, p1, header.RootPageID)
	require.Equal(t, uint32(1024), header.RootOffset)
	require.Equal(t, int64(99), header.TreeIdentifier)
	require.Equal(t, pagemanager.LSN{Segment: 2, Position: 40}, header.CheckpointLSN())
	require.Equal(t, uint64(3), reopened.NumPages())

	got := make([]byte, testPageSize)
	require.NoError(t, reopened.ReadPage(p2, got))
	require.Equal(t, filledPage(0xAB), got)
	require.NoError(t, reopened.ReadPage(p1, got))
	require.Equal(t, make([]byte, testPageSize), got)
}

func TestDiskManager_OpenErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.db")

	dm, err := NewDiskManager(path, testPageSize, nil)
	require.NoError(t, err)
	_, err = dm.OpenOrCreateFile(false, 0)
	require.ErrorIs(t, err, ErrDBFileNotFound)

	_, err = dm.OpenOrCreateFile(true, 1024)
	require.NoError(t, err)
	require.NoError(t, dm.Close())

	_, err = dm.OpenOrCreateFile(true, 1024)
	require.ErrorIs(t, err, ErrDBFileExists)

	other, err := NewDiskManager(path, 2*testPageSize, nil)
	require.NoError(t, err)
	_, err = other.OpenOrCreateFile(false, 0)
	require.ErrorIs(t, err, ErrPageSizeMismatch)

	garbage := filepath.Join(dir, "garbage.db")
	require.NoError(t, os.WriteFile(garbage, filledPage(0x11), 0644))
	bad, err := NewDiskManager(garbage, testPageSize, nil)
	require.NoError(t, err)
	_, err = bad.OpenOrCreateFile(false, 0)
	require.ErrorIs(t, err, ErrInvalidMagic)

	_, err = NewDiskManager(path, 16, nil)
	require.ErrorIs(t, err, ErrInvalidPageData)
}

func TestDiskManager_PageBounds(t *testing.T) {
	dm, _ := setupDiskManager(t)
	buf := make([]byte, testPageSize)

	require.ErrorIs(t, dm.ReadPage(pagemanager.InvalidPageID, buf), ErrInvalidPageID)
	require.ErrorIs(t, dm.WritePage(1, buf), ErrInvalidPageID)
	require.ErrorIs(t, dm.ReadPage(1, buf[:10]), ErrInvalidPageData)

	require.NoError(t, dm.Close())
	_, err := dm.AllocatePage()
	require.ErrorIs(t, err, ErrFileNotOpen)
	require.ErrorIs(t, dm.ReadPage(1, buf), ErrFileNotOpen)
}

func TestDiskManager_Backup(t *testing.T) {
	dm, path := setupDiskManager(t)
	for i := 0; i < 4; i++ {
		id, err := dm.AllocatePage()
		require.NoError(t, err)
		require.NoError(t, dm.WritePage(id, filledPage(byte(i+1))))
	}

	dst := filepath.Join(t.TempDir(), "backup.db")
	digest, err := dm.Backup(context.Background(), dst, 1<<30)
	require.NoError(t, err)

	src, err := os.ReadFile(path)
	require.NoError(t, err)
	copied, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, src, copied)
	want := sha256.Sum256(src)
	require.Equal(t, want[:], digest)

	// The backup is itself a valid database file.
	restored, err := NewDiskManager(dst, testPageSize, nil)
	require.NoError(t, err)
	_, err = restored.OpenOrCreateFile(false, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(5), restored.NumPages())
	require.NoError(t, restored.Close())
}

func TestDiskManager_BackupCancelled(t *testing.T) {
	dm, _ := setupDiskManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := dm.Backup(ctx, filepath.Join(t.TempDir(), "backup.db"), 0)
	require.ErrorIs(t, err, context.Canceled)
}
