package flushmanager

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// backupChunkSize is the size of each read/write chunk.
const backupChunkSize = 4 * 1024 * 1024 // 4 MiB

var backupBufPool = sync.Pool{
	New: func() interface{} { return make([]byte, backupChunkSize) },
}

// Backup copies the database file to dstPath while holding the file lock, so
// no page write interleaves with the copy. rateBytesPerSec throttles the copy;
// zero or less copies at full speed. It returns the SHA-256 of the copied
// bytes.
func (dm *DiskManager) Backup(ctx context.Context, dstPath string, rateBytesPerSec int64) ([]byte, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return nil, ErrFileNotOpen
	}
	if err := dm.file.Sync(); err != nil {
		return nil, fmt.Errorf("%w: sync before backup: %v", ErrIO, err)
	}

	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open dst: %w", err)
	}
	defer dst.Close()

	var limiter *rate.Limiter
	if rateBytesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(rateBytesPerSec), backupChunkSize) // burst = chunk
	}

	sum := sha256.New()
	buf := backupBufPool.Get().([]byte)
	defer backupBufPool.Put(buf)

	var readOff int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, rerr := dm.file.ReadAt(buf[:backupChunkSize], readOff)
		if n > 0 {
			if limiter != nil {
				if err := limiter.WaitN(ctx, n); err != nil {
					return nil, fmt.Errorf("rate limiter: %w", err)
				}
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return nil, fmt.Errorf("write error: %w", err)
			}
			sum.Write(buf[:n])
			readOff += int64(n)
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%w: read error: %v", ErrIO, rerr)
		}
	}

	if err := dst.Sync(); err != nil {
		return nil, fmt.Errorf("sync error: %w", err)
	}
	digest := sum.Sum(nil)
	dm.logger.Info("Backup complete",
		zap.String("dst", dstPath), zap.Int64("bytes", readOff), zap.String("sha256", fmt.Sprintf("%x", digest)))
	return digest, nil
}
