package indexmanager

import (
	"context"
	"fmt"

	"github.com/sushant-115/bonsaidb/core/indexing/bonsai"
	"github.com/sushant-115/bonsaidb/core/serialization"
	pagemanager "github.com/sushant-115/bonsaidb/core/write_engine/page_manager"
	"github.com/sushant-115/bonsaidb/core/write_engine/wal"
)

func bucketPage(ptr bonsai.BucketPointer) (pagemanager.PageID, error) {
	if !ptr.IsValid() || ptr.PageIndex == 0 || ptr.PageOffset < 0 {
		return pagemanager.InvalidPageID, fmt.Errorf("%w: %v", bonsai.ErrPositionOutOfRange, ptr)
	}
	return pagemanager.PageID(ptr.PageIndex), nil
}

// FormatBucket initializes an empty bucket at ptr as one logged page update.
func FormatBucket[K, V any](
	ctx context.Context,
	m IndexManager,
	ptr bonsai.BucketPointer,
	leaf bool,
	keySerializer serialization.BinarySerializer[K],
	valueSerializer serialization.BinarySerializer[V],
	opts bonsai.Options[K],
) (wal.LSN, error) {
	pageID, err := bucketPage(ptr)
	if err != nil {
		return wal.InvalidLSN, err
	}
	return m.Update(ctx, pageID, func(page pagemanager.Writer) error {
		_, err := bonsai.Format(page, int(ptr.PageOffset), leaf, keySerializer, valueSerializer, opts)
		return err
	})
}

// UpdateBucket runs fn on the bucket at ptr. Every change fn makes is logged
// as one page update, or rolled back if fn fails.
func UpdateBucket[K, V any](ctx context.Context, m IndexManager, ptr bonsai.BucketPointer, opts bonsai.Options[K], fn func(*bonsai.Bucket[K, V]) error) (wal.LSN, error) {
	pageID, err := bucketPage(ptr)
	if err != nil {
		return wal.InvalidLSN, err
	}
	return m.Update(ctx, pageID, func(page pagemanager.Writer) error {
		b, err := bonsai.Attach[K, V](page, int(ptr.PageOffset), opts)
		if err != nil {
			return err
		}
		return fn(b)
	})
}

// ViewBucket runs fn on a read-only view of the bucket at ptr.
func ViewBucket[K, V any](ctx context.Context, m IndexManager, ptr bonsai.BucketPointer, opts bonsai.Options[K], fn func(*bonsai.Bucket[K, V]) error) error {
	pageID, err := bucketPage(ptr)
	if err != nil {
		return err
	}
	return m.View(ctx, pageID, func(page pagemanager.Writer) error {
		b, err := bonsai.Attach[K, V](page, int(ptr.PageOffset), opts)
		if err != nil {
			return err
		}
		return fn(b)
	})
}
