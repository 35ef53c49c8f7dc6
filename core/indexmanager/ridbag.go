package indexmanager

import (
	"context"
	"fmt"

	"github.com/sushant-115/bonsaidb/core/indexing/bonsai"
	"github.com/sushant-115/bonsaidb/core/serialization"
	flushmanager "github.com/sushant-115/bonsaidb/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/bonsaidb/core/write_engine/page_manager"
	"go.uber.org/zap"
)

// RidBag counts references to records in a single root leaf bucket. Keys are
// record ids; values are reference counts. A bag that outgrows its bucket
// reports bonsai.ErrBucketFull; splitting into a tree is up to the caller.
type RidBag struct {
	m      *BonsaiIndexManager
	root   bonsai.BucketPointer
	opts   bonsai.Options[serialization.Identifiable]
	logger *zap.Logger
}

type ridBucket = bonsai.Bucket[serialization.Identifiable, int32]

// OpenRidBag returns the bag rooted in the data file header, creating the
// root bucket on first use.
func OpenRidBag(ctx context.Context, m *BonsaiIndexManager) (*RidBag, error) {
	cfg := m.Config()
	bag := &RidBag{
		m: m,
		opts: bonsai.Options[serialization.Identifiable]{
			BucketSize: cfg.Storage.BucketSize,
			Compare:    serialization.CompareRID,
			Legacy:     cfg.Storage.LegacyFormat,
		},
		logger: m.logger.Named("ridbag"),
	}

	header := m.Header()
	if header.RootPageID != 0 {
		bag.root = bonsai.BucketPointer{PageIndex: int64(header.RootPageID), PageOffset: int32(header.RootOffset)}
		return bag, nil
	}

	pageID, err := m.AllocatePage(ctx)
	if err != nil {
		return nil, err
	}
	root, err := m.BucketPointerFor(pageID, 0)
	if err != nil {
		return nil, err
	}
	treeID := bonsai.NewRootIdentifier()
	_, err = m.Update(ctx, pageID, func(page pagemanager.Writer) error {
		b, err := bonsai.Format[serialization.Identifiable, int32](page, int(root.PageOffset), true,
			serialization.LinkSerializer{}, serialization.IntegerSerializer{}, bag.opts)
		if err != nil {
			return err
		}
		return b.SetIdentifier(treeID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to format root bucket: %w", err)
	}
	// The header must never point at a root whose format is not durable.
	if err := m.lm.Sync(); err != nil {
		return nil, err
	}
	if err := m.UpdateHeader(func(h *flushmanager.DBFileHeader) {
		h.RootPageID = pageID
		h.RootOffset = uint32(root.PageOffset)
		h.TreeIdentifier = treeID
	}); err != nil {
		return nil, err
	}
	bag.root = root
	bag.logger.Info("Created root bucket", zap.Stringer("root", root), zap.Int64("tree_id", treeID))
	return bag, nil
}

func (r *RidBag) Root() bonsai.BucketPointer { return r.root }

// Put sets the count for rid, inserting it if absent. A count whose encoding
// changes length is moved by removing and re-adding the entry inside the same
// logged update.
func (r *RidBag) Put(ctx context.Context, rid serialization.RID, count int32) error {
	if count < 0 {
		return fmt.Errorf("%w: negative count %d", serialization.ErrValueOutOfRange, count)
	}
	_, err := UpdateBucket(ctx, r.m, r.root, r.opts, func(b *ridBucket) error {
		idx, err := b.Find(rid)
		if err != nil {
			return err
		}
		if idx < 0 {
			if err := r.add(b, -idx-1, rid, count); err != nil {
				return err
			}
			return r.addTreeSize(b, 1)
		}
		res, err := b.UpdateValue(idx, count)
		if err != nil || res != bonsai.Reinsert {
			return err
		}
		if err := b.Remove(idx); err != nil {
			return err
		}
		return r.add(b, idx, rid, count)
	})
	return err
}

func (r *RidBag) add(b *ridBucket, idx int, rid serialization.RID, count int32) error {
	ok, err := b.AddEntry(idx, bonsai.LeafEntry[serialization.Identifiable](serialization.Identifiable(rid), count), false)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: root bucket %v", bonsai.ErrBucketFull, r.root)
	}
	return nil
}

func (r *RidBag) addTreeSize(b *ridBucket, delta int64) error {
	n, err := b.TreeSize()
	if err != nil {
		return err
	}
	return b.SetTreeSize(n + delta)
}

// Get returns the count stored for rid.
func (r *RidBag) Get(ctx context.Context, rid serialization.RID) (int32, bool, error) {
	var (
		count int32
		found bool
	)
	err := ViewBucket(ctx, r.m, r.root, r.opts, func(b *ridBucket) error {
		idx, err := b.Find(rid)
		if err != nil || idx < 0 {
			return err
		}
		e, err := b.GetEntry(idx)
		if err != nil {
			return err
		}
		count, found = e.Value, true
		return nil
	})
	return count, found, err
}

// Delete removes rid and reports whether it was present.
func (r *RidBag) Delete(ctx context.Context, rid serialization.RID) (bool, error) {
	found := false
	_, err := UpdateBucket(ctx, r.m, r.root, r.opts, func(b *ridBucket) error {
		idx, err := b.Find(rid)
		if err != nil || idx < 0 {
			return err
		}
		found = true
		if err := b.Remove(idx); err != nil {
			return err
		}
		return r.addTreeSize(b, -1)
	})
	return found && err == nil, err
}

// Entries returns every (rid, count) pair in key order.
func (r *RidBag) Entries(ctx context.Context) ([]bonsai.Entry[serialization.Identifiable, int32], error) {
	var out []bonsai.Entry[serialization.Identifiable, int32]
	err := ViewBucket(ctx, r.m, r.root, r.opts, func(b *ridBucket) error {
		size, err := b.Size()
		if err != nil {
			return err
		}
		out = make([]bonsai.Entry[serialization.Identifiable, int32], 0, size)
		for i := 0; i < size; i++ {
			e, err := b.GetEntry(i)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// Clear reformats the root bucket, dropping every entry. The tree
// identifier survives.
func (r *RidBag) Clear(ctx context.Context) error {
	treeID := r.m.Header().TreeIdentifier
	pageID, err := bucketPage(r.root)
	if err != nil {
		return err
	}
	_, err = r.m.Update(ctx, pageID, func(page pagemanager.Writer) error {
		b, err := bonsai.Format[serialization.Identifiable, int32](page, int(r.root.PageOffset), true,
			serialization.LinkSerializer{}, serialization.IntegerSerializer{}, r.opts)
		if err != nil {
			return err
		}
		return b.SetIdentifier(treeID)
	})
	return err
}

// BagStats summarizes the root bucket.
type BagStats struct {
	Entries    int
	TreeSize   int64
	FreeSpace  int
	Version    byte
	Identifier int64
}

func (r *RidBag) Stats(ctx context.Context) (BagStats, error) {
	var st BagStats
	err := ViewBucket(ctx, r.m, r.root, r.opts, func(b *ridBucket) error {
		var err error
		if st.Entries, err = b.Size(); err != nil {
			return err
		}
		if st.TreeSize, err = b.TreeSize(); err != nil {
			return err
		}
		if st.FreeSpace, err = b.FreeSpace(); err != nil {
			return err
		}
		if st.Identifier, err = b.Identifier(); err != nil {
			return err
		}
		st.Version = b.Version()
		return nil
	})
	return st, err
}
