package indexmanager

import (
	"context"

	pagemanager "github.com/sushant-115/bonsaidb/core/write_engine/page_manager"
	"github.com/sushant-115/bonsaidb/core/write_engine/wal"
)

// PageFunc works on one page. During Update the writer records every change
// so it can be logged or undone; during View writes fail with
// pagemanager.ErrReadOnly.
type PageFunc func(page pagemanager.Writer) error

// IndexManager defines the page-level operations bucket structures are built on.
type IndexManager interface {
	// Update runs fn against a page and logs what it changed. If fn fails the
	// page is restored and nothing is logged.
	Update(ctx context.Context, pageID pagemanager.PageID, fn PageFunc) (wal.LSN, error)
	View(ctx context.Context, pageID pagemanager.PageID, fn PageFunc) error
	AllocatePage(ctx context.Context) (pagemanager.PageID, error)
	// Recover re-applies logged page changes missing from the data file and
	// returns how many records it applied.
	Recover(ctx context.Context) (int, error)
	// Flush writes every dirty page back and records a checkpoint.
	Flush(ctx context.Context) error
	Close() error
	// Name returns the name/type of this index manager.
	Name() string
}
