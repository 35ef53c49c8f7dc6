package memtable

import (
	"container/list" // For LRU
	"errors"
	"fmt"
	"sync"
	"time"

	flushmanager "github.com/sushant-115/bonsaidb/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/bonsaidb/core/write_engine/page_manager"
	"go.uber.org/zap"
)

// PageStore is the disk side of the buffer pool. *flushmanager.DiskManager
// implements it.
type PageStore interface {
	ReadPage(pageID pagemanager.PageID, pageData []byte) error
	WritePage(pageID pagemanager.PageID, pageData []byte) error
	AllocatePage() (pagemanager.PageID, error)
	Sync() error
	GetPageSize() int
}

// LogSyncer makes logged page changes durable. It is called before a dirty
// page carrying a log position is written back.
type LogSyncer interface {
	Sync() error
}

// BufferPoolManager caches pages in a fixed number of frames and evicts the
// least recently used unpinned page when it needs a frame.
type BufferPoolManager struct {
	store     PageStore
	logSyncer LogSyncer
	logger    *zap.Logger
	poolSize  int
	pages     []*pagemanager.Page        // Page frames
	pageTable map[pagemanager.PageID]int // PageID to frame index
	lruList   *list.List                 // Frame indices, most recently used at the front
	mu        sync.Mutex
	pageSize  int
}

// NewBufferPoolManager creates a pool of poolSize frames. logSyncer may be nil
// when pages are not covered by a log.
func NewBufferPoolManager(poolSize int, store PageStore, logSyncer LogSyncer, logger *zap.Logger) (*BufferPoolManager, error) {
	if store == nil {
		return nil, errors.New("buffer pool: page store cannot be nil")
	}
	if poolSize <= 0 {
		return nil, fmt.Errorf("buffer pool: pool size must be positive, got %d", poolSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	bpm := &BufferPoolManager{
		store:     store,
		logSyncer: logSyncer,
		logger:    logger.Named("buffer_pool"),
		poolSize:  poolSize,
		pages:     make([]*pagemanager.Page, poolSize),
		pageTable: make(map[pagemanager.PageID]int),
		lruList:   list.New(),
		pageSize:  store.GetPageSize(),
	}
	for i := 0; i < poolSize; i++ {
		bpm.pages[i] = pagemanager.NewPage(pagemanager.InvalidPageID, bpm.pageSize)
	}
	bpm.logger.Info("BufferPoolManager initialized", zap.Int("pool_size", poolSize), zap.Int("page_size", bpm.pageSize))
	return bpm, nil
}

// FetchPage returns the page pinned, reading it from disk if it is not cached.
func (bpm *BufferPoolManager) FetchPage(pageID pagemanager.PageID) (*pagemanager.Page, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	if frameIdx, ok := bpm.pageTable[pageID]; ok {
		page := bpm.pages[frameIdx]
		page.Pin()
		if page.GetLruElement() != nil {
			bpm.lruList.MoveToFront(page.GetLruElement())
		}
		return page, nil
	}

	frameIdx, err := bpm.claimFrameInternal()
	if err != nil {
		bpm.logger.Error("Failed to get victim frame", zap.Uint64("page_id", pageID.GetID()), zap.Error(err))
		return nil, err
	}
	page := bpm.pages[frameIdx]
	if err := bpm.store.ReadPage(pageID, page.GetData()); err != nil {
		page.Reset()
		return nil, fmt.Errorf("failed to read page %d from disk: %w", pageID, err)
	}
	bpm.installInternal(frameIdx, pageID, false)
	bpm.logger.Debug("Page loaded", zap.Uint64("page_id", pageID.GetID()), zap.Int("frame", frameIdx))
	return page, nil
}

// NewPage allocates a zeroed page on disk and returns it pinned and dirty.
func (bpm *BufferPoolManager) NewPage() (*pagemanager.Page, pagemanager.PageID, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	// Claim the frame first so that a full pool does not orphan a disk page.
	frameIdx, err := bpm.claimFrameInternal()
	if err != nil {
		return nil, pagemanager.InvalidPageID, err
	}
	newPageID, err := bpm.store.AllocatePage()
	if err != nil {
		bpm.logger.Error("Failed to allocate new page on disk", zap.Error(err))
		return nil, pagemanager.InvalidPageID, err
	}
	bpm.installInternal(frameIdx, newPageID, true)
	bpm.logger.Debug("New page allocated", zap.Uint64("page_id", newPageID.GetID()), zap.Int("frame", frameIdx))
	return bpm.pages[frameIdx], newPageID, nil
}

func (bpm *BufferPoolManager) installInternal(frameIdx int, pageID pagemanager.PageID, dirty bool) {
	page := bpm.pages[frameIdx]
	page.SetPageID(pageID)
	page.SetPinCount(1)
	page.SetDirty(dirty)
	page.UpdatedAt(time.Now())
	bpm.pageTable[pageID] = frameIdx
	page.SetLruElement(bpm.lruList.PushFront(frameIdx))
}

// claimFrameInternal returns an empty frame, evicting the least recently
// used unpinned page if every frame is taken. A dirty victim is written back
// first. Must be called with bpm.mu held.
func (bpm *BufferPoolManager) claimFrameInternal() (int, error) {
	frameIdx := -1
	for i, page := range bpm.pages {
		if page.GetPageID() == pagemanager.InvalidPageID {
			frameIdx = i
			break
		}
	}
	if frameIdx < 0 {
		for e := bpm.lruList.Back(); e != nil; e = e.Prev() {
			idx := e.Value.(int)
			if bpm.pages[idx].GetPinCount() == 0 {
				frameIdx = idx
				break
			}
		}
	}
	if frameIdx < 0 {
		return -1, flushmanager.ErrBufferPoolFull
	}

	victim := bpm.pages[frameIdx]
	if victim.GetPageID() != pagemanager.InvalidPageID {
		if victim.IsDirty() {
			bpm.logger.Debug("Flushing dirty victim", zap.Uint64("page_id", victim.GetPageID().GetID()), zap.Int("frame", frameIdx))
			if err := bpm.writeBackInternal(victim); err != nil {
				return -1, fmt.Errorf("failed to flush dirty victim page %d: %w", victim.GetPageID(), err)
			}
		}
		delete(bpm.pageTable, victim.GetPageID())
		if victim.GetLruElement() != nil {
			bpm.lruList.Remove(victim.GetLruElement())
		}
	}
	victim.Reset()
	return frameIdx, nil
}

// writeBackInternal makes the log durable up to the page's LSN, then writes
// the page. Must be called with bpm.mu held.
func (bpm *BufferPoolManager) writeBackInternal(page *pagemanager.Page) error {
	if bpm.logSyncer != nil && page.GetLSN().IsValid() {
		if err := bpm.logSyncer.Sync(); err != nil {
			return fmt.Errorf("failed to flush log for page %d: %w", page.GetPageID(), err)
		}
	}
	if err := bpm.store.WritePage(page.GetPageID(), page.GetData()); err != nil {
		return err
	}
	page.SetDirty(false)
	return nil
}

// UnpinPage releases one pin. isDirty marks the page for write-back; it never
// clears an earlier dirty mark.
func (bpm *BufferPoolManager) UnpinPage(pageID pagemanager.PageID, isDirty bool) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	frameIdx, ok := bpm.pageTable[pageID]
	if !ok {
		return fmt.Errorf("%w: page %d not found to unpin", flushmanager.ErrPageNotFound, pageID)
	}
	page := bpm.pages[frameIdx]
	if page.GetPinCount() == 0 {
		bpm.logger.Warn("Attempted to unpin page with pin count 0", zap.Uint64("page_id", pageID.GetID()))
		return fmt.Errorf("cannot unpin page %d with pin count 0", pageID)
	}
	page.Unpin()
	if isDirty {
		page.SetDirty(true)
		page.UpdatedAt(time.Now())
	}
	return nil
}

// FlushPage writes a cached page back if it is dirty.
func (bpm *BufferPoolManager) FlushPage(pageID pagemanager.PageID) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	frameIdx, ok := bpm.pageTable[pageID]
	if !ok {
		return fmt.Errorf("%w: page %d not found to flush", flushmanager.ErrPageNotFound, pageID)
	}
	page := bpm.pages[frameIdx]
	if !page.IsDirty() {
		return nil
	}
	return bpm.writeBackInternal(page)
}

// FlushAllPages writes back every dirty page and syncs the store. It keeps
// going after a failed page and returns the first error.
func (bpm *BufferPoolManager) FlushAllPages() error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	var firstErr error
	// One log sync covers every page below.
	if bpm.logSyncer != nil {
		if firstErr = bpm.logSyncer.Sync(); firstErr != nil {
			bpm.logger.Error("Failed to flush log before flushing pages", zap.Error(firstErr))
			return firstErr
		}
	}
	flushed := 0
	for _, page := range bpm.pages {
		if page.GetPageID() == pagemanager.InvalidPageID || !page.IsDirty() {
			continue
		}
		if err := bpm.store.WritePage(page.GetPageID(), page.GetData()); err != nil {
			bpm.logger.Error("Error flushing page", zap.Uint64("page_id", page.GetPageID().GetID()), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		page.SetDirty(false)
		flushed++
	}
	if err := bpm.store.Sync(); err != nil && firstErr == nil {
		firstErr = err
	}
	bpm.logger.Debug("Finished FlushAllPages", zap.Int("flushed", flushed))
	return firstErr
}

// InvalidatePage drops a cached page without writing it back, so the next
// FetchPage reads it from disk. Pinned pages cannot be invalidated.
func (bpm *BufferPoolManager) InvalidatePage(pageID pagemanager.PageID) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	frameIdx, ok := bpm.pageTable[pageID]
	if !ok {
		return nil
	}
	page := bpm.pages[frameIdx]
	if page.GetPinCount() > 0 {
		return fmt.Errorf("%w: page %d has %d pins", flushmanager.ErrPagePinned, pageID, page.GetPinCount())
	}
	delete(bpm.pageTable, pageID)
	if page.GetLruElement() != nil {
		bpm.lruList.Remove(page.GetLruElement())
	}
	page.Reset()
	return nil
}

// DirtyPages lists the ids of cached pages not yet written back.
func (bpm *BufferPoolManager) DirtyPages() []pagemanager.PageID {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	var ids []pagemanager.PageID
	for _, page := range bpm.pages {
		if page.GetPageID() != pagemanager.InvalidPageID && page.IsDirty() {
			ids = append(ids, page.GetPageID())
		}
	}
	return ids
}

func (bpm *BufferPoolManager) GetPageSize() int { return bpm.pageSize }

func (bpm *BufferPoolManager) PoolSize() int { return bpm.poolSize }
