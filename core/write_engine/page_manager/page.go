package pagemanager

import (
	"container/list" // For LRU
	"encoding/binary"
	"sync"
	"time"
)

// --- Page Management ---

const (
	InvalidPageID PageID = 0 // Page 0 holds the file header

	// LSNAnchorOffset is where every page keeps the LSN of the last record
	// applied to it. Bucket headers start with the same anchor.
	LSNAnchorOffset = 0
	LSNAnchorSize   = 16
)

// PageID represents a unique identifier for a page on disk.
type PageID uint64

func (p PageID) GetID() uint64 { return uint64(p) }

// LSN locates a record in the write-ahead log: the segment it lives in and
// its byte position inside that segment.
type LSN struct {
	Segment  int64
	Position int64
}

// InvalidLSN sorts before every real log position.
var InvalidLSN = LSN{Segment: -1, Position: -1}

// Compare orders LSNs by segment, then position.
func (l LSN) Compare(other LSN) int {
	switch {
	case l.Segment < other.Segment:
		return -1
	case l.Segment > other.Segment:
		return 1
	case l.Position < other.Position:
		return -1
	case l.Position > other.Position:
		return 1
	}
	return 0
}

func (l LSN) IsValid() bool { return l.Segment >= 0 && l.Position >= 0 }

// ReadLSNAnchor decodes the LSN anchor at the start of a page or bucket.
// A zeroed anchor reads as InvalidLSN.
func ReadLSNAnchor(data []byte) LSN {
	if len(data) < LSNAnchorOffset+LSNAnchorSize {
		return InvalidLSN
	}
	seg := int64(binary.LittleEndian.Uint64(data[LSNAnchorOffset:]))
	pos := int64(binary.LittleEndian.Uint64(data[LSNAnchorOffset+8:]))
	// Stored biased by one so that fresh zeroed pages carry no LSN.
	return LSN{Segment: seg - 1, Position: pos - 1}
}

// WriteLSNAnchor stores lsn in the anchor field of data.
func WriteLSNAnchor(data []byte, lsn LSN) {
	if len(data) < LSNAnchorOffset+LSNAnchorSize {
		return
	}
	binary.LittleEndian.PutUint64(data[LSNAnchorOffset:], uint64(lsn.Segment+1))
	binary.LittleEndian.PutUint64(data[LSNAnchorOffset+8:], uint64(lsn.Position+1))
}

// Page represents an in-memory copy of a disk page.
type Page struct {
	id       PageID
	data     []byte
	pinCount uint32
	isDirty  bool
	// For LRU
	lruElement *list.Element

	// latch protects the in-memory contents of this page.
	latch     sync.RWMutex
	updatedAt time.Time
}

// NewPage creates a new Page instance.
func NewPage(id PageID, size int) *Page {
	return &Page{
		id:   id,
		data: make([]byte, size),
	}
}

func (p *Page) Reset() {
	p.id = InvalidPageID
	p.pinCount = 0
	p.isDirty = false
	p.lruElement = nil
	clear(p.data)
}

func (p *Page) GetLruElement() *list.Element     { return p.lruElement }
func (p *Page) SetLruElement(elem *list.Element) { p.lruElement = elem }
func (p *Page) GetData() []byte                  { return p.data }
func (p *Page) SetData(newData []byte) bool      { copy(p.data, newData); return true }
func (p *Page) GetPageID() PageID                { return p.id }
func (p *Page) SetPageID(id PageID)              { p.id = id }
func (p *Page) IsDirty() bool                    { return p.isDirty }
func (p *Page) Pin()                             { p.pinCount++ }
func (p *Page) Unpin() {
	if p.pinCount > 0 {
		p.pinCount--
	}
}
func (p *Page) GetPinCount() uint32     { return p.pinCount }
func (p *Page) SetPinCount(n uint32)    { p.pinCount = n }
func (p *Page) SetDirty(dirty bool)     { p.isDirty = dirty }
func (p *Page) GetLSN() LSN             { return ReadLSNAnchor(p.data) }
func (p *Page) SetLSN(lsn LSN)          { WriteLSNAnchor(p.data, lsn) }
func (p *Page) UpdatedAt(t time.Time)   { p.updatedAt = t }
func (p *Page) GetUpdatedAt() time.Time { return p.updatedAt }

// RLock acquires a read (shared) latch on the page.
func (p *Page) RLock() { p.latch.RLock() }

// RUnlock releases a read (shared) latch on the page.
func (p *Page) RUnlock() { p.latch.RUnlock() }

// Lock acquires a write (exclusive) latch on the page.
func (p *Page) Lock() { p.latch.Lock() }

func (p *Page) TryLock() bool { return p.latch.TryLock() }

// Unlock releases a write (exclusive) latch on the page.
func (p *Page) Unlock() { p.latch.Unlock() }
