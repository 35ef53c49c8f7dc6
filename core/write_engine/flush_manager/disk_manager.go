package flushmanager

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	pagemanager "github.com/sushant-115/bonsaidb/core/write_engine/page_manager"
	"go.uber.org/zap"
)

// --- DiskManager ---

const (
	DBMagic         uint32 = 0x424F4E53 // "BONS"
	DBFormatVersion uint32 = 1

	dbFileHeaderSize = 64
)

// DBFileHeader is stored at the start of page 0. All fields have fixed sizes
// so binary.Read/Write produce the same layout on every platform.
type DBFileHeader struct {
	Magic      uint32
	Version    uint32
	PageSize   uint32
	BucketSize uint32
	// RootPageID and RootOffset locate the root bucket of the tree; a zero
	// RootPageID means the tree has not been created yet.
	RootPageID     pagemanager.PageID
	RootOffset     uint32
	_              uint32
	TreeIdentifier int64
	// CheckpointLSN is the log position every flushed page is known to cover.
	CheckpointSegment  int64
	CheckpointPosition int64
	_                  [dbFileHeaderSize - (6*4 + 4*8)]byte
}

func (h *DBFileHeader) CheckpointLSN() pagemanager.LSN {
	return pagemanager.LSN{Segment: h.CheckpointSegment, Position: h.CheckpointPosition}
}

func (h *DBFileHeader) SetCheckpointLSN(lsn pagemanager.LSN) {
	h.CheckpointSegment, h.CheckpointPosition = lsn.Segment, lsn.Position
}

// DiskManager is responsible for direct I/O against the database file. Page 0
// holds the file header; data pages start at 1.
type DiskManager struct {
	filePath string
	file     *os.File
	pageSize int
	numPages uint64
	header   DBFileHeader
	logger   *zap.Logger
	mu       sync.Mutex
}

func NewDiskManager(filePath string, pageSize int, logger *zap.Logger) (*DiskManager, error) {
	if pageSize < dbFileHeaderSize {
		return nil, fmt.Errorf("%w: page size %d is smaller than the %d byte file header", ErrInvalidPageData, pageSize, dbFileHeaderSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiskManager{
		filePath: filePath,
		pageSize: pageSize,
		logger:   logger.Named("disk_manager"),
	}, nil
}

// OpenOrCreateFile opens an existing database file or creates a new one.
// create selects which of the two is expected; the other case is an error.
func (dm *DiskManager) OpenOrCreateFile(create bool, bucketSize int) (*DBFileHeader, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	_, statErr := os.Stat(dm.filePath)
	switch {
	case errors.Is(statErr, os.ErrNotExist):
		if !create {
			return nil, fmt.Errorf("%w: %s", ErrDBFileNotFound, dm.filePath)
		}
		file, err := os.OpenFile(dm.filePath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
		if err != nil {
			return nil, fmt.Errorf("%w: creating file %s: %v", ErrIO, dm.filePath, err)
		}
		dm.file = file
		dm.header = DBFileHeader{
			Magic:      DBMagic,
			Version:    DBFormatVersion,
			PageSize:   uint32(dm.pageSize),
			BucketSize: uint32(bucketSize),
		}
		dm.header.SetCheckpointLSN(pagemanager.InvalidLSN)
		if err := dm.writeHeader(&dm.header); err != nil {
			_ = dm.file.Close()
			dm.file = nil
			_ = os.Remove(dm.filePath)
			return nil, fmt.Errorf("failed to write initial header: %w", err)
		}
		dm.logger.Info("Created database file", zap.String("path", dm.filePath), zap.Int("page_size", dm.pageSize))

	case statErr == nil:
		if create {
			return nil, fmt.Errorf("%w: %s", ErrDBFileExists, dm.filePath)
		}
		file, err := os.OpenFile(dm.filePath, os.O_RDWR, 0666)
		if err != nil {
			return nil, fmt.Errorf("%w: opening file %s: %v", ErrIO, dm.filePath, err)
		}
		dm.file = file
		if err := dm.readHeader(&dm.header); err != nil {
			dm.closeInternal()
			return nil, fmt.Errorf("failed to read database header: %w", err)
		}
		if dm.header.Magic != DBMagic {
			dm.logger.Debug("Magic number mismatch", zap.Uint32("expected", DBMagic), zap.Uint32("got", dm.header.Magic))
			dm.closeInternal()
			return nil, fmt.Errorf("%w: 0x%x in %s", ErrInvalidMagic, dm.header.Magic, dm.filePath)
		}
		if dm.header.PageSize != uint32(dm.pageSize) {
			dm.closeInternal()
			return nil, fmt.Errorf("%w: file has %d, configured %d", ErrPageSizeMismatch, dm.header.PageSize, dm.pageSize)
		}

	default:
		return nil, fmt.Errorf("%w: stating file %s: %v", ErrIO, dm.filePath, statErr)
	}

	fi, err := dm.file.Stat()
	if err != nil {
		dm.closeInternal()
		return nil, fmt.Errorf("%w: getting file info: %v", ErrIO, err)
	}
	dm.numPages = uint64(fi.Size()) / uint64(dm.pageSize)
	header := dm.header
	return &header, nil
}

// writeHeader writes the header as a full page 0 so that the file length is
// always a whole number of pages.
func (dm *DiskManager) writeHeader(header *DBFileHeader) error {
	buf := bytes.NewBuffer(make([]byte, 0, dm.pageSize))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("%w: serializing header: %v", ErrSerialization, err)
	}
	if buf.Len() != dbFileHeaderSize {
		return fmt.Errorf("%w: header serialized to %d bytes, want %d", ErrSerialization, buf.Len(), dbFileHeaderSize)
	}
	page := make([]byte, dm.pageSize)
	copy(page, buf.Bytes())
	if _, err := dm.file.WriteAt(page, 0); err != nil {
		return fmt.Errorf("%w: writing header to disk: %v", ErrIO, err)
	}
	return dm.file.Sync()
}

func (dm *DiskManager) readHeader(header *DBFileHeader) error {
	data := make([]byte, dbFileHeaderSize)
	n, err := dm.file.ReadAt(data, 0)
	if err != nil {
		if errors.Is(err, io.EOF) && n < dbFileHeaderSize {
			return fmt.Errorf("%w: database file is too small (header too short)", ErrInvalidPageData)
		}
		return fmt.Errorf("%w: reading header from disk: %v", ErrIO, err)
	}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, header); err != nil {
		return fmt.Errorf("%w: deserializing header: %v", ErrDeserialization, err)
	}
	dm.logger.Debug("Read header from disk",
		zap.Uint32("magic", header.Magic), zap.Uint32("version", header.Version), zap.Uint32("page_size", header.PageSize))
	return nil
}

// Header returns a copy of the cached file header.
func (dm *DiskManager) Header() DBFileHeader {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.header
}

// UpdateHeaderField applies updateFunc to the header and persists it.
func (dm *DiskManager) UpdateHeaderField(updateFunc func(header *DBFileHeader)) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return ErrFileNotOpen
	}
	header := dm.header
	updateFunc(&header)
	if err := dm.writeHeader(&header); err != nil {
		return err
	}
	dm.header = header
	return nil
}

func (dm *DiskManager) checkPage(pageID pagemanager.PageID, pageData []byte) error {
	if dm.file == nil {
		return ErrFileNotOpen
	}
	if len(pageData) != dm.pageSize {
		return fmt.Errorf("%w: buffer of %d bytes, page size is %d", ErrInvalidPageData, len(pageData), dm.pageSize)
	}
	if pageID == pagemanager.InvalidPageID || uint64(pageID) >= dm.numPages {
		return fmt.Errorf("%w: %d (file has %d pages)", ErrInvalidPageID, pageID, dm.numPages)
	}
	return nil
}

// ReadPage reads a page's data from disk into pageData.
func (dm *DiskManager) ReadPage(pageID pagemanager.PageID, pageData []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if err := dm.checkPage(pageID, pageData); err != nil {
		return err
	}
	offset := int64(pageID) * int64(dm.pageSize)
	n, err := dm.file.ReadAt(pageData, offset)
	if err != nil {
		return fmt.Errorf("%w: reading page %d at offset %d: %v", ErrIO, pageID, offset, err)
	}
	if n != dm.pageSize {
		return fmt.Errorf("%w: short read for page %d, expected %d, got %d", ErrIO, pageID, dm.pageSize, n)
	}
	return nil
}

// WritePage writes pageData at pageID's location. It does not sync.
func (dm *DiskManager) WritePage(pageID pagemanager.PageID, pageData []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if err := dm.checkPage(pageID, pageData); err != nil {
		return err
	}
	offset := int64(pageID) * int64(dm.pageSize)
	if _, err := dm.file.WriteAt(pageData, offset); err != nil {
		return fmt.Errorf("%w: writing page %d at offset %d: %v", ErrIO, pageID, offset, err)
	}
	return nil
}

// AllocatePage extends the file by one zeroed page and returns its id.
func (dm *DiskManager) AllocatePage() (pagemanager.PageID, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return pagemanager.InvalidPageID, ErrFileNotOpen
	}
	newPageID := pagemanager.PageID(dm.numPages)
	offset := int64(newPageID) * int64(dm.pageSize)
	if _, err := dm.file.WriteAt(make([]byte, dm.pageSize), offset); err != nil {
		return pagemanager.InvalidPageID, fmt.Errorf("%w: extending file for new page %d: %v", ErrIO, newPageID, err)
	}
	dm.numPages++
	return newPageID, nil
}

// NumPages counts pages in the file, the header page included.
func (dm *DiskManager) NumPages() uint64 {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.numPages
}

func (dm *DiskManager) GetPageSize() int { return dm.pageSize }

func (dm *DiskManager) FilePath() string { return dm.filePath }

func (dm *DiskManager) Sync() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file != nil {
		return dm.file.Sync()
	}
	return nil
}

func (dm *DiskManager) closeInternal() error {
	if dm.file == nil {
		return nil
	}
	if err := dm.file.Sync(); err != nil {
		dm.logger.Warn("Error syncing file on close", zap.Error(err))
	}
	err := dm.file.Close()
	dm.file = nil
	return err
}

// Close syncs and closes the underlying file handle.
func (dm *DiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.closeInternal()
}
