package flushmanager

import "errors"

// --- Error Definitions ---

var (
	ErrPageNotFound     = errors.New("page not found in buffer pool")
	ErrBufferPoolFull   = errors.New("buffer pool is full and no pages can be evicted")
	ErrPagePinned       = errors.New("page is pinned and cannot be evicted")
	ErrIO               = errors.New("i/o error")
	ErrInvalidPageData  = errors.New("invalid page data")
	ErrInvalidPageID    = errors.New("invalid page id")
	ErrDBFileExists     = errors.New("database file already exists")
	ErrDBFileNotFound   = errors.New("database file not found")
	ErrFileNotOpen      = errors.New("database file not open")
	ErrInvalidMagic     = errors.New("invalid database file magic number")
	ErrPageSizeMismatch = errors.New("database file page size does not match configuration")
	ErrSerialization    = errors.New("error during serialization")
	ErrDeserialization  = errors.New("error during deserialization")
)
