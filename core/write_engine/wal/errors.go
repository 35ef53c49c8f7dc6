package wal

import "errors"

var (
	ErrChangeLogSealed   = errors.New("page change log already serialized")
	ErrCorruptChangeLog  = errors.New("corrupt page change log")
	ErrUnknownRecordType = errors.New("unknown log record type")
	ErrCorruptRecord     = errors.New("corrupt log record")
	ErrChecksumMismatch  = errors.New("log frame checksum mismatch")
	ErrLogClosed         = errors.New("log manager closed")
)
