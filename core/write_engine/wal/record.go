package wal

import (
	"encoding/binary"
	"fmt"

	pagemanager "github.com/sushant-115/bonsaidb/core/write_engine/page_manager"
)

// --- Write-Ahead Logging (WAL) Constants and Types ---

type LSN = pagemanager.LSN

var InvalidLSN = pagemanager.InvalidLSN

// RecordType identifies the payload of a log frame.
type RecordType byte

const (
	RecordTypeNonTxOperation RecordType = iota + 1 // Structural operation outside any transaction
	RecordTypePageUpdate                           // Physical page change log
)

func (t RecordType) String() string {
	switch t {
	case RecordTypeNonTxOperation:
		return "NON_TX_OPERATION"
	case RecordTypePageUpdate:
		return "PAGE_UPDATE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(t))
	}
}

// Record is a log record payload. The LSN a record is stored at is assigned
// by the LogManager and not part of the payload.
type Record interface {
	Type() RecordType
	SerializedSize() int
	MarshalTo(dst []byte) (int, error)
	UnmarshalFrom(src []byte) (int, error)
}

const lsnSize = 16

func putLSN(dst []byte, lsn LSN) {
	binary.LittleEndian.PutUint64(dst, uint64(lsn.Segment))
	binary.LittleEndian.PutUint64(dst[8:], uint64(lsn.Position))
}

func getLSN(src []byte) LSN {
	return LSN{
		Segment:  int64(binary.LittleEndian.Uint64(src)),
		Position: int64(binary.LittleEndian.Uint64(src[8:])),
	}
}

// NonTxOpRecord marks a structural operation done outside a transaction.
// Its only payload is the LSN of the previous record in the chain.
type NonTxOpRecord struct {
	PrevLSN LSN
}

func (r *NonTxOpRecord) Type() RecordType    { return RecordTypeNonTxOperation }
func (r *NonTxOpRecord) SerializedSize() int { return lsnSize }

func (r *NonTxOpRecord) MarshalTo(dst []byte) (int, error) {
	if len(dst) < lsnSize {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrCorruptRecord, lsnSize, len(dst))
	}
	putLSN(dst, r.PrevLSN)
	return lsnSize, nil
}

func (r *NonTxOpRecord) UnmarshalFrom(src []byte) (int, error) {
	if len(src) < lsnSize {
		return 0, fmt.Errorf("%w: non-tx record needs %d bytes, have %d", ErrCorruptRecord, lsnSize, len(src))
	}
	r.PrevLSN = getLSN(src)
	return lsnSize, nil
}

// PageUpdateRecord carries the physical changes one mutation made to a page.
type PageUpdateRecord struct {
	PrevLSN LSN
	PageID  pagemanager.PageID
	Changes *PageChangeLog
}

func (r *PageUpdateRecord) Type() RecordType { return RecordTypePageUpdate }

func (r *PageUpdateRecord) SerializedSize() int {
	return lsnSize + 8 + r.Changes.SerializedSize()
}

func (r *PageUpdateRecord) MarshalTo(dst []byte) (int, error) {
	size := r.SerializedSize()
	if len(dst) < size {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrCorruptRecord, size, len(dst))
	}
	putLSN(dst, r.PrevLSN)
	binary.LittleEndian.PutUint64(dst[lsnSize:], uint64(r.PageID))
	n, err := r.Changes.MarshalTo(dst[lsnSize+8:])
	if err != nil {
		return 0, fmt.Errorf("failed to serialize page changes: %w", err)
	}
	return lsnSize + 8 + n, nil
}

func (r *PageUpdateRecord) UnmarshalFrom(src []byte) (int, error) {
	if len(src) < lsnSize+8 {
		return 0, fmt.Errorf("%w: page update header truncated", ErrCorruptRecord)
	}
	r.PrevLSN = getLSN(src)
	r.PageID = pagemanager.PageID(binary.LittleEndian.Uint64(src[lsnSize:]))
	changes, n, err := UnmarshalPageChangeLog(src[lsnSize+8:])
	if err != nil {
		return 0, err
	}
	r.Changes = changes
	return lsnSize + 8 + n, nil
}

// NewRecord returns an empty record of the given type.
func NewRecord(t RecordType) (Record, error) {
	switch t {
	case RecordTypeNonTxOperation:
		return &NonTxOpRecord{}, nil
	case RecordTypePageUpdate:
		return &PageUpdateRecord{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownRecordType, byte(t))
	}
}

// DecodeRecord rebuilds a record of type t from its payload.
func DecodeRecord(t RecordType, payload []byte) (Record, error) {
	rec, err := NewRecord(t)
	if err != nil {
		return nil, err
	}
	if _, err := rec.UnmarshalFrom(payload); err != nil {
		return nil, fmt.Errorf("failed to decode %s record: %w", t, err)
	}
	return rec, nil
}
