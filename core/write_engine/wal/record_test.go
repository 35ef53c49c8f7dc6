package wal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNonTxOpRecord(t *testing.T) {
	rec := &NonTxOpRecord{PrevLSN: LSN{Segment: 3, Position: 1024}}
	require.Equal(t, 16, rec.SerializedSize())

	buf := make([]byte, 20)
	n, err := rec.MarshalTo(buf)
	require.NoError(t, err)
	require.Equal(t, 16, n)

	decoded, err := DecodeRecord(RecordTypeNonTxOperation, buf[:n])
	require.NoError(t, err)
	require.Equal(t, rec, decoded)

	_, err = rec.MarshalTo(make([]byte, 15))
	require.ErrorIs(t, err, ErrCorruptRecord)
	_, err = DecodeRecord(RecordTypeNonTxOperation, buf[:8])
	require.ErrorIs(t, err, ErrCorruptRecord)
}

func TestPageUpdateRecord(t *testing.T) {
	page := make([]byte, 64)
	changes := NewPageChangeLog()
	require.NoError(t, changes.SetUint32(page, 20, 99))
	rec := &PageUpdateRecord{PrevLSN: LSN{Segment: 0, Position: 9}, PageID: 12, Changes: changes}

	buf := make([]byte, rec.SerializedSize())
	n, err := rec.MarshalTo(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)

	decoded, err := DecodeRecord(RecordTypePageUpdate, buf)
	require.NoError(t, err)
	got := decoded.(*PageUpdateRecord)
	require.Equal(t, rec.PrevLSN, got.PrevLSN)
	require.Equal(t, rec.PageID, got.PageID)
	require.Equal(t, changes.Changes(), got.Changes.Changes())
}

func TestUnknownRecordType(t *testing.T) {
	_, err := DecodeRecord(RecordType(77), nil)
	require.ErrorIs(t, err, ErrUnknownRecordType)
	require.Equal(t, "UNKNOWN(77)", RecordType(77).String())
}
