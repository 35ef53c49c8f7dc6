package wal

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	pagemanager "github.com/sushant-115/bonsaidb/core/write_engine/page_manager"
)

func TestPageChangeLog_UndoRestoresOriginal(t *testing.T) {
	buf := make([]byte, 64)
	for i := range buf {
		buf[i] = byte(i)
	}
	original := bytes.Clone(buf)

	l := NewPageChangeLog()
	require.NoError(t, l.SetUint32(buf, 4, 0xAABBCCDD))
	require.NoError(t, l.SetByte(buf, 5, 0x11))
	require.NoError(t, l.SetUint16(buf, 60, 0xFFFF))
	require.NoError(t, l.MoveData(buf, 0, 10, 8))
	require.NoError(t, l.SetUint64(buf, 40, 1))
	modified := bytes.Clone(buf)
	require.Equal(t, 5, l.Len())

	require.NoError(t, l.Undo(buf))
	require.Equal(t, original, buf)

	require.NoError(t, l.Redo(buf))
	require.Equal(t, modified, buf)
}

func TestPageChangeLog_MoveRecordedAtDestination(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5, 6}
	l := NewPageChangeLog()
	require.NoError(t, l.MoveData(buf, 0, 2, 4))
	require.Equal(t, []byte{1, 2, 1, 2, 3, 4}, buf)

	changes := l.Changes()
	require.Len(t, changes, 1)
	require.Equal(t, 2, changes[0].Offset)
	require.Equal(t, []byte{3, 4, 5, 6}, changes[0].Before)
	require.Equal(t, []byte{1, 2, 3, 4}, changes[0].After)
}

func TestPageChangeLog_SerializeRoundTrip(t *testing.T) {
	buf := make([]byte, 32)
	l := NewPageChangeLog()
	require.NoError(t, l.SetBytes(buf, 3, []byte("abc")))
	require.NoError(t, l.SetUint16(buf, 20, 7))

	data, err := l.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, data, l.SerializedSize())
	require.True(t, l.IsSealed())
	require.ErrorIs(t, l.SetByte(buf, 0, 1), ErrChangeLogSealed)

	decoded, n, err := UnmarshalPageChangeLog(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, l.Changes(), decoded.Changes())
	require.True(t, decoded.IsSealed())

	// Redo of the decoded log onto a fresh page reproduces the writes.
	fresh := make([]byte, 32)
	require.NoError(t, decoded.Redo(fresh))
	require.Equal(t, buf, fresh)

	_, _, err = UnmarshalPageChangeLog(data[:len(data)-1])
	require.ErrorIs(t, err, ErrCorruptChangeLog)
}

func TestPageChangeLog_OutOfBounds(t *testing.T) {
	buf := make([]byte, 8)
	l := NewPageChangeLog()
	require.ErrorIs(t, l.SetUint32(buf, 6, 1), pagemanager.ErrOutOfBounds)
	require.ErrorIs(t, l.MoveData(buf, 0, 6, 4), pagemanager.ErrOutOfBounds)
	require.True(t, l.IsEmpty())
	require.Equal(t, make([]byte, 8), buf)
}

func TestTrackedBuffer_WritesAreLogged(t *testing.T) {
	buf := make([]byte, 16)
	tb := NewTrackedBuffer(buf, NewPageChangeLog())

	region, err := pagemanager.NewRegion(tb, 4, 8)
	require.NoError(t, err)
	require.NoError(t, region.SetUint32(0, 42))
	require.NoError(t, region.Move(0, 4, 4))

	v, err := region.Uint32(4)
	require.NoError(t, err)
	require.Equal(t, uint32(42), v)
	require.Equal(t, 2, tb.Log().Len())

	require.NoError(t, tb.Log().Undo(buf))
	require.Equal(t, make([]byte, 16), buf)
}
