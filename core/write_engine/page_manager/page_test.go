package pagemanager

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLSNAnchorRoundTrip(t *testing.T) {
	p := NewPage(3, 128)
	// A zeroed page has never been touched by the log.
	require.Equal(t, InvalidLSN, p.GetLSN())
	require.False(t, p.GetLSN().IsValid())

	lsn := LSN{Segment: 2, Position: 4096}
	p.SetLSN(lsn)
	require.Equal(t, lsn, p.GetLSN())

	p.Reset()
	require.Equal(t, InvalidLSN, p.GetLSN())
	require.Equal(t, InvalidPageID, p.GetPageID())
}

func TestLSNCompare(t *testing.T) {
	require.Equal(t, -1, LSN{0, 10}.Compare(LSN{1, 0}))
	require.Equal(t, 1, LSN{1, 11}.Compare(LSN{1, 10}))
	require.Equal(t, 0, LSN{1, 10}.Compare(LSN{1, 10}))
	require.Equal(t, -1, InvalidLSN.Compare(LSN{0, 0}))
}

func TestPinCount(t *testing.T) {
	p := NewPage(1, 16)
	p.Pin()
	p.Pin()
	p.Unpin()
	require.Equal(t, uint32(1), p.GetPinCount())
	p.Unpin()
	p.Unpin()
	require.Equal(t, uint32(0), p.GetPinCount())
}

func TestRegionBounds(t *testing.T) {
	buf := make(Bytes, 64)
	r, err := NewRegion(buf, 16, 32)
	require.NoError(t, err)

	require.NoError(t, r.SetUint32(0, 0xDEADBEEF))
	require.Equal(t, []byte{0xEF, 0xBE, 0xAD, 0xDE}, []byte(buf[16:20]))

	v, err := r.Uint32(0)
	require.NoError(t, err)
	require.Equal(t, uint32(0xDEADBEEF), v)

	require.NoError(t, r.SetInt64(24, -2))
	i, err := r.Int64(24)
	require.NoError(t, err)
	require.Equal(t, int64(-2), i)

	// The last 8 bytes of the window are usable, one more is not.
	require.ErrorIs(t, r.SetUint64(25, 1), ErrOutOfBounds)
	_, err = r.ByteAt(32)
	require.ErrorIs(t, err, ErrOutOfBounds)
	_, err = r.ByteAt(-1)
	require.ErrorIs(t, err, ErrOutOfBounds)

	// Nothing outside the window was touched.
	require.Equal(t, make([]byte, 16), []byte(buf[:16]))
	require.Equal(t, make([]byte, 16), []byte(buf[48:]))

	_, err = NewRegion(buf, 40, 32)
	require.ErrorIs(t, err, ErrOutOfBounds)
}

func TestRegionMoveOverlapping(t *testing.T) {
	buf := Bytes{0, 1, 2, 3, 4, 5, 6, 7}
	r, err := NewRegion(buf, 0, len(buf))
	require.NoError(t, err)

	require.NoError(t, r.Move(0, 2, 4))
	require.Equal(t, Bytes{0, 1, 0, 1, 2, 3, 6, 7}, buf)

	require.NoError(t, r.Move(2, 0, 4))
	require.Equal(t, Bytes{0, 1, 2, 3, 2, 3, 6, 7}, buf)

	require.ErrorIs(t, r.Move(6, 5, 4), ErrOutOfBounds)
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	ro := ReadOnly{Reader: Bytes{1, 2, 3}}
	b, err := ro.ByteAt(1)
	require.NoError(t, err)
	require.Equal(t, byte(2), b)
	require.ErrorIs(t, ro.Put(0, []byte{9}), ErrReadOnly)
	require.ErrorIs(t, ro.Move(0, 1, 1), ErrReadOnly)
}
