package varint

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeKnownVectors(t *testing.T) {
	cases := []struct {
		value   uint64
		encoded []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{10, []byte{0x0A}},
		{64, []byte{0x40}},
		{127, []byte{0x7F}},
		{128, []byte{0x80, 0x01}},
		{150, []byte{0x96, 0x01}},
		{300, []byte{0xAC, 0x02}},
		{11111, []byte{0xE7, 0x56}},
		{16383, []byte{0xFF, 0x7F}},
		{16384, []byte{0x80, 0x80, 0x01}},
		{math.MaxInt32, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x07}},
	}

	for _, tc := range cases {
		require.Equal(t, len(tc.encoded), SizeUnsigned(tc.value), "size of %d", tc.value)

		buf := make([]byte, MaxLen64)
		n, err := PutUnsigned(buf, tc.value)
		require.NoError(t, err)
		require.Equal(t, tc.encoded, buf[:n], "encoding of %d", tc.value)

		got, consumed, err := ReadUnsigned(Bytes(tc.encoded), 0)
		require.NoError(t, err)
		require.Equal(t, tc.value, got)
		require.Equal(t, len(tc.encoded), consumed)

		size, err := SizeOfEncoded(Bytes(tc.encoded), 0)
		require.NoError(t, err)
		require.Equal(t, len(tc.encoded), size)
	}
}

func TestReadAtOffsetReportsConsumedBytes(t *testing.T) {
	buf := []byte{0xEE, 0xAC, 0x02, 0x01}
	v, n, err := ReadUnsigned(Bytes(buf), 1)
	require.NoError(t, err)
	require.Equal(t, uint64(300), v)
	require.Equal(t, 2, n)

	v, n, err = ReadUnsigned(Bytes(buf), 1+n)
	require.NoError(t, err)
	require.Equal(t, uint64(1), v)
	require.Equal(t, 1, n)
}

func TestMalformedInputIsRejected(t *testing.T) {
	// Ten continuation bytes followed by a terminator never fits in 64 bits.
	malformed := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x00}

	_, err := SizeOfEncoded(Bytes(malformed), 0)
	require.ErrorIs(t, err, ErrMalformed)

	_, _, err = ReadUnsigned(Bytes(malformed), 0)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestTruncatedInput(t *testing.T) {
	_, _, err := ReadUnsigned(Bytes{0x80, 0x80}, 0)
	require.Error(t, err)
}

func TestPutIntoShortBuffer(t *testing.T) {
	_, err := PutUnsigned(make([]byte, 1), 300)
	require.ErrorIs(t, err, ErrBufferTooSmall)
}

func TestSignedRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, -20432343, math.MinInt64, math.MaxInt64} {
		buf := make([]byte, MaxLen64)
		n, err := PutSigned(buf, v)
		require.NoError(t, err)
		require.Equal(t, SizeSigned(v), n)

		got, consumed, err := ReadSigned(Bytes(buf), 0)
		require.NoError(t, err)
		require.Equal(t, v, got)
		require.Equal(t, n, consumed)
	}

	require.Equal(t, MaxLen64, SizeSigned(-1))
}

func TestReadUnsigned32(t *testing.T) {
	v, n, err := ReadUnsigned32(Bytes{0xFF, 0xFF, 0xFF, 0xFF, 0x0F}, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(math.MaxUint32), v)
	require.Equal(t, 5, n)

	_, _, err = ReadUnsigned32(Bytes{0xFF, 0xFF, 0xFF, 0xFF, 0x1F}, 0)
	require.ErrorIs(t, err, ErrOverflow)
}
