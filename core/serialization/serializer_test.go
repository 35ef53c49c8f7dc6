package serialization

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sushant-115/bonsaidb/core/encoding/varint"
)

// shadow is a minimal overlay: reads prefer written bytes over the base.
type shadow struct {
	base    []byte
	written map[int]byte
}

func (s *shadow) ByteAt(off int) (byte, error) {
	if b, ok := s.written[off]; ok {
		return b, nil
	}
	return varint.Bytes(s.base).ByteAt(off)
}

func (s *shadow) Put(off int, src []byte) error {
	for i, b := range src {
		s.written[off+i] = b
	}
	return nil
}

func TestVarLinkEncoding(t *testing.T) {
	s := VarLinkSerializer{}
	rid := RID{ClusterID: 1, ClusterPosition: 128}

	encoded, err := Marshal[Identifiable](s, rid)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x80, 0x01}, encoded)
	require.Equal(t, 3, s.Size(rid))

	n, err := s.SizeIn(varint.Bytes(encoded), 0)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	got, err := s.Deserialize(varint.Bytes(encoded), 0)
	require.NoError(t, err)
	require.Equal(t, rid, got)
}

func TestVarLinkThroughOverlay(t *testing.T) {
	s := VarLinkSerializer{}
	// The base page holds #1:128; the overlay rewrites it to #5:150.
	ov := &shadow{base: []byte{0x01, 0x80, 0x01}, written: map[int]byte{}}
	require.NoError(t, ov.Put(0, []byte{5}))
	require.NoError(t, ov.Put(1, []byte{0x96}))

	got, err := s.Deserialize(ov, 0)
	require.NoError(t, err)
	require.Equal(t, RID{ClusterID: 5, ClusterPosition: 150}, got)

	n, err := s.SizeIn(ov, 0)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []byte{0x01, 0x80, 0x01}, ov.base)
}

func TestSerializeToSink(t *testing.T) {
	ov := &shadow{base: make([]byte, 8), written: map[int]byte{}}
	require.NoError(t, SerializeTo[int32](VarUnsignedIntegerSerializer{}, 300, ov, 2))

	got, err := VarUnsignedIntegerSerializer{}.Deserialize(ov, 2)
	require.NoError(t, err)
	require.Equal(t, int32(300), got)
	require.Equal(t, make([]byte, 8), ov.base)
}

func TestLinkSerializer(t *testing.T) {
	s := LinkSerializer{}
	n, err := s.FixedLength()
	require.NoError(t, err)
	require.Equal(t, LinkSize, n)

	rid := RID{ClusterID: -2, ClusterPosition: math.MaxInt64}
	buf, err := Marshal[Identifiable](s, rid)
	require.NoError(t, err)
	require.Len(t, buf, LinkSize)

	got, err := s.Deserialize(varint.Bytes(buf), 0)
	require.NoError(t, err)
	require.Equal(t, rid, got)

	_, err = Marshal[Identifiable](s, RID{ClusterID: math.MaxInt16 + 1})
	require.ErrorIs(t, err, ErrValueOutOfRange)
}

func TestFixedIntegerSerializers(t *testing.T) {
	buf, err := Marshal[int32](IntegerSerializer{}, -7)
	require.NoError(t, err)
	require.Equal(t, []byte{0xF9, 0xFF, 0xFF, 0xFF}, buf)
	v, err := IntegerSerializer{}.Deserialize(varint.Bytes(buf), 0)
	require.NoError(t, err)
	require.Equal(t, int32(-7), v)

	buf, err = Marshal[int64](LongSerializer{}, math.MinInt64)
	require.NoError(t, err)
	l, err := LongSerializer{}.Deserialize(varint.Bytes(buf), 0)
	require.NoError(t, err)
	require.Equal(t, int64(math.MinInt64), l)

	require.ErrorIs(t, IntegerSerializer{}.Serialize(1, make([]byte, 3)), ErrShortBuffer)
}

func TestVarUnsignedInteger(t *testing.T) {
	s := VarUnsignedIntegerSerializer{}
	require.False(t, s.IsFixedLength())
	_, err := s.FixedLength()
	require.ErrorIs(t, err, ErrNotFixedLength)

	for _, v := range []int32{0, 127, 128, 16384, math.MaxInt32, -1} {
		buf, err := Marshal[int32](s, v)
		require.NoError(t, err)
		require.Len(t, buf, s.Size(v))

		got, err := s.Deserialize(varint.Bytes(buf), 0)
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
	require.Equal(t, 1, s.Size(127))
	require.Equal(t, 5, s.Size(-1))
}

func TestPreprocessResolvesIdentity(t *testing.T) {
	type record struct{ RID }
	r := record{RID{ClusterID: 3, ClusterPosition: 9}}

	got := VarLinkSerializer{}.Preprocess(r)
	require.Equal(t, RID{ClusterID: 3, ClusterPosition: 9}, got)
	require.Nil(t, LinkSerializer{}.Preprocess(nil))
}

func TestRegistryLookup(t *testing.T) {
	r := NewDefaultRegistry()
	require.Equal(t, []byte{8, 9, 10, 31, 33}, r.IDs())

	link, err := Lookup[Identifiable](r, VarLinkSerializerID)
	require.NoError(t, err)
	require.Equal(t, VarLinkSerializerID, link.ID())

	_, err = Lookup[Identifiable](r, IntegerSerializerID)
	require.ErrorIs(t, err, ErrSerializerTypeMismatch)

	_, err = Lookup[int32](r, 99)
	require.ErrorIs(t, err, ErrUnknownSerializer)

	require.ErrorIs(t, Register[int32](r, IntegerSerializer{}), ErrDuplicateSerializer)
}

func TestParseRID(t *testing.T) {
	rid, err := ParseRID("#12:345")
	require.NoError(t, err)
	require.Equal(t, RID{ClusterID: 12, ClusterPosition: 345}, rid)
	require.Equal(t, "#12:345", rid.String())

	_, err = ParseRID("nope")
	require.Error(t, err)

	require.Equal(t, -1, CompareRID(RID{1, 5}, RID{2, 0}))
	require.Equal(t, 1, CompareRID(RID{1, 5}, RID{1, 4}))
}

func TestVarLinkClusterOverflow(t *testing.T) {
	buf := make([]byte, 2*varint.MaxLen64)
	n, err := varint.PutSigned(buf, 1<<40)
	require.NoError(t, err)
	m, err := varint.PutSigned(buf[n:], 7)
	require.NoError(t, err)

	_, err = VarLinkSerializer{}.Deserialize(varint.Bytes(buf[:n+m]), 0)
	require.ErrorIs(t, err, varint.ErrOverflow)

	// Negative cluster ids in range still decode.
	encoded, err := Marshal[Identifiable](VarLinkSerializer{}, RID{ClusterID: math.MinInt32, ClusterPosition: -1})
	require.NoError(t, err)
	got, err := VarLinkSerializer{}.Deserialize(varint.Bytes(encoded), 0)
	require.NoError(t, err)
	require.Equal(t, RID{ClusterID: math.MinInt32, ClusterPosition: -1}, got)
}

func TestNilIdentity(t *testing.T) {
	dst := make([]byte, LinkSize)
	require.ErrorIs(t, VarLinkSerializer{}.Serialize(nil, dst), ErrNilIdentity)
	require.ErrorIs(t, LinkSerializer{}.Serialize(nil, dst), ErrNilIdentity)
	require.Zero(t, VarLinkSerializer{}.Size(nil))

	require.Zero(t, CompareRID(nil, nil))
	require.Equal(t, -1, CompareRID(nil, RID{}))
	require.Equal(t, 1, CompareRID(RID{ClusterID: -5}, nil))
}
