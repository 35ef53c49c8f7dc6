// Package serialization holds the typed binary serializers that bucket keys
// and values are written with, and the registry that maps their one-byte
// on-disk ids back to implementations.
package serialization

import (
	"errors"
	"fmt"

	"github.com/sushant-115/bonsaidb/core/encoding/varint"
)

// Serializer ids as stored in page headers.
const (
	IntegerSerializerID            byte = 8
	LinkSerializerID               byte = 9
	LongSerializerID               byte = 10
	VarUnsignedIntegerSerializerID byte = 31
	VarLinkSerializerID            byte = 33
)

var (
	ErrUnknownSerializer      = errors.New("unknown serializer id")
	ErrSerializerTypeMismatch = errors.New("serializer does not handle requested type")
	ErrNotFixedLength         = errors.New("serializer is not fixed length")
	ErrDuplicateSerializer    = errors.New("serializer id already registered")
	ErrShortBuffer            = errors.New("destination buffer too small")
	ErrValueOutOfRange        = errors.New("value outside serializer range")
	ErrNilIdentity            = errors.New("nil record identity")
)

// Source is random read access to serialized bytes: a plain page buffer or
// a WAL overlay shadowing one.
type Source = varint.ByteSource

// Sink accepts serialized bytes at an offset.
type Sink interface {
	Put(off int, src []byte) error
}

// BinarySerializer converts values of T to and from their on-page form.
type BinarySerializer[T any] interface {
	ID() byte
	IsFixedLength() bool
	// FixedLength reports the encoded width; variable-length serializers
	// return ErrNotFixedLength.
	FixedLength() (int, error)
	// Preprocess normalizes a value before sizing and writing it.
	Preprocess(v T) T
	Size(v T) int
	// SizeIn measures the encoded value starting at off without decoding it.
	SizeIn(src Source, off int) (int, error)
	// Serialize writes v into dst, which must hold at least Size(v) bytes.
	Serialize(v T, dst []byte) error
	Deserialize(src Source, off int) (T, error)
}

// Marshal returns the encoding of v as a new slice.
func Marshal[T any](s BinarySerializer[T], v T) ([]byte, error) {
	out := make([]byte, s.Size(v))
	if err := s.Serialize(v, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SerializeTo writes v at off through dst, which may be a page buffer or a
// logged or shadowed view of one.
func SerializeTo[T any](s BinarySerializer[T], v T, dst Sink, off int) error {
	b, err := Marshal(s, v)
	if err != nil {
		return err
	}
	return dst.Put(off, b)
}

func readN(src Source, off, n int) ([]byte, error) {
	out := make([]byte, n)
	for i := range out {
		b, err := src.ByteAt(off + i)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func checkDst(dst []byte, need int) error {
	if len(dst) < need {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, need, len(dst))
	}
	return nil
}
