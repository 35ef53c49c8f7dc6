// Package varint implements the little-endian base-128 integer encoding used
// by compact page formats: seven payload bits per byte, low group first, the
// high bit of each byte set when another byte follows.
package varint

import (
	"errors"
	"fmt"
)

const (
	// MaxLen64 is the longest encoding of a 64-bit value.
	MaxLen64 = 10
	// MaxLen32 is the longest encoding of a 32-bit value.
	MaxLen32 = 5

	continuationBit = 0x80
	payloadMask     = 0x7f
)

var (
	ErrMalformed      = errors.New("malformed varint")
	ErrOverflow       = errors.New("varint overflows target width")
	ErrBufferTooSmall = errors.New("buffer too small for varint")
)

// ByteSource is random read access to a byte sequence. It is satisfied by
// plain buffers as well as by overlays that shadow a base page.
type ByteSource interface {
	ByteAt(off int) (byte, error)
}

// Bytes adapts a plain slice to ByteSource.
type Bytes []byte

func (b Bytes) ByteAt(off int) (byte, error) {
	if off < 0 || off >= len(b) {
		return 0, fmt.Errorf("%w: offset %d, length %d", ErrMalformed, off, len(b))
	}
	return b[off], nil
}

// SizeUnsigned returns the number of bytes needed to encode v.
func SizeUnsigned(v uint64) int {
	n := 1
	for v >= continuationBit {
		v >>= 7
		n++
	}
	return n
}

// SizeSigned returns the encoded size of v's two's complement bit pattern.
// Negative values always take MaxLen64 bytes.
func SizeSigned(v int64) int {
	return SizeUnsigned(uint64(v))
}

// PutUnsigned writes v into dst and returns the number of bytes written.
func PutUnsigned(dst []byte, v uint64) (int, error) {
	if len(dst) < SizeUnsigned(v) {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, SizeUnsigned(v), len(dst))
	}
	i := 0
	for v >= continuationBit {
		dst[i] = byte(v) | continuationBit
		v >>= 7
		i++
	}
	dst[i] = byte(v)
	return i + 1, nil
}

// PutSigned writes the raw two's complement pattern of v.
func PutSigned(dst []byte, v int64) (int, error) {
	return PutUnsigned(dst, uint64(v))
}

// ReadUnsigned decodes a value starting at off and returns it together with
// the number of bytes consumed. A sequence that has not terminated within
// MaxLen64 bytes, or whose tenth byte carries bits past 64, is malformed.
func ReadUnsigned(src ByteSource, off int) (uint64, int, error) {
	var v uint64
	var shift uint
	for i := 0; i < MaxLen64; i++ {
		b, err := src.ByteAt(off + i)
		if err != nil {
			return 0, 0, err
		}
		if i == MaxLen64-1 && b > 1 {
			return 0, 0, fmt.Errorf("%w: value exceeds 64 bits at offset %d", ErrMalformed, off)
		}
		v |= uint64(b&payloadMask) << shift
		if b&continuationBit == 0 {
			return v, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, fmt.Errorf("%w: no terminating byte within %d bytes at offset %d", ErrMalformed, MaxLen64, off)
}

// ReadSigned decodes a value written by PutSigned.
func ReadSigned(src ByteSource, off int) (int64, int, error) {
	v, n, err := ReadUnsigned(src, off)
	return int64(v), n, err
}

// ReadUnsigned32 decodes a value that must fit in 32 bits.
func ReadUnsigned32(src ByteSource, off int) (uint32, int, error) {
	v, n, err := ReadUnsigned(src, off)
	if err != nil {
		return 0, 0, err
	}
	if n > MaxLen32 || v > 0xFFFFFFFF {
		return 0, 0, fmt.Errorf("%w: %d does not fit in 32 bits", ErrOverflow, v)
	}
	return uint32(v), n, nil
}

// SizeOfEncoded returns the length of the encoded value starting at off
// without decoding it.
func SizeOfEncoded(src ByteSource, off int) (int, error) {
	for i := 0; i < MaxLen64; i++ {
		b, err := src.ByteAt(off + i)
		if err != nil {
			return 0, err
		}
		if b&continuationBit == 0 {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("%w: no terminating byte within %d bytes at offset %d", ErrMalformed, MaxLen64, off)
}
