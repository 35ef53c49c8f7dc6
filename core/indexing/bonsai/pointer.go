package bonsai

import (
	"encoding/binary"
	"fmt"
)

// BucketPointer addresses a bucket: the page holding it and the bucket's
// byte offset inside that page.
type BucketPointer struct {
	PageIndex  int64
	PageOffset int32
}

// NullPointer marks an absent child or sibling.
var NullPointer = BucketPointer{PageIndex: -1, PageOffset: -1}

func (p BucketPointer) IsValid() bool { return p.PageIndex >= 0 }

func (p BucketPointer) String() string {
	if !p.IsValid() {
		return "null"
	}
	return fmt.Sprintf("%d@%d", p.PageIndex, p.PageOffset)
}

// encodeLegacyPointer writes the 12-byte form: page index, then a 32-bit offset.
func encodeLegacyPointer(p BucketPointer, dst []byte) {
	binary.LittleEndian.PutUint64(dst, uint64(p.PageIndex))
	binary.LittleEndian.PutUint32(dst[8:], uint32(p.PageOffset))
}

func decodeLegacyPointer(src []byte) BucketPointer {
	p := BucketPointer{
		PageIndex:  int64(binary.LittleEndian.Uint64(src)),
		PageOffset: int32(binary.LittleEndian.Uint32(src[8:])),
	}
	if p.PageIndex < 0 {
		return NullPointer
	}
	return p
}

// encodePointer writes a child pointer in the width of the bucket's version.
func (l layout) encodePointer(p BucketPointer, dst []byte) error {
	if l.pointerSize == 8+4 {
		encodeLegacyPointer(p, dst)
		return nil
	}
	offset := uint16(0xFFFF)
	if p.IsValid() {
		if p.PageOffset < 0 || p.PageOffset > 0xFFFF {
			return fmt.Errorf("%w: %d", ErrPointerOffsetOutOfRange, p.PageOffset)
		}
		offset = uint16(p.PageOffset)
	}
	binary.LittleEndian.PutUint64(dst, uint64(p.PageIndex))
	binary.LittleEndian.PutUint16(dst[8:], offset)
	return nil
}

func (l layout) decodePointer(src []byte) BucketPointer {
	if l.pointerSize == 8+4 {
		return decodeLegacyPointer(src)
	}
	idx := int64(binary.LittleEndian.Uint64(src))
	if idx < 0 {
		return NullPointer
	}
	return BucketPointer{PageIndex: idx, PageOffset: int32(binary.LittleEndian.Uint16(src[8:]))}
}
