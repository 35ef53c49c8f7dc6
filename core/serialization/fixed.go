package serialization

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	IntegerSize = 4
	LongSize    = 8
	// LinkSize is a 16-bit cluster id followed by a 64-bit position.
	LinkSize = 2 + 8
)

// IntegerSerializer writes int32 as four little-endian bytes.
type IntegerSerializer struct{}

func (IntegerSerializer) ID() byte                  { return IntegerSerializerID }
func (IntegerSerializer) IsFixedLength() bool       { return true }
func (IntegerSerializer) FixedLength() (int, error) { return IntegerSize, nil }
func (IntegerSerializer) Preprocess(v int32) int32  { return v }
func (IntegerSerializer) Size(int32) int            { return IntegerSize }

func (IntegerSerializer) SizeIn(Source, int) (int, error) { return IntegerSize, nil }

func (IntegerSerializer) Serialize(v int32, dst []byte) error {
	if err := checkDst(dst, IntegerSize); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(dst, uint32(v))
	return nil
}

func (IntegerSerializer) Deserialize(src Source, off int) (int32, error) {
	b, err := readN(src, off, IntegerSize)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

// LongSerializer writes int64 as eight little-endian bytes.
type LongSerializer struct{}

func (LongSerializer) ID() byte                  { return LongSerializerID }
func (LongSerializer) IsFixedLength() bool       { return true }
func (LongSerializer) FixedLength() (int, error) { return LongSize, nil }
func (LongSerializer) Preprocess(v int64) int64  { return v }
func (LongSerializer) Size(int64) int            { return LongSize }

func (LongSerializer) SizeIn(Source, int) (int, error) { return LongSize, nil }

func (LongSerializer) Serialize(v int64, dst []byte) error {
	if err := checkDst(dst, LongSize); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(dst, uint64(v))
	return nil
}

func (LongSerializer) Deserialize(src Source, off int) (int64, error) {
	b, err := readN(src, off, LongSize)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

// LinkSerializer writes a record identity in the fixed legacy layout.
type LinkSerializer struct{}

func (LinkSerializer) ID() byte                  { return LinkSerializerID }
func (LinkSerializer) IsFixedLength() bool       { return true }
func (LinkSerializer) FixedLength() (int, error) { return LinkSize, nil }

func (LinkSerializer) Preprocess(v Identifiable) Identifiable {
	if v == nil {
		return nil
	}
	return v.Identity()
}

func (LinkSerializer) Size(Identifiable) int { return LinkSize }

func (LinkSerializer) SizeIn(Source, int) (int, error) { return LinkSize, nil }

func (LinkSerializer) Serialize(v Identifiable, dst []byte) error {
	if v == nil {
		return ErrNilIdentity
	}
	if err := checkDst(dst, LinkSize); err != nil {
		return err
	}
	rid := v.Identity()
	if rid.ClusterID < math.MinInt16 || rid.ClusterID > math.MaxInt16 {
		return fmt.Errorf("%w: cluster id %d does not fit in 16 bits", ErrValueOutOfRange, rid.ClusterID)
	}
	binary.LittleEndian.PutUint16(dst, uint16(int16(rid.ClusterID)))
	binary.LittleEndian.PutUint64(dst[2:], uint64(rid.ClusterPosition))
	return nil
}

func (LinkSerializer) Deserialize(src Source, off int) (Identifiable, error) {
	b, err := readN(src, off, LinkSize)
	if err != nil {
		return nil, err
	}
	return RID{
		ClusterID:       int32(int16(binary.LittleEndian.Uint16(b))),
		ClusterPosition: int64(binary.LittleEndian.Uint64(b[2:])),
	}, nil
}
