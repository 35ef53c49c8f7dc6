package serialization

import (
	"fmt"
	"math"

	"github.com/sushant-115/bonsaidb/core/encoding/varint"
)

// VarUnsignedIntegerSerializer writes int32 values as a varint of their
// unsigned 32-bit pattern. Small non-negative values take one or two bytes.
type VarUnsignedIntegerSerializer struct{}

func (VarUnsignedIntegerSerializer) ID() byte            { return VarUnsignedIntegerSerializerID }
func (VarUnsignedIntegerSerializer) IsFixedLength() bool { return false }

func (VarUnsignedIntegerSerializer) FixedLength() (int, error) {
	return 0, fmt.Errorf("%w: id %d", ErrNotFixedLength, VarUnsignedIntegerSerializerID)
}

func (VarUnsignedIntegerSerializer) Preprocess(v int32) int32 { return v }

func (VarUnsignedIntegerSerializer) Size(v int32) int {
	return varint.SizeUnsigned(uint64(uint32(v)))
}

func (VarUnsignedIntegerSerializer) SizeIn(src Source, off int) (int, error) {
	return varint.SizeOfEncoded(src, off)
}

func (VarUnsignedIntegerSerializer) Serialize(v int32, dst []byte) error {
	_, err := varint.PutUnsigned(dst, uint64(uint32(v)))
	return err
}

func (VarUnsignedIntegerSerializer) Deserialize(src Source, off int) (int32, error) {
	v, _, err := varint.ReadUnsigned32(src, off)
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}

// VarLinkSerializer writes a record identity as two varints: the cluster id
// followed by the cluster position.
type VarLinkSerializer struct{}

func (VarLinkSerializer) ID() byte            { return VarLinkSerializerID }
func (VarLinkSerializer) IsFixedLength() bool { return false }

func (VarLinkSerializer) FixedLength() (int, error) {
	return 0, fmt.Errorf("%w: id %d", ErrNotFixedLength, VarLinkSerializerID)
}

func (VarLinkSerializer) Preprocess(v Identifiable) Identifiable {
	if v == nil {
		return nil
	}
	return v.Identity()
}

// Size of a nil identity is zero; Serialize rejects it.
func (VarLinkSerializer) Size(v Identifiable) int {
	if v == nil {
		return 0
	}
	rid := v.Identity()
	return varint.SizeSigned(int64(rid.ClusterID)) + varint.SizeSigned(rid.ClusterPosition)
}

func (VarLinkSerializer) SizeIn(src Source, off int) (int, error) {
	n, err := varint.SizeOfEncoded(src, off)
	if err != nil {
		return 0, err
	}
	m, err := varint.SizeOfEncoded(src, off+n)
	if err != nil {
		return 0, err
	}
	return n + m, nil
}

func (s VarLinkSerializer) Serialize(v Identifiable, dst []byte) error {
	if v == nil {
		return ErrNilIdentity
	}
	rid := v.Identity()
	if err := checkDst(dst, s.Size(rid)); err != nil {
		return err
	}
	n, err := varint.PutSigned(dst, int64(rid.ClusterID))
	if err != nil {
		return err
	}
	_, err = varint.PutSigned(dst[n:], rid.ClusterPosition)
	return err
}

func (VarLinkSerializer) Deserialize(src Source, off int) (Identifiable, error) {
	cluster, n, err := varint.ReadSigned(src, off)
	if err != nil {
		return nil, err
	}
	if cluster < math.MinInt32 || cluster > math.MaxInt32 {
		return nil, fmt.Errorf("%w: cluster id %d does not fit in 32 bits", varint.ErrOverflow, cluster)
	}
	position, _, err := varint.ReadSigned(src, off+n)
	if err != nil {
		return nil, err
	}
	return RID{ClusterID: int32(cluster), ClusterPosition: position}, nil
}
