package pagemanager

import (
	"encoding/binary"
	"fmt"
)

// Region is a bounds-checked window of Size bytes starting at Base inside a
// page. All offsets passed to its methods are relative to Base; any access
// that leaves the window fails with ErrOutOfBounds before touching the page.
type Region struct {
	buf  Writer
	base int
	size int
}

// NewRegion returns the window [base, base+size) of buf.
func NewRegion(buf Writer, base, size int) (*Region, error) {
	if err := checkRange(buf.Len(), base, size); err != nil {
		return nil, fmt.Errorf("region [%d, %d): %w", base, base+size, err)
	}
	return &Region{buf: buf, base: base, size: size}, nil
}

func (r *Region) Base() int      { return r.base }
func (r *Region) Size() int      { return r.size }
func (r *Region) Buffer() Writer { return r.buf }

func (r *Region) check(off, n int) error {
	return checkRange(r.size, off, n)
}

func (r *Region) Len() int { return r.size }

func (r *Region) ByteAt(off int) (byte, error) {
	if err := r.check(off, 1); err != nil {
		return 0, err
	}
	return r.buf.ByteAt(r.base + off)
}

func (r *Region) Get(off int, dst []byte) error {
	if err := r.check(off, len(dst)); err != nil {
		return err
	}
	return r.buf.Get(r.base+off, dst)
}

func (r *Region) Put(off int, src []byte) error {
	if err := r.check(off, len(src)); err != nil {
		return err
	}
	return r.buf.Put(r.base+off, src)
}

func (r *Region) Move(from, to, n int) error {
	if err := r.check(from, n); err != nil {
		return err
	}
	if err := r.check(to, n); err != nil {
		return err
	}
	if n == 0 || from == to {
		return nil
	}
	return r.buf.Move(r.base+from, r.base+to, n)
}

// Bytes returns a copy of n bytes at off.
func (r *Region) Bytes(off, n int) ([]byte, error) {
	out := make([]byte, n)
	if err := r.Get(off, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Region) Byte(off int) (byte, error) { return r.ByteAt(off) }

func (r *Region) SetByte(off int, v byte) error { return r.Put(off, []byte{v}) }

func (r *Region) Uint16(off int) (uint16, error) {
	var b [2]byte
	if err := r.Get(off, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func (r *Region) SetUint16(off int, v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return r.Put(off, b[:])
}

func (r *Region) Uint32(off int) (uint32, error) {
	var b [4]byte
	if err := r.Get(off, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (r *Region) SetUint32(off int, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return r.Put(off, b[:])
}

func (r *Region) Uint64(off int) (uint64, error) {
	var b [8]byte
	if err := r.Get(off, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func (r *Region) SetUint64(off int, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return r.Put(off, b[:])
}

func (r *Region) Int32(off int) (int32, error) {
	v, err := r.Uint32(off)
	return int32(v), err
}

func (r *Region) SetInt32(off int, v int32) error { return r.SetUint32(off, uint32(v)) }

func (r *Region) Int64(off int) (int64, error) {
	v, err := r.Uint64(off)
	return int64(v), err
}

func (r *Region) SetInt64(off int, v int64) error { return r.SetUint64(off, uint64(v)) }
