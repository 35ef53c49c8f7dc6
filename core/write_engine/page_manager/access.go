package pagemanager

import "fmt"

// Reader gives random read access to page bytes.
type Reader interface {
	Len() int
	ByteAt(off int) (byte, error)
	// Get copies len(dst) bytes starting at off into dst.
	Get(off int, dst []byte) error
}

// Writer is a Reader that accepts writes. Implementations decide whether a
// write lands in the buffer directly, gets logged, or is shadowed.
type Writer interface {
	Reader
	Put(off int, src []byte) error
	// Move copies n bytes from one offset to another; the ranges may overlap.
	Move(from, to, n int) error
}

func checkRange(length, off, n int) error {
	if off < 0 || n < 0 || off+n > length {
		return fmt.Errorf("%w: [%d, %d) of %d bytes", ErrOutOfBounds, off, off+n, length)
	}
	return nil
}

// Bytes writes straight into the wrapped slice.
type Bytes []byte

func (b Bytes) Len() int { return len(b) }

func (b Bytes) ByteAt(off int) (byte, error) {
	if err := checkRange(len(b), off, 1); err != nil {
		return 0, err
	}
	return b[off], nil
}

func (b Bytes) Get(off int, dst []byte) error {
	if err := checkRange(len(b), off, len(dst)); err != nil {
		return err
	}
	copy(dst, b[off:])
	return nil
}

func (b Bytes) Put(off int, src []byte) error {
	if err := checkRange(len(b), off, len(src)); err != nil {
		return err
	}
	copy(b[off:], src)
	return nil
}

func (b Bytes) Move(from, to, n int) error {
	if err := checkRange(len(b), from, n); err != nil {
		return err
	}
	if err := checkRange(len(b), to, n); err != nil {
		return err
	}
	copy(b[to:to+n], b[from:from+n])
	return nil
}

// ReadOnly exposes a Reader through the Writer interface and rejects every
// write with ErrReadOnly.
type ReadOnly struct {
	Reader
}

func (ReadOnly) Put(int, []byte) error { return ErrReadOnly }

func (ReadOnly) Move(int, int, int) error { return ErrReadOnly }
