package wal

import (
	"bytes"
	"encoding/binary"
	"fmt"

	pagemanager "github.com/sushant-115/bonsaidb/core/write_engine/page_manager"
)

// PageChange is one physical modification of a page: the bytes found at
// Offset before the write and the bytes left there after it.
type PageChange struct {
	Offset int
	Before []byte
	After  []byte
}

// PageChangeLog records every byte-level write made to a page during one
// mutation so that it can be rolled back (Undo) or replayed (Redo).
//
// Once serialized the log is sealed and refuses further writes.
type PageChangeLog struct {
	changes []PageChange
	sealed  bool
}

func NewPageChangeLog() *PageChangeLog {
	return &PageChangeLog{}
}

func (l *PageChangeLog) Len() int       { return len(l.changes) }
func (l *PageChangeLog) IsEmpty() bool  { return len(l.changes) == 0 }
func (l *PageChangeLog) IsSealed() bool { return l.sealed }

// Changes returns the recorded changes in application order.
func (l *PageChangeLog) Changes() []PageChange {
	return l.changes
}

func (l *PageChangeLog) checkWrite(buf []byte, off, n int) error {
	if l.sealed {
		return ErrChangeLogSealed
	}
	if off < 0 || n < 0 || off+n > len(buf) {
		return fmt.Errorf("%w: [%d, %d) of %d bytes", pagemanager.ErrOutOfBounds, off, off+n, len(buf))
	}
	return nil
}

// SetBytes writes p into buf at off and records the change.
func (l *PageChangeLog) SetBytes(buf []byte, off int, p []byte) error {
	if err := l.checkWrite(buf, off, len(p)); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	before := bytes.Clone(buf[off : off+len(p)])
	copy(buf[off:], p)
	l.changes = append(l.changes, PageChange{Offset: off, Before: before, After: bytes.Clone(p)})
	return nil
}

func (l *PageChangeLog) SetByte(buf []byte, off int, v byte) error {
	return l.SetBytes(buf, off, []byte{v})
}

func (l *PageChangeLog) SetUint16(buf []byte, off int, v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return l.SetBytes(buf, off, b[:])
}

func (l *PageChangeLog) SetUint32(buf []byte, off int, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return l.SetBytes(buf, off, b[:])
}

func (l *PageChangeLog) SetUint64(buf []byte, off int, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return l.SetBytes(buf, off, b[:])
}

// MoveData copies n bytes from one offset to another. The change is
// recorded at the destination.
func (l *PageChangeLog) MoveData(buf []byte, from, to, n int) error {
	if err := l.checkWrite(buf, from, n); err != nil {
		return err
	}
	if err := l.checkWrite(buf, to, n); err != nil {
		return err
	}
	if n == 0 || from == to {
		return nil
	}
	return l.SetBytes(buf, to, bytes.Clone(buf[from:from+n]))
}

// Undo restores every recorded range to its prior contents, newest change
// first, leaving buf as it was before the first recorded write.
func (l *PageChangeLog) Undo(buf []byte) error {
	for i := len(l.changes) - 1; i >= 0; i-- {
		c := l.changes[i]
		if c.Offset+len(c.Before) > len(buf) {
			return fmt.Errorf("%w: undo at %d overruns %d byte page", pagemanager.ErrOutOfBounds, c.Offset, len(buf))
		}
		copy(buf[c.Offset:], c.Before)
	}
	return nil
}

// Redo reapplies every recorded change in order onto buf.
func (l *PageChangeLog) Redo(buf []byte) error {
	for _, c := range l.changes {
		if c.Offset+len(c.After) > len(buf) {
			return fmt.Errorf("%w: redo at %d overruns %d byte page", pagemanager.ErrOutOfBounds, c.Offset, len(buf))
		}
		copy(buf[c.Offset:], c.After)
	}
	return nil
}

// SerializedSize is the exact length MarshalTo produces:
// count, then per change offset, length, before bytes, after bytes.
func (l *PageChangeLog) SerializedSize() int {
	size := 4
	for _, c := range l.changes {
		size += 4 + 4 + len(c.Before) + len(c.After)
	}
	return size
}

// MarshalTo writes the log into dst and seals it.
func (l *PageChangeLog) MarshalTo(dst []byte) (int, error) {
	size := l.SerializedSize()
	if len(dst) < size {
		return 0, fmt.Errorf("%w: change log needs %d bytes, have %d", ErrCorruptChangeLog, size, len(dst))
	}
	binary.LittleEndian.PutUint32(dst, uint32(len(l.changes)))
	pos := 4
	for _, c := range l.changes {
		binary.LittleEndian.PutUint32(dst[pos:], uint32(c.Offset))
		binary.LittleEndian.PutUint32(dst[pos+4:], uint32(len(c.After)))
		pos += 8
		pos += copy(dst[pos:], c.Before)
		pos += copy(dst[pos:], c.After)
	}
	l.sealed = true
	return pos, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (l *PageChangeLog) MarshalBinary() ([]byte, error) {
	out := make([]byte, l.SerializedSize())
	if _, err := l.MarshalTo(out); err != nil {
		return nil, err
	}
	return out, nil
}

// UnmarshalPageChangeLog decodes a log written by MarshalTo and returns it
// sealed, along with the number of bytes consumed.
func UnmarshalPageChangeLog(data []byte) (*PageChangeLog, int, error) {
	if len(data) < 4 {
		return nil, 0, fmt.Errorf("%w: missing change count", ErrCorruptChangeLog)
	}
	count := int(binary.LittleEndian.Uint32(data))
	pos := 4
	l := &PageChangeLog{sealed: true}
	for i := 0; i < count; i++ {
		if len(data)-pos < 8 {
			return nil, 0, fmt.Errorf("%w: truncated header of change %d", ErrCorruptChangeLog, i)
		}
		off := int(binary.LittleEndian.Uint32(data[pos:]))
		n := int(binary.LittleEndian.Uint32(data[pos+4:]))
		pos += 8
		if n < 0 || len(data)-pos < 2*n {
			return nil, 0, fmt.Errorf("%w: truncated body of change %d", ErrCorruptChangeLog, i)
		}
		l.changes = append(l.changes, PageChange{
			Offset: off,
			Before: bytes.Clone(data[pos : pos+n]),
			After:  bytes.Clone(data[pos+n : pos+2*n]),
		})
		pos += 2 * n
	}
	return l, pos, nil
}
