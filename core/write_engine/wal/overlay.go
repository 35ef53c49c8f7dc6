package wal

import (
	"bytes"
	"fmt"
	"sort"

	pagemanager "github.com/sushant-115/bonsaidb/core/write_engine/page_manager"
)

const overlayPortionSize = 64

// Overlay shadows a base page with sparse written portions. Reads see the
// written bytes where present and the base elsewhere; the base itself is
// never modified until ApplyTo is called.
type Overlay struct {
	base     []byte
	portions map[int][]byte // portion index -> full copy of that portion
}

var _ pagemanager.Writer = (*Overlay)(nil)

func NewOverlay(base []byte) *Overlay {
	return &Overlay{base: base, portions: make(map[int][]byte)}
}

func (o *Overlay) Len() int { return len(o.base) }

func (o *Overlay) HasChanges() bool { return len(o.portions) > 0 }

func (o *Overlay) check(off, n int) error {
	if off < 0 || n < 0 || off+n > len(o.base) {
		return fmt.Errorf("%w: [%d, %d) of %d bytes", pagemanager.ErrOutOfBounds, off, off+n, len(o.base))
	}
	return nil
}

func (o *Overlay) ByteAt(off int) (byte, error) {
	if err := o.check(off, 1); err != nil {
		return 0, err
	}
	if p, ok := o.portions[off/overlayPortionSize]; ok {
		return p[off%overlayPortionSize], nil
	}
	return o.base[off], nil
}

func (o *Overlay) Get(off int, dst []byte) error {
	if err := o.check(off, len(dst)); err != nil {
		return err
	}
	for i := 0; i < len(dst); {
		idx, in := (off+i)/overlayPortionSize, (off+i)%overlayPortionSize
		n := min(overlayPortionSize-in, len(dst)-i)
		if p, ok := o.portions[idx]; ok {
			copy(dst[i:i+n], p[in:])
		} else {
			copy(dst[i:i+n], o.base[off+i:])
		}
		i += n
	}
	return nil
}

func (o *Overlay) portion(idx int) []byte {
	if p, ok := o.portions[idx]; ok {
		return p
	}
	start := idx * overlayPortionSize
	end := min(start+overlayPortionSize, len(o.base))
	p := make([]byte, overlayPortionSize)
	copy(p, o.base[start:end])
	o.portions[idx] = p
	return p
}

func (o *Overlay) Put(off int, src []byte) error {
	if err := o.check(off, len(src)); err != nil {
		return err
	}
	for i := 0; i < len(src); {
		idx, in := (off+i)/overlayPortionSize, (off+i)%overlayPortionSize
		n := min(overlayPortionSize-in, len(src)-i)
		copy(o.portion(idx)[in:], src[i:i+n])
		i += n
	}
	return nil
}

func (o *Overlay) Move(from, to, n int) error {
	if err := o.check(from, n); err != nil {
		return err
	}
	if err := o.check(to, n); err != nil {
		return err
	}
	tmp := make([]byte, n)
	if err := o.Get(from, tmp); err != nil {
		return err
	}
	return o.Put(to, tmp)
}

func (o *Overlay) sortedPortions() []int {
	idx := make([]int, 0, len(o.portions))
	for i := range o.portions {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

func (o *Overlay) portionBounds(idx int) (int, int) {
	start := idx * overlayPortionSize
	return start, min(start+overlayPortionSize, len(o.base))
}

// ApplyTo copies every written portion into buf.
func (o *Overlay) ApplyTo(buf []byte) error {
	if len(buf) < len(o.base) {
		return fmt.Errorf("%w: overlay of %d bytes onto %d byte page", pagemanager.ErrOutOfBounds, len(o.base), len(buf))
	}
	for _, idx := range o.sortedPortions() {
		start, end := o.portionBounds(idx)
		copy(buf[start:end], o.portions[idx])
	}
	return nil
}

// ToPageChangeLog converts the overlay into a change log whose Redo turns
// the base into the overlay view and whose Undo reverses that. Portions
// that ended up identical to the base are skipped.
func (o *Overlay) ToPageChangeLog() *PageChangeLog {
	l := NewPageChangeLog()
	for _, idx := range o.sortedPortions() {
		start, end := o.portionBounds(idx)
		after := o.portions[idx][:end-start]
		before := o.base[start:end]
		if bytes.Equal(before, after) {
			continue
		}
		l.changes = append(l.changes, PageChange{
			Offset: start,
			Before: bytes.Clone(before),
			After:  bytes.Clone(after),
		})
	}
	return l
}
