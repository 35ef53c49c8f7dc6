package wal

import (
	pagemanager "github.com/sushant-115/bonsaidb/core/write_engine/page_manager"
)

// TrackedBuffer is a page buffer whose writes all go through a
// PageChangeLog.
type TrackedBuffer struct {
	buf []byte
	log *PageChangeLog
}

var _ pagemanager.Writer = (*TrackedBuffer)(nil)

func NewTrackedBuffer(buf []byte, log *PageChangeLog) *TrackedBuffer {
	return &TrackedBuffer{buf: buf, log: log}
}

func (t *TrackedBuffer) Log() *PageChangeLog { return t.log }

func (t *TrackedBuffer) Len() int { return len(t.buf) }

func (t *TrackedBuffer) ByteAt(off int) (byte, error) {
	return pagemanager.Bytes(t.buf).ByteAt(off)
}

func (t *TrackedBuffer) Get(off int, dst []byte) error {
	return pagemanager.Bytes(t.buf).Get(off, dst)
}

func (t *TrackedBuffer) Put(off int, src []byte) error {
	return t.log.SetBytes(t.buf, off, src)
}

func (t *TrackedBuffer) Move(from, to, n int) error {
	return t.log.MoveData(t.buf, from, to, n)
}
