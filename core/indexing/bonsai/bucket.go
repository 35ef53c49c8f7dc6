// Package bonsai implements the bucket page of a bonsai B-tree: a slotted
// region of a page holding sorted entries, a position array growing up from
// the header and entry bodies growing down from the end of the bucket.
package bonsai

import (
	"bytes"
	"fmt"

	"github.com/sushant-115/bonsaidb/core/serialization"
	pagemanager "github.com/sushant-115/bonsaidb/core/write_engine/page_manager"
)

// Comparator orders keys: negative when a < b, zero when equal, positive otherwise.
type Comparator[K any] func(a, b K) int

// Options configure how a bucket is laid out and how its keys are ordered.
type Options[K any] struct {
	// BucketSize is the capacity of the bucket in bytes. Zero means DefaultBucketSize.
	BucketSize int
	Compare    Comparator[K]
	// Registry resolves serializer ids stored in the header. Nil means the
	// default registry.
	Registry *serialization.Registry
	// Legacy formats new buckets in the version-1 layout. Attach ignores it;
	// an existing bucket always uses the version stored in its flags.
	Legacy bool
}

func (o Options[K]) withDefaults() (Options[K], error) {
	if o.Compare == nil {
		return o, ErrNilComparator
	}
	if o.BucketSize == 0 {
		o.BucketSize = DefaultBucketSize
	}
	if MaxEntrySize(o.BucketSize) <= 0 {
		return o, fmt.Errorf("%w: %d bytes leaves no room for entries", ErrInvalidBucketSize, o.BucketSize)
	}
	if o.Registry == nil {
		o.Registry = serialization.NewDefaultRegistry()
	}
	return o, nil
}

// Bucket is a view over one bucket inside a page buffer. It holds no entry
// data of its own; every read and write goes through the buffer, which may
// be a plain page, a change-logging wrapper or a WAL overlay.
type Bucket[K, V any] struct {
	region          *pagemanager.Region
	layout          layout
	leaf            bool
	keySerializer   serialization.BinarySerializer[K]
	valueSerializer serialization.BinarySerializer[V]
	compare         Comparator[K]
	bucketSize      int
	maxEntrySize    int
}

func newBucket[K, V any](buf pagemanager.Writer, offset int, version byte, opts Options[K]) (*Bucket[K, V], error) {
	l, err := layoutFor(version)
	if err != nil {
		return nil, err
	}
	if l.positionSize == 2 && opts.BucketSize > MaxCompactBucketSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d for 16-bit positions", ErrInvalidBucketSize, opts.BucketSize, MaxCompactBucketSize)
	}
	region, err := pagemanager.NewRegion(buf, offset, opts.BucketSize)
	if err != nil {
		return nil, err
	}
	return &Bucket[K, V]{
		region:       region,
		layout:       l,
		compare:      opts.Compare,
		bucketSize:   opts.BucketSize,
		maxEntrySize: MaxEntrySize(opts.BucketSize),
	}, nil
}

// Format initializes a fresh empty bucket at offset and returns a view of it.
// The serializer ids written to the header are the ones given; the bucket
// itself works with their upgraded form for the format version.
func Format[K, V any](
	buf pagemanager.Writer,
	offset int,
	leaf bool,
	keySerializer serialization.BinarySerializer[K],
	valueSerializer serialization.BinarySerializer[V],
	opts Options[K],
) (*Bucket[K, V], error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	version := CurrentVersion
	if opts.Legacy {
		version = LegacyVersion
	}
	b, err := newBucket[K, V](buf, offset, version, opts)
	if err != nil {
		return nil, err
	}
	b.leaf = leaf
	if b.keySerializer, err = UpgradeSerializer(opts.Registry, keySerializer, version); err != nil {
		return nil, err
	}
	if b.valueSerializer, err = UpgradeSerializer(opts.Registry, valueSerializer, version); err != nil {
		return nil, err
	}

	r := b.region
	if err := r.SetInt32(freePointerOffset, int32(b.bucketSize)); err != nil {
		return nil, err
	}
	if err := r.SetInt32(sizeOffset, 0); err != nil {
		return nil, err
	}
	// Clears any deleted flag left by a previous use of the bucket.
	if err := r.SetByte(flagsOffset, encodeFlags(leaf, false, version)); err != nil {
		return nil, err
	}
	for _, off := range []int{freeListPointerOffset, leftSiblingOffset, rightSiblingOffset} {
		if err := b.setHeaderPointer(off, NullPointer); err != nil {
			return nil, err
		}
	}
	if err := r.SetInt64(treeSizeOffset, 0); err != nil {
		return nil, err
	}
	if err := r.SetByte(keySerializerOffset, keySerializer.ID()); err != nil {
		return nil, err
	}
	if err := r.SetByte(valueSerializerOffset, valueSerializer.ID()); err != nil {
		return nil, err
	}
	if b.layout.hasIdentifier {
		if err := r.SetInt64(identifierOffset, 0); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Attach returns a view of an existing bucket at offset. The format version,
// leaf flag and serializers all come from the stored header.
func Attach[K, V any](buf pagemanager.Writer, offset int, opts Options[K]) (*Bucket[K, V], error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	flags, err := buf.ByteAt(offset + flagsOffset)
	if err != nil {
		return nil, err
	}
	version := decodeVersion(flags)
	b, err := newBucket[K, V](buf, offset, version, opts)
	if err != nil {
		return nil, err
	}
	b.leaf = flags&leafFlag != 0

	keyID, err := b.region.Byte(keySerializerOffset)
	if err != nil {
		return nil, err
	}
	valueID, err := b.region.Byte(valueSerializerOffset)
	if err != nil {
		return nil, err
	}
	keySerializer, err := serialization.Lookup[K](opts.Registry, keyID)
	if err != nil {
		return nil, fmt.Errorf("key serializer: %w", err)
	}
	valueSerializer, err := serialization.Lookup[V](opts.Registry, valueID)
	if err != nil {
		return nil, fmt.Errorf("value serializer: %w", err)
	}
	if b.keySerializer, err = UpgradeSerializer(opts.Registry, keySerializer, version); err != nil {
		return nil, err
	}
	if b.valueSerializer, err = UpgradeSerializer(opts.Registry, valueSerializer, version); err != nil {
		return nil, err
	}
	return b, nil
}

// UpgradeSerializer maps a stored serializer to the one a format version
// actually writes with. The compact format replaces fixed-width links and
// integers with their varint forms.
func UpgradeSerializer[T any](reg *serialization.Registry, s serialization.BinarySerializer[T], version byte) (serialization.BinarySerializer[T], error) {
	switch version {
	case LegacyVersion:
		return s, nil
	case CompactVersion:
		switch s.ID() {
		case serialization.LinkSerializerID:
			return serialization.Lookup[T](reg, serialization.VarLinkSerializerID)
		case serialization.IntegerSerializerID:
			return serialization.Lookup[T](reg, serialization.VarUnsignedIntegerSerializerID)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, version)
	}
}

func (b *Bucket[K, V]) Version() byte     { return b.layout.version }
func (b *Bucket[K, V]) IsLeaf() bool      { return b.leaf }
func (b *Bucket[K, V]) Offset() int       { return b.region.Base() }
func (b *Bucket[K, V]) BucketSize() int   { return b.bucketSize }
func (b *Bucket[K, V]) MaxEntrySize() int { return b.maxEntrySize }
func (b *Bucket[K, V]) PointerSize() int  { return b.layout.pointerSize }
func (b *Bucket[K, V]) PositionSize() int { return b.layout.positionSize }
func (b *Bucket[K, V]) KeySerializer() serialization.BinarySerializer[K] {
	return b.keySerializer
}
func (b *Bucket[K, V]) ValueSerializer() serialization.BinarySerializer[V] {
	return b.valueSerializer
}

// Size returns the number of entries.
func (b *Bucket[K, V]) Size() (int, error) {
	n, err := b.region.Int32(sizeOffset)
	return int(n), err
}

func (b *Bucket[K, V]) IsEmpty() (bool, error) {
	n, err := b.Size()
	return n == 0, err
}

func (b *Bucket[K, V]) setSize(n int) error {
	return b.region.SetInt32(sizeOffset, int32(n))
}

func (b *Bucket[K, V]) freePointer() (int, error) {
	fp, err := b.region.Int32(freePointerOffset)
	return int(fp), err
}

func (b *Bucket[K, V]) setFreePointer(fp int) error {
	return b.region.SetInt32(freePointerOffset, int32(fp))
}

// FreeSpace is the gap between the end of the position array and the lowest
// entry body.
func (b *Bucket[K, V]) FreeSpace() (int, error) {
	size, err := b.Size()
	if err != nil {
		return 0, err
	}
	fp, err := b.freePointer()
	if err != nil {
		return 0, err
	}
	return fp - b.positionOffset(size), nil
}

func (b *Bucket[K, V]) positionOffset(index int) int {
	return b.layout.positionsArrayOffset + index*b.layout.positionSize
}

func (b *Bucket[K, V]) readPosition(index int) (int, error) {
	off := b.positionOffset(index)
	var pos int
	if b.layout.positionSize == 2 {
		v, err := b.region.Uint16(off)
		if err != nil {
			return 0, err
		}
		pos = int(v)
	} else {
		v, err := b.region.Int32(off)
		if err != nil {
			return 0, err
		}
		pos = int(v)
	}
	if pos < b.layout.positionsArrayOffset || pos >= b.bucketSize {
		return 0, fmt.Errorf("%w: slot %d points at %d, bucket is %d bytes", ErrPositionOutOfRange, index, pos, b.bucketSize)
	}
	return pos, nil
}

func (b *Bucket[K, V]) writePosition(index, pos int) error {
	off := b.positionOffset(index)
	if b.layout.positionSize == 2 {
		if pos < 0 || pos > 0xFFFF {
			return fmt.Errorf("%w: %d does not fit 16 bits", ErrPositionOutOfRange, pos)
		}
		return b.region.SetUint16(off, uint16(pos))
	}
	return b.region.SetInt32(off, int32(pos))
}

// entryPosition validates index against the current size and returns where
// that entry's body starts.
func (b *Bucket[K, V]) entryPosition(index int) (int, int, error) {
	size, err := b.Size()
	if err != nil {
		return 0, 0, err
	}
	if index < 0 || index >= size {
		return 0, 0, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, size)
	}
	pos, err := b.readPosition(index)
	return pos, size, err
}

// GetKey returns the key of entry index.
func (b *Bucket[K, V]) GetKey(index int) (K, error) {
	var zero K
	pos, _, err := b.entryPosition(index)
	if err != nil {
		return zero, err
	}
	if !b.leaf {
		pos += 2 * b.layout.pointerSize
	}
	return b.keySerializer.Deserialize(b.region, pos)
}

// GetEntry returns entry index. Leaf entries carry NullPointer children;
// internal entries carry the zero value.
func (b *Bucket[K, V]) GetEntry(index int) (Entry[K, V], error) {
	var e Entry[K, V]
	pos, _, err := b.entryPosition(index)
	if err != nil {
		return e, err
	}
	if b.leaf {
		key, err := b.keySerializer.Deserialize(b.region, pos)
		if err != nil {
			return e, err
		}
		keySize, err := b.keySerializer.SizeIn(b.region, pos)
		if err != nil {
			return e, err
		}
		value, err := b.valueSerializer.Deserialize(b.region, pos+keySize)
		if err != nil {
			return e, err
		}
		return LeafEntry(key, value), nil
	}

	ps := b.layout.pointerSize
	raw, err := b.region.Bytes(pos, 2*ps)
	if err != nil {
		return e, err
	}
	key, err := b.keySerializer.Deserialize(b.region, pos+2*ps)
	if err != nil {
		return e, err
	}
	return InternalEntry[K, V](b.layout.decodePointer(raw[:ps]), b.layout.decodePointer(raw[ps:]), key), nil
}

// Find binary-searches for key. It returns the entry index when present and
// -(insertionPoint+1) otherwise.
func (b *Bucket[K, V]) Find(key K) (int, error) {
	size, err := b.Size()
	if err != nil {
		return 0, err
	}
	key = b.keySerializer.Preprocess(key)
	if any(key) == nil {
		return 0, ErrNilKey
	}
	low, high := 0, size-1
	for low <= high {
		mid := int(uint(low+high) >> 1)
		midKey, err := b.GetKey(mid)
		if err != nil {
			return 0, err
		}
		switch cmp := b.compare(midKey, key); {
		case cmp < 0:
			low = mid + 1
		case cmp > 0:
			high = mid - 1
		default:
			return mid, nil
		}
	}
	return -(low + 1), nil
}

func (b *Bucket[K, V]) encodeEntry(e Entry[K, V]) ([]byte, error) {
	key := b.keySerializer.Preprocess(e.Key)
	if any(key) == nil {
		return nil, ErrNilKey
	}
	keySize := b.keySerializer.Size(key)

	if b.leaf {
		value := b.valueSerializer.Preprocess(e.Value)
		valueSize := b.valueSerializer.Size(value)
		if keySize+valueSize > b.maxEntrySize {
			return nil, fmt.Errorf("%w: %d bytes, at most %d", ErrEntryTooLarge, keySize+valueSize, b.maxEntrySize)
		}
		body := make([]byte, keySize+valueSize)
		if err := b.keySerializer.Serialize(key, body[:keySize]); err != nil {
			return nil, err
		}
		if err := b.valueSerializer.Serialize(value, body[keySize:]); err != nil {
			return nil, err
		}
		return body, nil
	}

	ps := b.layout.pointerSize
	body := make([]byte, 2*ps+keySize)
	if err := b.layout.encodePointer(e.LeftChild, body[:ps]); err != nil {
		return nil, err
	}
	if err := b.layout.encodePointer(e.RightChild, body[ps:2*ps]); err != nil {
		return nil, err
	}
	if err := b.keySerializer.Serialize(key, body[2*ps:]); err != nil {
		return nil, err
	}
	return body, nil
}

// AddEntry inserts e at index, shifting later entries right. It returns
// false, leaving the bucket untouched, when the bucket holds more than one
// entry and e does not fit; the caller is expected to split. An entry that
// does not fit a bucket holding at most one entry can never be stored and
// fails with ErrEntryTooLarge.
//
// For internal buckets with updateNeighbors set, the neighbours' child
// pointers are rewired so that the next entry's left child becomes
// e.RightChild and the previous entry's right child becomes e.LeftChild.
func (b *Bucket[K, V]) AddEntry(index int, e Entry[K, V], updateNeighbors bool) (bool, error) {
	size, err := b.Size()
	if err != nil {
		return false, err
	}
	if index < 0 || index > size {
		return false, fmt.Errorf("%w: %d not in [0, %d]", ErrIndexOutOfRange, index, size)
	}
	body, err := b.encodeEntry(e)
	if err != nil {
		return false, err
	}
	entrySize := len(body)

	fp, err := b.freePointer()
	if err != nil {
		return false, err
	}
	if fp-entrySize < b.positionOffset(size+1) {
		if size > 1 {
			return false, nil
		}
		return false, fmt.Errorf("%w: %d byte entry does not fit a %d byte bucket holding %d entries",
			ErrEntryTooLarge, entrySize, b.bucketSize, size)
	}

	if index < size {
		ps := b.layout.positionSize
		if err := b.region.Move(b.positionOffset(index), b.positionOffset(index+1), (size-index)*ps); err != nil {
			return false, err
		}
	}

	fp -= entrySize
	if err := b.setFreePointer(fp); err != nil {
		return false, err
	}
	if err := b.writePosition(index, fp); err != nil {
		return false, err
	}
	size++
	if err := b.setSize(size); err != nil {
		return false, err
	}
	if err := b.region.Put(fp, body); err != nil {
		return false, err
	}

	if !b.leaf && updateNeighbors && size > 1 {
		ps := b.layout.pointerSize
		if index < size-1 {
			next, err := b.readPosition(index + 1)
			if err != nil {
				return false, err
			}
			if err := b.region.Put(next, body[ps:2*ps]); err != nil {
				return false, err
			}
		}
		if index > 0 {
			prev, err := b.readPosition(index - 1)
			if err != nil {
				return false, err
			}
			if err := b.region.Put(prev+ps, body[:ps]); err != nil {
				return false, err
			}
		}
	}
	return true, nil
}

// AddAll appends entries at indexes 0..len-1 without touching neighbours.
func (b *Bucket[K, V]) AddAll(entries []Entry[K, V]) error {
	for i, e := range entries {
		ok, err := b.AddEntry(i, e, false)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: entry %d of %d", ErrBucketFull, i, len(entries))
		}
	}
	return nil
}

func (b *Bucket[K, V]) leafEntrySize(pos int) (keySize, valueSize int, err error) {
	if keySize, err = b.keySerializer.SizeIn(b.region, pos); err != nil {
		return 0, 0, err
	}
	if valueSize, err = b.valueSerializer.SizeIn(b.region, pos+keySize); err != nil {
		return 0, 0, err
	}
	return keySize, valueSize, nil
}

// Remove deletes entry index from a leaf bucket and compacts the entry
// area: bodies stored below the removed one shift up by its size, so the
// free region stays contiguous.
func (b *Bucket[K, V]) Remove(index int) error {
	if !b.leaf {
		return ErrNotLeaf
	}
	entryPos, size, err := b.entryPosition(index)
	if err != nil {
		return err
	}
	keySize, valueSize, err := b.leafEntrySize(entryPos)
	if err != nil {
		return err
	}
	entrySize := keySize + valueSize

	ps := b.layout.positionSize
	if index < size-1 {
		if err := b.region.Move(b.positionOffset(index+1), b.positionOffset(index), (size-index-1)*ps); err != nil {
			return err
		}
	}
	size--
	if err := b.setSize(size); err != nil {
		return err
	}

	fp, err := b.freePointer()
	if err != nil {
		return err
	}
	if size > 0 && entryPos > fp {
		if err := b.region.Move(fp, fp+entrySize, entryPos-fp); err != nil {
			return err
		}
	}
	if err := b.setFreePointer(fp + entrySize); err != nil {
		return err
	}

	for i := 0; i < size; i++ {
		pos, err := b.readPosition(i)
		if err != nil {
			return err
		}
		if pos < entryPos {
			if err := b.writePosition(i, pos+entrySize); err != nil {
				return err
			}
		}
	}
	return nil
}

// UpdateValue replaces the value of leaf entry index when the new encoding
// has the same length as the stored one. A different length yields Reinsert
// without modifying the bucket.
func (b *Bucket[K, V]) UpdateValue(index int, value V) (UpdateResult, error) {
	if !b.leaf {
		return NoChange, ErrNotLeaf
	}
	pos, _, err := b.entryPosition(index)
	if err != nil {
		return NoChange, err
	}
	keySize, oldSize, err := b.leafEntrySize(pos)
	if err != nil {
		return NoChange, err
	}
	value = b.valueSerializer.Preprocess(value)
	newSize := b.valueSerializer.Size(value)
	if oldSize != newSize {
		if keySize+newSize > b.maxEntrySize {
			return NoChange, fmt.Errorf("%w: %d bytes, at most %d", ErrEntryTooLarge, keySize+newSize, b.maxEntrySize)
		}
		return Reinsert, nil
	}

	oldBytes, err := b.region.Bytes(pos+keySize, oldSize)
	if err != nil {
		return NoChange, err
	}
	newBytes, err := serialization.Marshal(b.valueSerializer, value)
	if err != nil {
		return NoChange, err
	}
	if bytes.Equal(oldBytes, newBytes) {
		return NoChange, nil
	}
	if err := b.region.Put(pos+keySize, newBytes); err != nil {
		return NoChange, err
	}
	return Updated, nil
}

// Shrink keeps only the first newSize entries and rewrites them compactly.
func (b *Bucket[K, V]) Shrink(newSize int) error {
	size, err := b.Size()
	if err != nil {
		return err
	}
	if newSize < 0 || newSize > size {
		return fmt.Errorf("%w: shrink to %d of %d entries", ErrIndexOutOfRange, newSize, size)
	}
	kept := make([]Entry[K, V], 0, newSize)
	for i := 0; i < newSize; i++ {
		e, err := b.GetEntry(i)
		if err != nil {
			return err
		}
		kept = append(kept, e)
	}

	if err := b.setFreePointer(b.bucketSize); err != nil {
		return err
	}
	if err := b.setSize(0); err != nil {
		return err
	}
	return b.AddAll(kept)
}

func (b *Bucket[K, V]) headerPointer(off int) (BucketPointer, error) {
	raw, err := b.region.Bytes(off, headerPointerSize)
	if err != nil {
		return NullPointer, err
	}
	return decodeLegacyPointer(raw), nil
}

func (b *Bucket[K, V]) setHeaderPointer(off int, p BucketPointer) error {
	var raw [headerPointerSize]byte
	encodeLegacyPointer(p, raw[:])
	return b.region.Put(off, raw[:])
}

func (b *Bucket[K, V]) FreeListPointer() (BucketPointer, error) {
	return b.headerPointer(freeListPointerOffset)
}

func (b *Bucket[K, V]) SetFreeListPointer(p BucketPointer) error {
	return b.setHeaderPointer(freeListPointerOffset, p)
}

func (b *Bucket[K, V]) LeftSibling() (BucketPointer, error) {
	return b.headerPointer(leftSiblingOffset)
}

func (b *Bucket[K, V]) SetLeftSibling(p BucketPointer) error {
	return b.setHeaderPointer(leftSiblingOffset, p)
}

func (b *Bucket[K, V]) RightSibling() (BucketPointer, error) {
	return b.headerPointer(rightSiblingOffset)
}

func (b *Bucket[K, V]) SetRightSibling(p BucketPointer) error {
	return b.setHeaderPointer(rightSiblingOffset, p)
}

func (b *Bucket[K, V]) TreeSize() (int64, error) {
	return b.region.Int64(treeSizeOffset)
}

func (b *Bucket[K, V]) SetTreeSize(n int64) error {
	return b.region.SetInt64(treeSizeOffset, n)
}

// KeySerializerID returns the id stored in the header, before any upgrade.
func (b *Bucket[K, V]) KeySerializerID() (byte, error) {
	return b.region.Byte(keySerializerOffset)
}

// ValueSerializerID returns the id stored in the header, before any upgrade.
func (b *Bucket[K, V]) ValueSerializerID() (byte, error) {
	return b.region.Byte(valueSerializerOffset)
}

func (b *Bucket[K, V]) IsDeleted() (bool, error) {
	flags, err := b.region.Byte(flagsOffset)
	return flags&deletedFlag != 0, err
}

func (b *Bucket[K, V]) SetDeleted(deleted bool) error {
	flags, err := b.region.Byte(flagsOffset)
	if err != nil {
		return err
	}
	if deleted {
		flags |= deletedFlag
	} else {
		flags &^= deletedFlag
	}
	return b.region.SetByte(flagsOffset, flags)
}

// MarkDeleted flags the bucket as deleted and links it in front of next on
// the free list.
func (b *Bucket[K, V]) MarkDeleted(next BucketPointer) error {
	if err := b.SetDeleted(true); err != nil {
		return err
	}
	return b.SetFreeListPointer(next)
}

// Identifier returns the tree identifier kept by root buckets. Legacy
// buckets have no identifier field and always report 0.
func (b *Bucket[K, V]) Identifier() (int64, error) {
	if !b.layout.hasIdentifier {
		return 0, nil
	}
	return b.region.Int64(identifierOffset)
}

// SetIdentifier stores id in the root identifier field. It is a no-op on
// legacy buckets.
func (b *Bucket[K, V]) SetIdentifier(id int64) error {
	if !b.layout.hasIdentifier {
		return nil
	}
	return b.region.SetInt64(identifierOffset, id)
}
