package bonsai

import "fmt"

// Entry is a key with either a value (leaf buckets) or the two children it
// separates (internal buckets). Entries are returned by value; changing one
// never changes the bucket it was read from.
type Entry[K, V any] struct {
	LeftChild  BucketPointer
	RightChild BucketPointer
	Key        K
	Value      V
}

func LeafEntry[K, V any](key K, value V) Entry[K, V] {
	return Entry[K, V]{LeftChild: NullPointer, RightChild: NullPointer, Key: key, Value: value}
}

func InternalEntry[K, V any](left, right BucketPointer, key K) Entry[K, V] {
	return Entry[K, V]{LeftChild: left, RightChild: right, Key: key}
}

func (e Entry[K, V]) String() string {
	return fmt.Sprintf("{left: %v, right: %v, key: %v, value: %v}", e.LeftChild, e.RightChild, e.Key, e.Value)
}

// UpdateResult reports what UpdateValue did.
type UpdateResult int

const (
	// NoChange means the new value encodes to the bytes already stored.
	NoChange UpdateResult = iota
	// Updated means the value was rewritten in place.
	Updated
	// Reinsert means the new value has a different encoded size; the caller
	// must remove the entry and add it back.
	Reinsert
)

func (r UpdateResult) String() string {
	switch r {
	case NoChange:
		return "NoChange"
	case Updated:
		return "Updated"
	case Reinsert:
		return "Reinsert"
	default:
		return fmt.Sprintf("UpdateResult(%d)", int(r))
	}
}
