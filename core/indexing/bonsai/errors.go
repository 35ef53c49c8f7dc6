package bonsai

import "errors"

var (
	ErrUnknownVersion          = errors.New("unknown bucket format version")
	ErrEntryTooLarge           = errors.New("serialized entry exceeds bucket capacity")
	ErrBucketFull              = errors.New("bucket has no room for entry")
	ErrNotLeaf                 = errors.New("operation applies to leaf buckets only")
	ErrIndexOutOfRange         = errors.New("entry index out of range")
	ErrPositionOutOfRange      = errors.New("entry position outside bucket")
	ErrPointerOffsetOutOfRange = errors.New("bucket pointer offset does not fit the format")
	ErrInvalidBucketSize       = errors.New("invalid bucket size")
	ErrNilComparator           = errors.New("key comparator must be provided")
	ErrNilKey                  = errors.New("nil key")
)
