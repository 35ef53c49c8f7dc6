package bonsai

import (
	"fmt"

	pagemanager "github.com/sushant-115/bonsaidb/core/write_engine/page_manager"
)

// On-disk format versions, stored in bits 2..5 of the flags byte.
const (
	LegacyVersion  byte = 0 // 4-byte positions, 12-byte child pointers
	CompactVersion byte = 1 // 2-byte positions, 10-byte child pointers, root identifier

	CurrentVersion = CompactVersion
)

const (
	leafFlag     = 0x01
	deletedFlag  = 0x02
	versionMask  = 0x3C
	versionShift = 2
)

// Header fields, relative to the start of the bucket. Header pointers keep
// the legacy 12-byte slot in every version.
const (
	headerPointerSize = 8 + 4

	freePointerOffset     = pagemanager.LSNAnchorSize
	sizeOffset            = freePointerOffset + 4
	flagsOffset           = sizeOffset + 4
	freeListPointerOffset = flagsOffset + 1
	leftSiblingOffset     = freeListPointerOffset + headerPointerSize
	rightSiblingOffset    = leftSiblingOffset + headerPointerSize
	treeSizeOffset        = rightSiblingOffset + headerPointerSize
	keySerializerOffset   = treeSizeOffset + 8
	valueSerializerOffset = keySerializerOffset + 1
	identifierOffset      = valueSerializerOffset + 1
)

const (
	DefaultBucketSize = 2 * 1024
	// MaxCompactBucketSize bounds buckets whose positions are 16 bits wide.
	MaxCompactBucketSize = 1 << 16
)

// MaxEntrySize is the largest serialized key plus value a leaf of the given
// size accepts. It leaves room for the header, the tree id, one position slot
// and two child pointers, so that any leaf entry also fits an internal bucket.
func MaxEntrySize(bucketSize int) int {
	return bucketSize - valueSerializerOffset - 1 - 8 - 4 - 2*headerPointerSize
}

// layout carries the widths that depend on the format version.
type layout struct {
	version              byte
	positionSize         int
	pointerSize          int
	positionsArrayOffset int
	hasIdentifier        bool
}

func layoutFor(version byte) (layout, error) {
	switch version {
	case LegacyVersion:
		return layout{
			version:              LegacyVersion,
			positionSize:         4,
			pointerSize:          8 + 4,
			positionsArrayOffset: valueSerializerOffset + 1,
		}, nil
	case CompactVersion:
		return layout{
			version:              CompactVersion,
			positionSize:         2,
			pointerSize:          8 + 2,
			positionsArrayOffset: identifierOffset + 8,
			hasIdentifier:        true,
		}, nil
	default:
		return layout{}, fmt.Errorf("%w: %d", ErrUnknownVersion, version)
	}
}

func encodeFlags(leaf, deleted bool, version byte) byte {
	var flags byte
	if leaf {
		flags |= leafFlag
	}
	if deleted {
		flags |= deletedFlag
	}
	return flags | (version<<versionShift)&versionMask
}

func decodeVersion(flags byte) byte {
	return (flags & versionMask) >> versionShift
}
