package bonsai

import (
	"encoding/binary"
	"math"

	"github.com/google/uuid"
)

// NewRootIdentifier returns a random positive identifier for a new tree root.
func NewRootIdentifier() int64 {
	u := uuid.New()
	id := int64(binary.LittleEndian.Uint64(u[:8]) & math.MaxInt64)
	if id == 0 {
		id = 1
	}
	return id
}
