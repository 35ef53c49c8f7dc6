package serialization

import (
	"fmt"
	"sort"
)

// Registry maps serializer ids to implementations. It is built once and
// passed to whoever needs to resolve ids read from disk.
type Registry struct {
	byID map[byte]any
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[byte]any)}
}

// NewDefaultRegistry returns a registry holding every built-in serializer.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	mustRegister[int32](r, IntegerSerializer{})
	mustRegister[int64](r, LongSerializer{})
	mustRegister[Identifiable](r, LinkSerializer{})
	mustRegister[int32](r, VarUnsignedIntegerSerializer{})
	mustRegister[Identifiable](r, VarLinkSerializer{})
	return r
}

func mustRegister[T any](r *Registry, s BinarySerializer[T]) {
	if err := Register(r, s); err != nil {
		panic(err)
	}
}

// Register adds s under its id.
func Register[T any](r *Registry, s BinarySerializer[T]) error {
	if _, ok := r.byID[s.ID()]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateSerializer, s.ID())
	}
	r.byID[s.ID()] = s
	return nil
}

// Lookup resolves id to a serializer of T.
func Lookup[T any](r *Registry, id byte) (BinarySerializer[T], error) {
	raw, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSerializer, id)
	}
	s, ok := raw.(BinarySerializer[T])
	if !ok {
		return nil, fmt.Errorf("%w: id %d is %T", ErrSerializerTypeMismatch, id, raw)
	}
	return s, nil
}

// IDs lists the registered ids in ascending order.
func (r *Registry) IDs() []byte {
	ids := make([]byte, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
