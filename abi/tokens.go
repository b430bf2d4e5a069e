package abi

// tokens hands out stable non-zero ids for metadata the host refers to by pointer-sized
// value. Metadata lives as long as the runtime, so tokens are never recycled.
type tokens[T comparable] struct {
	ids   map[T]uint32
	items []T
}

func newTokens[T comparable]() *tokens[T] {
	return &tokens[T]{ids: make(map[T]uint32)}
}

func (t *tokens[T]) id(v T) uint32 {
	var zero T
	if v == zero {
		return 0
	}
	if id, ok := t.ids[v]; ok {
		return id
	}
	t.items = append(t.items, v)
	id := uint32(len(t.items))
	t.ids[v] = id
	return id
}

func (t *tokens[T]) get(id uint32) (T, bool) {
	var zero T
	if id == 0 || int(id) > len(t.items) {
		return zero, false
	}
	return t.items[id-1], true
}
