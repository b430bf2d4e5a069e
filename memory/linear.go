package memory

import (
	"encoding/binary"
	"sort"

	"github.com/wippyai/isolator/errors"
)

const (
	pageSize  = 64 * 1024
	alignment = 8
)

// Linear is a slice-backed Memory and Allocator. Address 0 is never handed out.
// Not safe for concurrent use.
type Linear struct {
	data     []byte
	maxPages uint32
	top      uint32
	live     map[uint32]uint32
	free     []block
}

type block struct {
	ptr  uint32
	size uint32
}

// NewLinear creates a memory of initialPages that can grow to maxPages.
func NewLinear(initialPages, maxPages uint32) *Linear {
	if initialPages == 0 {
		initialPages = 1
	}
	if maxPages < initialPages {
		maxPages = initialPages
	}
	return &Linear{
		data:     make([]byte, initialPages*pageSize),
		maxPages: maxPages,
		top:      alignment,
		live:     make(map[uint32]uint32),
	}
}

// Size returns the current memory size in bytes.
func (m *Linear) Size() uint32 {
	return uint32(len(m.data))
}

// Live returns the number of outstanding allocations.
func (m *Linear) Live() int {
	return len(m.live)
}

func (m *Linear) bounds(offset, length uint32) error {
	end := uint64(offset) + uint64(length)
	if end > uint64(len(m.data)) {
		return errors.OutOfBounds(errors.PhaseABI, offset, length)
	}
	return nil
}

// Read returns a copy of length bytes at offset.
func (m *Linear) Read(offset uint32, length uint32) ([]byte, error) {
	if err := m.bounds(offset, length); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, m.data[offset:offset+length])
	return out, nil
}

// Write copies data to offset.
func (m *Linear) Write(offset uint32, data []byte) error {
	if err := m.bounds(offset, uint32(len(data))); err != nil {
		return err
	}
	copy(m.data[offset:], data)
	return nil
}

// ReadU8 reads an unsigned 8-bit value.
func (m *Linear) ReadU8(offset uint32) (uint8, error) {
	if err := m.bounds(offset, 1); err != nil {
		return 0, err
	}
	return m.data[offset], nil
}

// ReadU32 reads an unsigned 32-bit little-endian value.
func (m *Linear) ReadU32(offset uint32) (uint32, error) {
	if err := m.bounds(offset, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.data[offset:]), nil
}

// WriteU8 writes an unsigned 8-bit value.
func (m *Linear) WriteU8(offset uint32, value uint8) error {
	if err := m.bounds(offset, 1); err != nil {
		return err
	}
	m.data[offset] = value
	return nil
}

// WriteU32 writes an unsigned 32-bit little-endian value.
func (m *Linear) WriteU32(offset uint32, value uint32) error {
	if err := m.bounds(offset, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(m.data[offset:], value)
	return nil
}

// Alloc returns a zeroed region of at least size bytes using first-fit reuse.
func (m *Linear) Alloc(size uint32) (uint32, error) {
	if size == 0 {
		size = 1
	}
	size = (size + alignment - 1) &^ (alignment - 1)

	for i, b := range m.free {
		if b.size < size {
			continue
		}
		m.free = append(m.free[:i], m.free[i+1:]...)
		if rest := b.size - size; rest >= alignment {
			m.release(block{ptr: b.ptr + size, size: rest})
		} else {
			size = b.size
		}
		m.live[b.ptr] = size
		clear(m.data[b.ptr : b.ptr+size])
		return b.ptr, nil
	}

	ptr := m.top
	end := uint64(ptr) + uint64(size)
	for end > uint64(len(m.data)) {
		if uint32(len(m.data))/pageSize >= m.maxPages {
			return 0, errors.AllocationFailed(errors.PhaseABI, size)
		}
		m.data = append(m.data, make([]byte, pageSize)...)
	}
	m.top = uint32(end)
	m.live[ptr] = size
	return ptr, nil
}

// Free returns an allocation to the free list. Freeing 0 is a no-op; freeing an
// unknown pointer is ignored.
func (m *Linear) Free(ptr uint32) {
	if ptr == 0 {
		return
	}
	size, ok := m.live[ptr]
	if !ok {
		return
	}
	delete(m.live, ptr)
	m.release(block{ptr: ptr, size: size})
}

// release inserts b into the sorted free list, merging adjacent blocks.
func (m *Linear) release(b block) {
	i := sort.Search(len(m.free), func(i int) bool { return m.free[i].ptr > b.ptr })
	m.free = append(m.free, block{})
	copy(m.free[i+1:], m.free[i:])
	m.free[i] = b

	if i+1 < len(m.free) && m.free[i].ptr+m.free[i].size == m.free[i+1].ptr {
		m.free[i].size += m.free[i+1].size
		m.free = append(m.free[:i+1], m.free[i+2:]...)
	}
	if i > 0 && m.free[i-1].ptr+m.free[i-1].size == m.free[i].ptr {
		m.free[i-1].size += m.free[i].size
		m.free = append(m.free[:i], m.free[i+1:]...)
	}
}
