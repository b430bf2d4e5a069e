package memory

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/isolator/errors"
)

// Wrap wraps a wazero api.Memory to implement Memory.
func Wrap(mem api.Memory) Memory {
	if mem == nil {
		return nil
	}
	return &Wrapper{Mem: mem}
}

// WrapAllocator wraps the guest's malloc and free exports to implement Allocator.
// free may be nil, in which case Free is a no-op.
func WrapAllocator(ctx context.Context, malloc, free api.Function) Allocator {
	if malloc == nil {
		return nil
	}
	return &AllocatorWrapper{Ctx: ctx, Malloc: malloc, FreeFn: free}
}

// Wrapper adapts wazero api.Memory to the Memory interface.
type Wrapper struct {
	Mem api.Memory
}

// Read reads bytes from memory.
func (m *Wrapper) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.Mem.Read(offset, length)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseABI, offset, length)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Write writes bytes to memory.
func (m *Wrapper) Write(offset uint32, data []byte) error {
	if !m.Mem.Write(offset, data) {
		return errors.OutOfBounds(errors.PhaseABI, offset, uint32(len(data)))
	}
	return nil
}

// ReadU8 reads an unsigned 8-bit value.
func (m *Wrapper) ReadU8(offset uint32) (uint8, error) {
	v, ok := m.Mem.ReadByte(offset)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseABI, offset, 1)
	}
	return v, nil
}

// ReadU32 reads an unsigned 32-bit little-endian value.
func (m *Wrapper) ReadU32(offset uint32) (uint32, error) {
	v, ok := m.Mem.ReadUint32Le(offset)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseABI, offset, 4)
	}
	return v, nil
}

// WriteU8 writes an unsigned 8-bit value.
func (m *Wrapper) WriteU8(offset uint32, value uint8) error {
	if !m.Mem.WriteByte(offset, value) {
		return errors.OutOfBounds(errors.PhaseABI, offset, 1)
	}
	return nil
}

// WriteU32 writes an unsigned 32-bit little-endian value.
func (m *Wrapper) WriteU32(offset uint32, value uint32) error {
	if !m.Mem.WriteUint32Le(offset, value) {
		return errors.OutOfBounds(errors.PhaseABI, offset, 4)
	}
	return nil
}

// AllocatorWrapper adapts the guest malloc/free exports to Allocator.
type AllocatorWrapper struct {
	Ctx    context.Context
	Malloc api.Function
	FreeFn api.Function
}

// Alloc allocates memory using the guest malloc.
func (a *AllocatorWrapper) Alloc(size uint32) (uint32, error) {
	results, err := a.Malloc.Call(a.Ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("allocation failed: %w", err)
	}
	if len(results) == 0 || results[0] == 0 {
		return 0, errors.AllocationFailed(errors.PhaseABI, size)
	}
	return uint32(results[0]), nil
}

// Free releases memory using the guest free.
func (a *AllocatorWrapper) Free(ptr uint32) {
	if a.FreeFn == nil || ptr == 0 {
		return
	}
	_, _ = a.FreeFn.Call(a.Ctx, uint64(ptr))
}
