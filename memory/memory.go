// Package memory provides the linear memory abstractions the bridge ABI works over.
//
// Memory and Allocator mirror what a wasm guest exposes: a flat little-endian byte
// space plus malloc/free exports. Linear is an in-process implementation used when the
// host and the bridge share an address space; Wrap adapts a wazero api.Memory for a real
// guest instance.
package memory

// Memory represents guest linear memory
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU8(offset uint32) (uint8, error)
	ReadU32(offset uint32) (uint32, error)
	WriteU8(offset uint32, value uint8) error
	WriteU32(offset uint32, value uint32) error
}

// Allocator allocates memory in guest linear memory with malloc/free semantics.
// Alloc never returns 0 on success.
type Allocator interface {
	Alloc(size uint32) (uint32, error)
	Free(ptr uint32)
}

// ReadCString reads a NUL-terminated string starting at ptr.
// A zero ptr yields the empty string.
func ReadCString(mem Memory, ptr uint32) (string, error) {
	if ptr == 0 {
		return "", nil
	}
	var buf []byte
	for off := ptr; ; off++ {
		b, err := mem.ReadU8(off)
		if err != nil {
			return "", err
		}
		if b == 0 {
			break
		}
		buf = append(buf, b)
	}
	return string(buf), nil
}

// WriteCString allocates and writes s with a terminating NUL.
func WriteCString(mem Memory, alloc Allocator, s string) (uint32, error) {
	ptr, err := alloc.Alloc(uint32(len(s)) + 1)
	if err != nil {
		return 0, err
	}
	data := make([]byte, len(s)+1)
	copy(data, s)
	if err := mem.Write(ptr, data); err != nil {
		alloc.Free(ptr)
		return 0, err
	}
	return ptr, nil
}

// WriteBytes allocates len(data) bytes and copies data into them.
func WriteBytes(mem Memory, alloc Allocator, data []byte) (uint32, error) {
	size := uint32(len(data))
	if size == 0 {
		size = 1
	}
	ptr, err := alloc.Alloc(size)
	if err != nil {
		return 0, err
	}
	if err := mem.Write(ptr, data); err != nil {
		alloc.Free(ptr)
		return 0, err
	}
	return ptr, nil
}

// WriteLengthPrefixed allocates a 4-byte little-endian length followed by data.
func WriteLengthPrefixed(mem Memory, alloc Allocator, data []byte) (uint32, error) {
	ptr, err := alloc.Alloc(4 + uint32(len(data)))
	if err != nil {
		return 0, err
	}
	if err := mem.WriteU32(ptr, uint32(len(data))); err != nil {
		alloc.Free(ptr)
		return 0, err
	}
	if err := mem.Write(ptr+4, data); err != nil {
		alloc.Free(ptr)
		return 0, err
	}
	return ptr, nil
}

// ReadLengthPrefixed reads a buffer written by WriteLengthPrefixed.
func ReadLengthPrefixed(mem Memory, ptr uint32) ([]byte, error) {
	n, err := mem.ReadU32(ptr)
	if err != nil {
		return nil, err
	}
	return mem.Read(ptr+4, n)
}
