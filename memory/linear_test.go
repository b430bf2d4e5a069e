package memory

import (
	"testing"
)

func TestLinear_ReadWrite(t *testing.T) {
	m := NewLinear(1, 1)

	if err := m.WriteU32(16, 0xdeadbeef); err != nil {
		t.Fatalf("WriteU32 failed: %v", err)
	}
	v, err := m.ReadU32(16)
	if err != nil {
		t.Fatalf("ReadU32 failed: %v", err)
	}
	if v != 0xdeadbeef {
		t.Fatalf("Expected 0xdeadbeef, got %#x", v)
	}

	b, err := m.Read(16, 4)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if b[0] != 0xef || b[3] != 0xde {
		t.Fatalf("Expected little-endian layout, got %x", b)
	}
}

func TestLinear_OutOfBounds(t *testing.T) {
	m := NewLinear(1, 1)

	if _, err := m.Read(m.Size()-2, 4); err == nil {
		t.Fatal("Expected out of bounds read to fail")
	}
	if err := m.WriteU32(m.Size(), 1); err == nil {
		t.Fatal("Expected out of bounds write to fail")
	}
}

func TestLinear_AllocFree(t *testing.T) {
	m := NewLinear(1, 2)

	a, err := m.Alloc(10)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	if a == 0 {
		t.Fatal("Alloc returned null pointer")
	}
	b, err := m.Alloc(10)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	if b == a {
		t.Fatal("Expected distinct allocations")
	}
	if m.Live() != 2 {
		t.Fatalf("Expected 2 live allocations, got %d", m.Live())
	}

	m.Free(a)
	c, err := m.Alloc(8)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	if c != a {
		t.Fatalf("Expected freed block %d to be reused, got %d", a, c)
	}

	m.Free(0)
	m.Free(12345)
	if m.Live() != 2 {
		t.Fatalf("Expected no-op frees, live=%d", m.Live())
	}
}

func TestLinear_Grow(t *testing.T) {
	m := NewLinear(1, 2)

	if _, err := m.Alloc(pageSize); err != nil {
		t.Fatalf("Alloc spanning into page 2 failed: %v", err)
	}
	if m.Size() != 2*pageSize {
		t.Fatalf("Expected memory to grow to 2 pages, got %d bytes", m.Size())
	}
	if _, err := m.Alloc(pageSize); err == nil {
		t.Fatal("Expected allocation beyond max pages to fail")
	}
}

func TestLinear_StringHelpers(t *testing.T) {
	m := NewLinear(1, 1)

	ptr, err := WriteCString(m, m, "System.Private.CoreLib")
	if err != nil {
		t.Fatalf("WriteCString failed: %v", err)
	}
	s, err := ReadCString(m, ptr)
	if err != nil {
		t.Fatalf("ReadCString failed: %v", err)
	}
	if s != "System.Private.CoreLib" {
		t.Fatalf("Expected round trip, got %q", s)
	}

	lp, err := WriteLengthPrefixed(m, m, []byte("hello"))
	if err != nil {
		t.Fatalf("WriteLengthPrefixed failed: %v", err)
	}
	data, err := ReadLengthPrefixed(m, lp)
	if err != nil {
		t.Fatalf("ReadLengthPrefixed failed: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("Expected hello, got %q", data)
	}

	empty, err := ReadCString(m, 0)
	if err != nil || empty != "" {
		t.Fatalf("Expected empty string for null pointer, got %q, %v", empty, err)
	}
}
