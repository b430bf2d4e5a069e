package abi

import (
	"github.com/wippyai/isolator/memory"
)

// RecordSize is the size of an invocation record in linear memory.
const RecordSize = 9 * 4

// Field offsets within an invocation record.
const (
	OffTarget          = 0
	OffMethod          = 4
	OffResultException = 8
	OffResultType      = 12
	OffResultPtr       = 16
	OffResultLength    = 20
	OffResultHandle    = 24
	OffArgsPtr         = 28
	OffArgsLen         = 32
)

// Record is one invocation as laid out in linear memory, nine little-endian u32 fields.
//
// The host fills Target, Method, ResultType, ArgsPtr and ArgsLen. ArgsPtr points at
// ArgsLen pointers to argument buffers; a zero pointer passes null. The bridge fills the
// result fields:
//
//	serialize: ResultPtr/ResultLength hold the payload, ResultHandle owns it
//	handle:    ResultPtr holds the class token, ResultHandle the object
//	exception: ResultType is forced to handle, ResultException points at the
//	           NUL-terminated message, ResultPtr/ResultHandle describe the exception object
//
// A null result leaves ResultPtr and ResultHandle zero.
type Record struct {
	Target          uint32
	Method          uint32
	ResultException uint32
	ResultType      uint32
	ResultPtr       uint32
	ResultLength    uint32
	ResultHandle    uint32
	ArgsPtr         uint32
	ArgsLen         uint32
}

func (r *Record) fields() []*uint32 {
	return []*uint32{
		&r.Target, &r.Method, &r.ResultException, &r.ResultType,
		&r.ResultPtr, &r.ResultLength, &r.ResultHandle, &r.ArgsPtr, &r.ArgsLen,
	}
}

// ReadRecord loads the record at ptr.
func ReadRecord(mem memory.Memory, ptr uint32) (Record, error) {
	var r Record
	for i, f := range r.fields() {
		v, err := mem.ReadU32(ptr + uint32(i)*4)
		if err != nil {
			return Record{}, err
		}
		*f = v
	}
	return r, nil
}

// WriteRecord stores r at ptr.
func WriteRecord(mem memory.Memory, ptr uint32, r Record) error {
	for i, f := range r.fields() {
		if err := mem.WriteU32(ptr+uint32(i)*4, *f); err != nil {
			return err
		}
	}
	return nil
}

// readU32s reads n consecutive u32 values.
func readU32s(mem memory.Memory, ptr, n uint32) ([]uint32, error) {
	out := make([]uint32, n)
	for i := range out {
		v, err := mem.ReadU32(ptr + uint32(i)*4)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
