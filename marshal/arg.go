package marshal

import (
	"encoding/binary"

	"github.com/wippyai/isolator/errors"
	"github.com/wippyai/isolator/reftable"
)

const lengthSize = 4

// Arg is a decoded argument buffer. A zero-length payload means the argument is passed
// by an existing reference.
type Arg struct {
	Payload []byte
	Ref     reftable.Ref
}

// ByRef reports whether the argument reuses a live object.
func (a Arg) ByRef() bool { return len(a.Payload) == 0 }

// ParseArg reads one argument buffer:
//
//	u32le length | length bytes of payload
//	u32le 0      | u32le reference id
//
// The returned payload aliases buf.
func ParseArg(buf []byte) (Arg, error) {
	if len(buf) < lengthSize {
		return Arg{}, errors.InvalidData(errors.PhaseMarshal, "argument buffer shorter than its length prefix")
	}
	n := binary.LittleEndian.Uint32(buf)
	rest := buf[lengthSize:]
	if n == 0 {
		if len(rest) < lengthSize {
			return Arg{}, errors.InvalidData(errors.PhaseMarshal, "by-reference argument is missing its reference id")
		}
		return Arg{Ref: reftable.Ref(binary.LittleEndian.Uint32(rest))}, nil
	}
	if uint64(len(rest)) < uint64(n) {
		return Arg{}, errors.New(errors.PhaseMarshal, errors.KindInvalidData).
			Value(n).
			Detail("argument payload truncated: want %d bytes, have %d", n, len(rest)).
			Build()
	}
	return Arg{Payload: rest[:n]}, nil
}

// EncodeArg builds a by-value argument buffer. An empty payload cannot be expressed by
// value; callers pass null as a serialized payload instead.
func EncodeArg(payload []byte) []byte {
	buf := make([]byte, lengthSize+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[lengthSize:], payload)
	return buf
}

// EncodeRefArg builds a by-reference argument buffer.
func EncodeRefArg(ref reftable.Ref) []byte {
	buf := make([]byte, 2*lengthSize)
	binary.LittleEndian.PutUint32(buf[lengthSize:], uint32(ref))
	return buf
}

// ArgSize returns the encoded size of the buffer starting at buf, or 0 if the prefix is
// incomplete.
func ArgSize(buf []byte) int {
	if len(buf) < lengthSize {
		return 0
	}
	n := binary.LittleEndian.Uint32(buf)
	if n == 0 {
		return 2 * lengthSize
	}
	return lengthSize + int(n)
}
