package marshal

import (
	"fmt"

	"github.com/wippyai/isolator/reftable"
	"github.com/wippyai/isolator/vm"
)

// Mode selects how a return value crosses the boundary.
type Mode uint8

const (
	// ModeSerialize converts the value to bytes with the guest serializer.
	ModeSerialize Mode = iota
	// ModeHandle returns a pinned reference and the value's runtime type.
	ModeHandle
)

func (m Mode) String() string {
	switch m {
	case ModeSerialize:
		return "serialize"
	case ModeHandle:
		return "handle"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Result is the outcome of one invocation. It is exactly one of *Serialized, *Handle or
// *Exception.
type Result interface {
	result()
}

// Serialized carries serializer output. Ref owns the pinned byte array backing Data and
// must be released once the host has copied Data. A null return is a Serialized with no
// data and Ref 0.
type Serialized struct {
	Data []byte
	Ref  reftable.Ref
}

// Handle carries a reference to an object and its runtime type. Handles made by
// EncodeResult are pinned.
type Handle struct {
	Ref  reftable.Ref
	Type vm.Class
}

// Exception reports a captured guest failure. Ref is 0 when the exception object is not
// exposed or there is none (a malformed request).
type Exception struct {
	Message string
	Ref     reftable.Ref
	Type    vm.Class
}

func (*Serialized) result() {}
func (*Handle) result()     {}
func (*Exception) result()  {}

// Empty reports whether the result stands for a null return.
func (s *Serialized) Empty() bool { return s.Ref == 0 && len(s.Data) == 0 }

func (e *Exception) Error() string {
	if e.Message == "" {
		return "guest exception"
	}
	return e.Message
}

// Refs returns the references a result hands to the host.
func Refs(r Result) []reftable.Ref {
	var ref reftable.Ref
	switch x := r.(type) {
	case *Serialized:
		ref = x.Ref
	case *Handle:
		ref = x.Ref
	case *Exception:
		ref = x.Ref
	}
	if ref == 0 {
		return nil
	}
	return []reftable.Ref{ref}
}

// Stage names the serializer call that failed.
type Stage string

const (
	StageDeserialize Stage = "deserialize"
	StageSerialize   Stage = "serialize"
)

// GuestFailure is returned when the guest serializer throws. The dispatcher routes it into
// exception capture instead of treating it as a bridge error.
type GuestFailure struct {
	Exception vm.Object
	Stage     Stage
	// Arg is the position of the failing argument, -1 for results.
	Arg int
}

func (f *GuestFailure) Error() string {
	name := "guest exception"
	if f.Exception != nil {
		name = vm.FullName(f.Exception.Class())
	}
	if f.Arg >= 0 {
		return fmt.Sprintf("%s argument %d: %s", f.Stage, f.Arg, name)
	}
	return fmt.Sprintf("%s result: %s", f.Stage, name)
}

// Unwrap exposes the exception as a *vm.Thrown.
func (f *GuestFailure) Unwrap() error {
	return &vm.Thrown{Exception: f.Exception}
}
