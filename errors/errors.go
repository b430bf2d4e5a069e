package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseResolve Phase = "resolve" // type/method lookup
	PhaseMarshal Phase = "marshal" // argument and result conversion
	PhaseInvoke  Phase = "invoke"  // dispatcher
	PhaseRefs    Phase = "refs"    // reference table
	PhaseLoad    Phase = "load"    // assembly resolution
	PhaseABI     Phase = "abi"     // linear memory boundary
	PhaseHost    Phase = "host"    // host module registration and upcalls
	PhaseConfig  Phase = "config"  // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindAssemblyNotFound  Kind = "assembly_not_found"
	KindTypeNotFound      Kind = "type_not_found"
	KindMethodNotFound    Kind = "method_not_found"
	KindGenericArity      Kind = "generic_arity"
	KindInvalidDescriptor Kind = "invalid_descriptor"
	KindSerialize         Kind = "serialize"
	KindDeserialize       Kind = "deserialize"
	KindGuestException    Kind = "guest_exception"
	KindContractViolation Kind = "contract_violation"
	KindOutOfBounds       Kind = "out_of_bounds"
	KindAllocation        Kind = "allocation"
	KindInvalidData       Kind = "invalid_data"
	KindInvalidInput      Kind = "invalid_input"
	KindNotFound          Kind = "not_found"
	KindRegistration      Kind = "registration"
	KindInstantiation     Kind = "instantiation"
	KindReentrant         Kind = "reentrant"
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value     any
	Cause     error
	Phase     Phase
	Kind      Kind
	Assembly  string
	Namespace string
	Type      string
	Member    string
	Detail    string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if loc := e.Location(); loc != "" {
		b.WriteString(" at ")
		b.WriteString(loc)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Location renders the guest coordinates as "[Assembly]Namespace.Type::Member".
func (e *Error) Location() string {
	var b strings.Builder
	if e.Assembly != "" {
		b.WriteByte('[')
		b.WriteString(e.Assembly)
		b.WriteByte(']')
	}
	if e.Namespace != "" {
		b.WriteString(e.Namespace)
		if e.Type != "" {
			b.WriteByte('.')
		}
	}
	b.WriteString(e.Type)
	if e.Member != "" {
		b.WriteString("::")
		b.WriteString(e.Member)
	}
	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Assembly sets the guest assembly name
func (b *Builder) Assembly(name string) *Builder {
	b.err.Assembly = name
	return b
}

// Type sets the namespace and type name
func (b *Builder) Type(namespace, name string) *Builder {
	b.err.Namespace = namespace
	b.err.Type = name
	return b
}

// Member sets the method or field name
func (b *Builder) Member(name string) *Builder {
	b.err.Member = name
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Resolution errors

// AssemblyNotFound reports that the runtime could not load the named assembly.
func AssemblyNotFound(assembly string) *Error {
	return &Error{
		Phase:    PhaseResolve,
		Kind:     KindAssemblyNotFound,
		Assembly: assembly,
		Detail:   fmt.Sprintf("assembly %q not found", assembly),
	}
}

// TypeNotFound reports a missing type inside an assembly that was found.
func TypeNotFound(assembly, namespace, name string) *Error {
	full := name
	if namespace != "" {
		full = namespace + "." + name
	}
	return &Error{
		Phase:     PhaseResolve,
		Kind:      KindTypeNotFound,
		Assembly:  assembly,
		Namespace: namespace,
		Type:      name,
		Detail:    fmt.Sprintf("type %q not found in assembly %q", full, assembly),
	}
}

// MethodNotFound reports a missing method on a resolved type.
func MethodNotFound(namespace, typeName, method string, arity int) *Error {
	detail := fmt.Sprintf("method %q not found", method)
	if arity >= 0 {
		detail = fmt.Sprintf("method %q with %d parameter(s) not found", method, arity)
	}
	return &Error{
		Phase:     PhaseResolve,
		Kind:      KindMethodNotFound,
		Namespace: namespace,
		Type:      typeName,
		Member:    method,
		Detail:    detail,
		Value:     arity,
	}
}

// InvalidDescriptor reports a method descriptor that cannot be parsed.
func InvalidDescriptor(desc, reason string) *Error {
	return &Error{
		Phase:  PhaseResolve,
		Kind:   KindInvalidDescriptor,
		Detail: fmt.Sprintf("descriptor %q: %s", desc, reason),
		Value:  desc,
	}
}

// GenericArity reports an instantiation with the wrong number of type arguments.
func GenericArity(name string, want, got int) *Error {
	return &Error{
		Phase:  PhaseResolve,
		Kind:   KindGenericArity,
		Type:   name,
		Detail: fmt.Sprintf("expected %d type argument(s), got %d", want, got),
		Value:  got,
	}
}

// Boundary errors

// ContractViolation reports caller misuse of the reference lifecycle.
func ContractViolation(detail string, args ...any) *Error {
	return &Error{
		Phase:  PhaseRefs,
		Kind:   KindContractViolation,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// GuestException wraps a failure raised inside guest code.
func GuestException(phase Phase, message string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindGuestException,
		Detail: message,
		Cause:  cause,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes", size),
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, offset, length uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("access of %d bytes at offset %d out of bounds", length, offset),
		Value:  offset,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Detail: detail,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Registration creates a registration error
func Registration(phase Phase, namespace, name string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindRegistration,
		Detail: fmt.Sprintf("register %s#%s", namespace, name),
		Cause:  cause,
	}
}

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindInstantiation,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// Load creates an assembly loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
