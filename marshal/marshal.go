package marshal

import (
	stderrors "errors"

	"go.uber.org/zap"

	"github.com/wippyai/isolator/errors"
	"github.com/wippyai/isolator/reftable"
	"github.com/wippyai/isolator/resolve"
	"github.com/wippyai/isolator/vm"
)

// Marshaler converts argument buffers into guest values and return values into results.
type Marshaler struct {
	rt       vm.Runtime
	refs     *reftable.Table
	resolver *resolve.Resolver
	log      *zap.Logger
}

// Option configures a Marshaler.
type Option func(*Marshaler)

// WithLogger overrides the package logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Marshaler) {
		if l != nil {
			m.log = l
		}
	}
}

// New creates a marshaler. The resolver supplies the serializer entry points.
func New(refs *reftable.Table, resolver *resolve.Resolver, opts ...Option) *Marshaler {
	m := &Marshaler{
		rt:       resolver.Runtime(),
		refs:     refs,
		resolver: resolver,
		log:      Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Decoded is one argument ready for invocation. Ref is the transient reference created
// for it; the caller releases it when the invocation ends.
type Decoded struct {
	Value vm.Value
	Ref   reftable.Ref
}

// DecodeArg turns one argument buffer into an invocation argument.
//
// A payload is deserialized as declared, or as System.Object when declared is nil. A
// by-reference buffer reuses the live object without deserializing it. Either way a
// transient reference is created. When declared is a value type the reference is pinned
// and the value is passed as an interior pointer.
func (m *Marshaler) DecodeArg(buf []byte, declared vm.Class) (Decoded, error) {
	arg, err := ParseArg(buf)
	if err != nil {
		return Decoded{}, err
	}

	var obj vm.Object
	if arg.ByRef() {
		obj = m.refs.Resolve(arg.Ref)
		m.log.Debug("argument by reference", zap.Uint32("ref", uint32(arg.Ref)))
	} else {
		obj, err = m.Deserialize(arg.Payload, declared)
		if err != nil {
			return Decoded{}, err
		}
	}
	return m.bind(obj, declared)
}

// Deserialize runs the guest deserializer over payload. A thrown exception is returned as
// a *GuestFailure.
func (m *Marshaler) Deserialize(payload []byte, declared vm.Class) (vm.Object, error) {
	de, err := m.resolver.DeserializerFor(declared)
	if err != nil {
		return nil, err
	}
	data := m.rt.NewBytes(payload)
	obj, err := m.rt.Invoke(de, nil, []vm.Value{vm.Ref(data)})
	if err != nil {
		return nil, guestFailure(err, StageDeserialize, 0)
	}
	return obj, nil
}

func (m *Marshaler) bind(obj vm.Object, declared vm.Class) (Decoded, error) {
	if obj == nil {
		return Decoded{}, nil
	}
	if declared == nil || !declared.IsValueType() {
		ref := m.refs.Create(obj, false)
		if ref == 0 {
			return Decoded{}, exhausted(obj)
		}
		return Decoded{Value: vm.Ref(obj), Ref: ref}, nil
	}
	ref := m.refs.Create(obj, true)
	if ref == 0 {
		return Decoded{}, exhausted(obj)
	}
	ptr := m.rt.Unbox(obj)
	if ptr == 0 {
		return Decoded{Value: vm.Ref(obj), Ref: ref}, nil
	}
	m.log.Debug("argument unboxed",
		zap.Uint32("ref", uint32(ref)),
		zap.Uint32("ptr", ptr),
		zap.String("type", vm.FullName(declared)))
	return Decoded{Value: vm.Unboxed(ptr), Ref: ref}, nil
}

// exhausted reports a reference the table could not create.
func exhausted(obj vm.Object) error {
	return errors.New(errors.PhaseMarshal, errors.KindAllocation).
		Detail("no reference available for %s", className(obj)).
		Build()
}

// EncodeResult converts a return value according to mode.
//
// Null yields an empty *Serialized. ModeHandle yields a *Handle over a new pinned
// reference. ModeSerialize runs the guest serializer and yields a *Serialized whose
// pinned reference owns the byte array.
func (m *Marshaler) EncodeResult(value vm.Object, mode Mode) (Result, error) {
	if value == nil {
		return &Serialized{}, nil
	}
	if mode == ModeHandle {
		ref := m.refs.Create(value, true)
		if ref == 0 {
			return nil, exhausted(value)
		}
		return &Handle{Ref: ref, Type: value.Class()}, nil
	}

	ser, _, err := m.resolver.Serializer()
	if err != nil {
		return nil, err
	}
	out, err := m.rt.Invoke(ser, nil, []vm.Value{vm.Ref(value)})
	if err != nil {
		return nil, guestFailure(err, StageSerialize, -1)
	}
	data, ok := m.rt.Bytes(out)
	if !ok {
		return nil, errors.New(errors.PhaseMarshal, errors.KindSerialize).
			Detail("serializer returned %s, not a byte array", className(out)).
			Build()
	}
	ref := m.refs.Create(out, true)
	if ref == 0 {
		return nil, exhausted(out)
	}
	m.log.Debug("result serialized", zap.Uint32("ref", uint32(ref)), zap.Int("bytes", len(data)))
	return &Serialized{Data: data, Ref: ref}, nil
}

func className(o vm.Object) string {
	if o == nil {
		return "null"
	}
	return vm.FullName(o.Class())
}

// guestFailure wraps a thrown serializer exception; other errors become marshal errors.
func guestFailure(err error, stage Stage, arg int) error {
	var thrown *vm.Thrown
	if stderrors.As(err, &thrown) {
		return &GuestFailure{Exception: thrown.Exception, Stage: stage, Arg: arg}
	}
	return errors.Wrap(errors.PhaseMarshal, kindFor(stage), err, string(stage))
}

func kindFor(stage Stage) errors.Kind {
	if stage == StageSerialize {
		return errors.KindSerialize
	}
	return errors.KindDeserialize
}

// Release drops the transient references of decoded arguments.
func (m *Marshaler) Release(args []Decoded) {
	for _, a := range args {
		m.refs.Release(a.Ref)
	}
}
