package invoke

import (
	stderrors "errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/isolator/errors"
	"github.com/wippyai/isolator/marshal"
	"github.com/wippyai/isolator/reftable"
	"github.com/wippyai/isolator/resolve"
	"github.com/wippyai/isolator/vm"
)

// Dispatcher runs invocation requests against the guest runtime.
//
// Dispatch never returns an error and never lets a guest failure escape: thrown
// exceptions, serializer failures, malformed buffers and panics all come back as a
// *marshal.Exception. Contract violations reported by a debug reference table are the one
// exception; they propagate as panics.
type Dispatcher struct {
	rt        vm.Runtime
	refs      *reftable.Table
	resolver  *resolve.Resolver
	marshaler *marshal.Marshaler
	log       *zap.Logger

	exceptionHandles bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithExceptionHandles controls whether captured exceptions are exposed as references.
// Enabled by default.
func WithExceptionHandles(enabled bool) Option {
	return func(d *Dispatcher) { d.exceptionHandles = enabled }
}

// WithLogger overrides the package logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// WithMarshaler replaces the default marshaler built over the same table and resolver.
func WithMarshaler(m *marshal.Marshaler) Option {
	return func(d *Dispatcher) { d.marshaler = m }
}

// New creates a dispatcher.
func New(refs *reftable.Table, resolver *resolve.Resolver, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		rt:               resolver.Runtime(),
		refs:             refs,
		resolver:         resolver,
		log:              Logger(),
		exceptionHandles: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.marshaler == nil {
		d.marshaler = marshal.New(refs, resolver, marshal.WithLogger(d.log))
	}
	return d
}

// Marshaler returns the marshaler used for arguments and results.
func (d *Dispatcher) Marshaler() *marshal.Marshaler { return d.marshaler }

// call is the state of one Dispatch.
type call struct {
	d      *Dispatcher
	req    *Request
	state  State
	target vm.Object
	method vm.Method
	args   []marshal.Decoded
}

// Dispatch runs req to completion.
func (d *Dispatcher) Dispatch(req *Request) (res marshal.Result) {
	c := &call{d: d, req: req, method: req.Method}
	defer func() {
		if p := recover(); p != nil {
			repanicContract(p)
			res = c.capture(panicError(c.state, p))
		}
	}()
	return c.run()
}

func (c *call) run() marshal.Result {
	c.enter(StateDecodeArgs)
	if err := c.decodeArgs(); err != nil {
		return c.capture(err)
	}

	c.enter(StateResolveVirtualTarget)
	c.resolveTarget()

	c.enter(StateInvoke)
	value, err := c.invoke()
	if err != nil {
		return c.capture(err)
	}

	c.enter(StateReleaseArgRefs)
	c.releaseArgs()

	c.enter(StateSerializeResult)
	res, err := c.d.marshaler.EncodeResult(value, c.req.Mode)
	if err != nil {
		return c.capture(err)
	}

	c.enter(StateDone)
	return res
}

func (c *call) enter(s State) {
	c.state = s
	c.d.log.Debug("dispatch", zap.Stringer("state", s))
}

func (c *call) decodeArgs() error {
	var params []vm.Class
	if c.method != nil {
		params = c.method.Params()
	}
	c.args = make([]marshal.Decoded, 0, len(c.req.Args))
	for i, buf := range c.req.Args {
		var declared vm.Class
		if i < len(params) {
			declared = params[i]
		}
		a, err := c.d.marshaler.DecodeArg(buf, declared)
		if err != nil {
			var failure *marshal.GuestFailure
			if stderrors.As(err, &failure) {
				failure.Arg = i
			}
			return err
		}
		c.args = append(c.args, a)
	}
	return nil
}

func (c *call) resolveTarget() {
	c.target = c.d.refs.Resolve(c.req.Target)
	if c.target == nil || c.method == nil {
		return
	}
	if m := c.d.resolver.ResolveOverride(c.target, c.method); m != nil && m != c.method {
		c.d.log.Debug("virtual target resolved",
			zap.String("declared", vm.FullName(c.method.Class())),
			zap.String("override", vm.FullName(m.Class())),
			zap.String("method", m.Name()))
		c.method = m
	}
}

func (c *call) invoke() (vm.Object, error) {
	if c.method == nil {
		return c.target, nil
	}
	values := make([]vm.Value, len(c.args))
	for i, a := range c.args {
		values[i] = a.Value
	}
	return c.d.rt.Invoke(c.method, c.target, values)
}

// releaseArgs is idempotent so every exit path can call it.
func (c *call) releaseArgs() {
	if c.args == nil {
		return
	}
	c.d.marshaler.Release(c.args)
	c.args = nil
}

func (c *call) capture(err error) marshal.Result {
	from := c.state
	c.enter(StateCaptureException)
	c.releaseArgs()
	res := c.d.exception(err)
	c.d.log.Debug("exception captured",
		zap.Stringer("from", from),
		zap.String("message", res.Message),
		zap.Uint32("ref", uint32(res.Ref)))
	return res
}

// exception builds the unified failure result for err.
func (d *Dispatcher) exception(err error) *marshal.Exception {
	exc := exceptionObject(err)
	if exc == nil {
		return &marshal.Exception{Message: err.Error()}
	}
	out := &marshal.Exception{
		Message: d.describe(exc),
		Type:    exc.Class(),
	}
	if d.exceptionHandles {
		if res, herr := d.marshaler.EncodeResult(exc, marshal.ModeHandle); herr == nil {
			if h, ok := res.(*marshal.Handle); ok {
				out.Ref = h.Ref
			}
		}
	}
	return out
}

func exceptionObject(err error) vm.Object {
	var failure *marshal.GuestFailure
	if stderrors.As(err, &failure) {
		return failure.Exception
	}
	var thrown *vm.Thrown
	if stderrors.As(err, &thrown) {
		return thrown.Exception
	}
	return nil
}

// describe stringifies an exception. Anything that goes wrong, including a second
// exception, yields an empty message.
func (d *Dispatcher) describe(exc vm.Object) (msg string) {
	defer func() {
		if p := recover(); p != nil {
			repanicContract(p)
			d.log.Debug("exception stringification panicked", zap.Any("panic", p))
			msg = ""
		}
	}()
	s, err := d.rt.ToString(exc)
	if err != nil {
		d.log.Debug("exception stringification failed", zap.Error(err))
		return ""
	}
	return s
}

func repanicContract(p any) {
	if e, ok := p.(*errors.Error); ok && e.Kind == errors.KindContractViolation {
		panic(e)
	}
}

func panicError(s State, p any) error {
	return errors.New(errors.PhaseInvoke, errors.KindGuestException).
		Value(p).
		Detail("panic during %s: %v", s, p).
		Build()
}

// protect converts a panic in a single-step operation into an exception result.
func (d *Dispatcher) protect(op string, res *marshal.Result) {
	if p := recover(); p != nil {
		repanicContract(p)
		d.log.Debug("operation panicked", zap.String("op", op), zap.Any("panic", p))
		*res = &marshal.Exception{Message: fmt.Sprintf("panic during %s: %v", op, p)}
	}
}

// CreateInstance allocates class and runs its parameterless constructor. The instance is
// returned as an unpinned *marshal.Handle; a throwing constructor yields an exception.
func (d *Dispatcher) CreateInstance(class vm.Class) (res marshal.Result) {
	defer d.protect("create_instance", &res)
	if class == nil {
		return d.exception(errors.InvalidInput(errors.PhaseInvoke, "nil class"))
	}
	obj, err := d.rt.New(class)
	if err != nil {
		return d.exception(err)
	}
	ref := d.refs.Create(obj, false)
	if ref == 0 {
		return d.exception(refsExhausted(class))
	}
	d.log.Debug("instance created", zap.String("type", vm.FullName(class)), zap.Uint32("ref", uint32(ref)))
	return &marshal.Handle{Ref: ref, Type: obj.Class()}
}

// Deserialize decodes a free-standing argument buffer as System.Object. The object comes
// back as a *marshal.Handle, null as an empty *marshal.Serialized.
func (d *Dispatcher) Deserialize(buf []byte) (res marshal.Result) {
	defer d.protect("deserialize", &res)
	a, err := d.marshaler.DecodeArg(buf, nil)
	if err != nil {
		return d.exception(err)
	}
	if a.Ref == 0 {
		return &marshal.Serialized{}
	}
	return &marshal.Handle{Ref: a.Ref, Type: d.refs.TypeOf(a.Ref)}
}

// ReflectClass returns a handle to the System.Type object for class.
func (d *Dispatcher) ReflectClass(class vm.Class) (*marshal.Handle, error) {
	r, ok := d.rt.(vm.Reflector)
	if !ok {
		return nil, errors.InvalidInput(errors.PhaseInvoke, "runtime does not support reflection")
	}
	return d.reflected(r.TypeObject(class), "class")
}

// ReflectMethod returns a handle to the MethodInfo object for method.
func (d *Dispatcher) ReflectMethod(method vm.Method) (*marshal.Handle, error) {
	r, ok := d.rt.(vm.Reflector)
	if !ok {
		return nil, errors.InvalidInput(errors.PhaseInvoke, "runtime does not support reflection")
	}
	return d.reflected(r.MethodObject(method), "method")
}

func (d *Dispatcher) reflected(obj vm.Object, what string) (*marshal.Handle, error) {
	if obj == nil {
		return nil, errors.InvalidInput(errors.PhaseInvoke, "cannot reflect "+what)
	}
	ref := d.refs.Create(obj, false)
	if ref == 0 {
		return nil, refsExhausted(obj.Class())
	}
	return &marshal.Handle{Ref: ref, Type: obj.Class()}, nil
}

func refsExhausted(class vm.Class) error {
	return errors.New(errors.PhaseInvoke, errors.KindAllocation).
		Detail("no reference available for %s", vm.FullName(class)).
		Build()
}

// Hash returns the identity hash of the referenced object.
func (d *Dispatcher) Hash(ref reftable.Ref) int32 {
	return d.rt.Hash(d.refs.Resolve(ref))
}

// Release drops a host-owned reference.
func (d *Dispatcher) Release(ref reftable.Ref) {
	d.refs.Release(ref)
}
