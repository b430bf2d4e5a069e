package abi

import (
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/isolator/errors"
	"github.com/wippyai/isolator/invoke"
	"github.com/wippyai/isolator/marshal"
	"github.com/wippyai/isolator/memory"
	"github.com/wippyai/isolator/reftable"
	"github.com/wippyai/isolator/resolve"
	"github.com/wippyai/isolator/vm"
)

// Exports is the bridge's host-facing surface over linear memory.
//
// Classes and methods cross the boundary as tokens, objects as references. Strings and
// pointer arrays the host passes in are freed once read. Buffers the bridge hands back are
// owned by the result reference they belong to and freed when it is released; a buffer
// without a reference belongs to the host.
type Exports struct {
	mem      memory.Memory
	alloc    memory.Allocator
	refs     *reftable.Table
	resolver *resolve.Resolver
	d        *invoke.Dispatcher
	log      *zap.Logger

	classes *tokens[vm.Class]
	methods *tokens[vm.Method]
	owned   map[reftable.Ref][]uint32

	unsubscribe func()
}

// Option configures Exports.
type Option func(*Exports)

// WithDispatcher replaces the default dispatcher. It must share the table and resolver
// given to New.
func WithDispatcher(d *invoke.Dispatcher) Option {
	return func(x *Exports) {
		if d != nil {
			x.d = d
		}
	}
}

// WithLogger overrides the package logger.
func WithLogger(l *zap.Logger) Option {
	return func(x *Exports) {
		if l != nil {
			x.log = l
		}
	}
}

// New creates the export surface over mem and alloc.
func New(mem memory.Memory, alloc memory.Allocator, refs *reftable.Table, resolver *resolve.Resolver, opts ...Option) *Exports {
	x := &Exports{
		mem:      mem,
		alloc:    alloc,
		refs:     refs,
		resolver: resolver,
		log:      Logger(),
		classes:  newTokens[vm.Class](),
		methods:  newTokens[vm.Method](),
		owned:    make(map[reftable.Ref][]uint32),
	}
	for _, opt := range opts {
		opt(x)
	}
	if x.d == nil {
		x.d = invoke.New(refs, resolver, invoke.WithLogger(x.log))
	}
	x.unsubscribe = refs.Subscribe(x)
	return x
}

// Memory returns the linear memory the exports read and write.
func (x *Exports) Memory() memory.Memory { return x.mem }

// Allocator returns the allocator shared with the host.
func (x *Exports) Allocator() memory.Allocator { return x.alloc }

// Dispatcher returns the dispatcher serving InvokeMethod.
func (x *Exports) Dispatcher() *invoke.Dispatcher { return x.d }

// Close frees every buffer still owned by a live reference and stops tracking releases.
func (x *Exports) Close() error {
	if x.unsubscribe != nil {
		x.unsubscribe()
		x.unsubscribe = nil
	}
	for ref, ptrs := range x.owned {
		for _, p := range ptrs {
			x.alloc.Free(p)
		}
		delete(x.owned, ref)
	}
	return nil
}

// OnRefEvent frees the buffers owned by a released reference.
func (x *Exports) OnRefEvent(e reftable.Event) {
	if e.Type != reftable.EventReleased {
		return
	}
	ptrs, ok := x.owned[e.Ref]
	if !ok {
		return
	}
	delete(x.owned, e.Ref)
	for _, p := range ptrs {
		x.alloc.Free(p)
	}
}

// ClassToken returns the token for c, 0 for nil.
func (x *Exports) ClassToken(c vm.Class) uint32 { return x.classes.id(c) }

// MethodToken returns the token for m, 0 for nil.
func (x *Exports) MethodToken(m vm.Method) uint32 { return x.methods.id(m) }

// Class returns the class behind a token.
func (x *Exports) Class(token uint32) (vm.Class, bool) { return x.classes.get(token) }

// Method returns the method behind a token.
func (x *Exports) Method(token uint32) (vm.Method, bool) { return x.methods.get(token) }

func (x *Exports) class(token uint32) (vm.Class, error) {
	c, ok := x.classes.get(token)
	if !ok {
		return nil, errors.InvalidInput(errors.PhaseABI, fmt.Sprintf("unknown class token %d", token))
	}
	return c, nil
}

func (x *Exports) method(token uint32) (vm.Method, error) {
	m, ok := x.methods.get(token)
	if !ok {
		return nil, errors.InvalidInput(errors.PhaseABI, fmt.Sprintf("unknown method token %d", token))
	}
	return m, nil
}

// consumeString reads and frees a NUL-terminated string passed by the host.
func (x *Exports) consumeString(ptr uint32) (string, error) {
	s, err := memory.ReadCString(x.mem, ptr)
	x.alloc.Free(ptr)
	return s, err
}

// InvokeMethod runs the invocation record at ptr and writes the result fields back into
// it. The argument pointer array is freed. Guest failures are reported in the record; the
// returned error covers malformed records and memory faults only.
func (x *Exports) InvokeMethod(ptr uint32) error {
	rec, err := ReadRecord(x.mem, ptr)
	if err != nil {
		return err
	}

	args, err := x.readArgs(rec.ArgsPtr, rec.ArgsLen)
	x.alloc.Free(rec.ArgsPtr)
	if err != nil {
		return err
	}
	if rec.ResultType > uint32(marshal.ModeHandle) {
		return errors.InvalidInput(errors.PhaseABI, fmt.Sprintf("unknown result type %d", rec.ResultType))
	}
	req := &invoke.Request{
		Target: reftable.Ref(rec.Target),
		Args:   args,
		Mode:   marshal.Mode(rec.ResultType),
	}
	if rec.Method != 0 {
		if req.Method, err = x.method(rec.Method); err != nil {
			return err
		}
	}

	res := x.d.Dispatch(req)
	if err := x.store(&rec, res); err != nil {
		x.log.Warn("invocation result not stored", zap.Error(err))
		for _, r := range marshal.Refs(res) {
			x.refs.Release(r)
		}
		return err
	}
	return WriteRecord(x.mem, ptr, rec)
}

// readArgs copies each argument buffer out of linear memory.
func (x *Exports) readArgs(ptr, n uint32) ([][]byte, error) {
	if n == 0 {
		return nil, nil
	}
	ptrs, err := readU32s(x.mem, ptr, n)
	if err != nil {
		return nil, err
	}
	args := make([][]byte, n)
	for i, p := range ptrs {
		if p == 0 {
			args[i] = marshal.EncodeRefArg(0)
			continue
		}
		size, err := x.mem.ReadU32(p)
		if err != nil {
			return nil, err
		}
		total := 4 + size
		if size == 0 {
			total = 8
		}
		if args[i], err = x.mem.Read(p, total); err != nil {
			return nil, err
		}
	}
	return args, nil
}

func (x *Exports) store(rec *Record, res marshal.Result) error {
	rec.ResultException, rec.ResultPtr, rec.ResultLength, rec.ResultHandle = 0, 0, 0, 0

	switch r := res.(type) {
	case *marshal.Serialized:
		rec.ResultType = uint32(marshal.ModeSerialize)
		if r.Empty() {
			return nil
		}
		p, err := x.ownBytes(r.Ref, r.Data)
		if err != nil {
			return err
		}
		rec.ResultPtr, rec.ResultLength, rec.ResultHandle = p, uint32(len(r.Data)), uint32(r.Ref)
	case *marshal.Handle:
		rec.ResultType = uint32(marshal.ModeHandle)
		rec.ResultPtr, rec.ResultHandle = x.classes.id(r.Type), uint32(r.Ref)
	case *marshal.Exception:
		rec.ResultType = uint32(marshal.ModeHandle)
		p, err := x.ownString(r.Ref, r.Message)
		if err != nil {
			return err
		}
		rec.ResultException = p
		rec.ResultPtr, rec.ResultHandle = x.classes.id(r.Type), uint32(r.Ref)
		x.log.Debug("exception stored", zap.Uint32("ref", rec.ResultHandle), zap.Uint32("class", rec.ResultPtr))
	}
	return nil
}

func (x *Exports) ownBytes(ref reftable.Ref, data []byte) (uint32, error) {
	p, err := memory.WriteBytes(x.mem, x.alloc, data)
	if err != nil {
		return 0, err
	}
	x.own(ref, p)
	return p, nil
}

func (x *Exports) ownString(ref reftable.Ref, s string) (uint32, error) {
	p, err := memory.WriteCString(x.mem, x.alloc, s)
	if err != nil {
		return 0, err
	}
	x.own(ref, p)
	return p, nil
}

func (x *Exports) own(ref reftable.Ref, p uint32) {
	if ref != 0 {
		x.owned[ref] = append(x.owned[ref], p)
	}
}

// InstantiateClass creates an instance of the class token and runs its constructor.
func (x *Exports) InstantiateClass(class uint32) (uint32, error) {
	c, err := x.class(class)
	if err != nil {
		return 0, err
	}
	switch r := x.d.CreateInstance(c).(type) {
	case *marshal.Handle:
		return uint32(r.Ref), nil
	case *marshal.Exception:
		x.refs.Release(r.Ref)
		return 0, errors.New(errors.PhaseABI, errors.KindGuestException).
			Type(c.Namespace(), c.Name()).
			Member(".ctor").
			Detail("%s", r.Error()).
			Build()
	}
	return 0, nil
}

// ReleaseObject drops a host-owned reference and frees the buffers it owns.
func (x *Exports) ReleaseObject(ref uint32) {
	x.d.Release(reftable.Ref(ref))
}

// LookupClass finds a type by assembly, namespace and name.
func (x *Exports) LookupClass(assembly, namespace, name uint32) (uint32, error) {
	asm, errAsm := x.consumeString(assembly)
	ns, errNs := x.consumeString(namespace)
	n, errName := x.consumeString(name)
	if err := multierr.Combine(errAsm, errNs, errName); err != nil {
		return 0, err
	}
	c, err := x.resolver.LookupType(asm, ns, n)
	if err != nil {
		return 0, err
	}
	return x.classes.id(c), nil
}

// LookupMethod finds a method by name and parameter count; arity -1 matches any count.
func (x *Exports) LookupMethod(class, name uint32, arity int32) (uint32, error) {
	n, err := x.consumeString(name)
	if err != nil {
		return 0, err
	}
	c, err := x.class(class)
	if err != nil {
		return 0, err
	}
	m, err := x.resolver.LookupMethod(c, n, int(arity))
	if err != nil {
		return 0, err
	}
	return x.methods.id(m), nil
}

// LookupMethodDesc finds a method of the class token matching a descriptor.
func (x *Exports) LookupMethodDesc(class, desc uint32, includesNamespace bool) (uint32, error) {
	d, err := x.consumeString(desc)
	if err != nil {
		return 0, err
	}
	c, err := x.class(class)
	if err != nil {
		return 0, err
	}
	m, err := x.resolver.LookupMethodByDescriptor(resolve.TypeScope(c), d, includesNamespace)
	if err != nil {
		return 0, err
	}
	return x.methods.id(m), nil
}

// LookupGlobalMethodDesc finds the first method in an assembly matching a descriptor.
func (x *Exports) LookupGlobalMethodDesc(assembly, desc uint32, includesNamespace bool) (uint32, error) {
	asm, errAsm := x.consumeString(assembly)
	d, errDesc := x.consumeString(desc)
	if err := multierr.Append(errAsm, errDesc); err != nil {
		return 0, err
	}
	m, err := x.resolver.LookupMethodByDescriptor(resolve.AssemblyScope(asm), d, includesNamespace)
	if err != nil {
		return 0, err
	}
	return x.methods.id(m), nil
}

// DeserializeObject decodes the length-prefixed buffer at buf into a new unpinned
// reference and stores its class token at classOut. When the serializer throws, the
// exception's reference is returned instead and errOut receives a pointer to its message,
// owned by that reference. errOut is zeroed on success. Null yields reference 0.
func (x *Exports) DeserializeObject(buf, classOut, errOut uint32) (uint32, error) {
	size, err := x.mem.ReadU32(buf)
	if err != nil {
		return 0, err
	}
	total := 4 + size
	if size == 0 {
		total = 8
	}
	data, err := x.mem.Read(buf, total)
	if err != nil {
		return 0, err
	}

	var ref reftable.Ref
	var class vm.Class
	var msg uint32
	switch r := x.d.Deserialize(data).(type) {
	case *marshal.Handle:
		ref, class = r.Ref, r.Type
	case *marshal.Exception:
		ref, class = r.Ref, r.Type
		if msg, err = x.ownString(r.Ref, r.Message); err != nil {
			x.refs.Release(r.Ref)
			return 0, err
		}
	}

	if err := x.mem.WriteU32(classOut, x.classes.id(class)); err != nil {
		x.refs.Release(ref)
		return 0, err
	}
	if err := x.mem.WriteU32(errOut, msg); err != nil {
		x.refs.Release(ref)
		return 0, err
	}
	return uint32(ref), nil
}

// ReflectClass returns a reference to the System.Type of the class token and stores that
// object's class token at classOut.
func (x *Exports) ReflectClass(class, classOut uint32) (uint32, error) {
	c, err := x.class(class)
	if err != nil {
		return 0, err
	}
	h, err := x.d.ReflectClass(c)
	if err != nil {
		return 0, err
	}
	return x.handleOut(h, classOut)
}

// ReflectMethod returns a reference to the MethodInfo of the method token and stores that
// object's class token at classOut.
func (x *Exports) ReflectMethod(method, classOut uint32) (uint32, error) {
	m, err := x.method(method)
	if err != nil {
		return 0, err
	}
	h, err := x.d.ReflectMethod(m)
	if err != nil {
		return 0, err
	}
	return x.handleOut(h, classOut)
}

func (x *Exports) handleOut(h *marshal.Handle, classOut uint32) (uint32, error) {
	if err := x.mem.WriteU32(classOut, x.classes.id(h.Type)); err != nil {
		x.refs.Release(h.Ref)
		return 0, err
	}
	return uint32(h.Ref), nil
}

// GetObjectHash returns the identity hash of a referenced object.
func (x *Exports) GetObjectHash(ref uint32) int32 {
	return x.d.Hash(reftable.Ref(ref))
}

// GetObjectClass returns the token of System.Object.
func (x *Exports) GetObjectClass() uint32 {
	return x.classes.id(x.resolver.Runtime().ObjectClass())
}

// MakeGenericClass inflates a generic class with the n class tokens at args. The token
// array is freed.
func (x *Exports) MakeGenericClass(class, n, args uint32) (uint32, error) {
	typeArgs, err := x.consumeClasses(n, args)
	if err != nil {
		return 0, err
	}
	c, err := x.class(class)
	if err != nil {
		return 0, err
	}
	inflated := x.resolver.InstantiateGenericType(c, typeArgs)
	if inflated == nil {
		return 0, errors.GenericArity(vm.FullName(c), c.GenericArity(), len(typeArgs))
	}
	return x.classes.id(inflated), nil
}

// MakeGenericMethod inflates a generic method with the n class tokens at args. The token
// array is freed.
func (x *Exports) MakeGenericMethod(method, n, args uint32) (uint32, error) {
	typeArgs, err := x.consumeClasses(n, args)
	if err != nil {
		return 0, err
	}
	m, err := x.method(method)
	if err != nil {
		return 0, err
	}
	inflated := x.resolver.InstantiateGenericMethod(m, typeArgs)
	if inflated == nil {
		return 0, errors.GenericArity(vm.FullName(m.Class())+"::"+m.Name(), m.GenericArity(), len(typeArgs))
	}
	return x.methods.id(inflated), nil
}

func (x *Exports) consumeClasses(n, ptr uint32) ([]vm.Class, error) {
	if n == 0 {
		x.alloc.Free(ptr)
		return nil, nil
	}
	ids, err := readU32s(x.mem, ptr, n)
	x.alloc.Free(ptr)
	if err != nil {
		return nil, err
	}
	out := make([]vm.Class, n)
	for i, id := range ids {
		if out[i], err = x.class(id); err != nil {
			return nil, err
		}
	}
	return out, nil
}
