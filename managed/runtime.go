package managed

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/isolator/errors"
	"github.com/wippyai/isolator/vm"
)

// CoreAssembly is the name of the assembly holding the built-in types.
const CoreAssembly = vm.CoreAssembly

// Body implements a method.
type Body func(c *Call) (*Object, error)

// Call is the activation passed to a method body.
type Call struct {
	Runtime *Runtime
	Method  *Method
	This    *Object
	Args    []*Object
}

// TypeArgs returns the method's type arguments.
func (c *Call) TypeArgs() []*Class { return c.Method.typeArgs }

// ClassTypeArgs returns the declaring class's type arguments.
func (c *Call) ClassTypeArgs() []*Class { return c.Method.class.typeArgs }

// Throw raises a built-in exception.
func (c *Call) Throw(namespace, name, message string) error {
	return c.Runtime.Throw(namespace, name, message)
}

// Runtime is an in-process managed runtime with a relocating heap.
//
// Runtime is not safe for concurrent use; it is driven by a single control thread.
type Runtime struct {
	assemblies map[string]*Assembly
	order      []*Assembly
	hooks      []vm.SearchHook
	internal   map[string]vm.InternalCall
	intrinsics map[string]Body
	heap       *heap
	core       *Assembly
	types      CoreTypes
	object     *Class
	valueType  *Class
	log        *zap.Logger
	stress     bool

	typeObjects   map[*Class]*Object
	methodObjects map[*Method]*Object

	timers []timer
	work   []func() error
}

var (
	_ vm.Runtime       = (*Runtime)(nil)
	_ vm.Pinner        = (*Runtime)(nil)
	_ vm.Reflector     = (*Runtime)(nil)
	_ vm.ImageLoader   = (*Runtime)(nil)
	_ vm.InternalCalls = (*Runtime)(nil)
)

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the runtime logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runtime) {
		if l != nil {
			r.log = l
		}
	}
}

// WithStressCompaction compacts the heap on every invocation, so unpinned interior
// pointers go stale as early as possible.
func WithStressCompaction(enabled bool) Option {
	return func(r *Runtime) { r.stress = enabled }
}

// New creates a runtime with the core assembly loaded.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		assemblies:    make(map[string]*Assembly),
		internal:      make(map[string]vm.InternalCall),
		intrinsics:    make(map[string]Body),
		heap:          newHeap(),
		log:           zap.NewNop(),
		typeObjects:   make(map[*Class]*Object),
		methodObjects: make(map[*Method]*Object),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.bootstrap()
	return r
}

// DefineAssembly creates and registers an empty assembly, or returns the loaded one.
func (r *Runtime) DefineAssembly(name string) *Assembly {
	name = normalizeName(name)
	if a, ok := r.assemblies[name]; ok {
		return a
	}
	a := &Assembly{rt: r, name: name, byName: make(map[string]*Class)}
	r.assemblies[name] = a
	r.order = append(r.order, a)
	return a
}

// Assemblies returns loaded assemblies in load order.
func (r *Runtime) Assemblies() []*Assembly {
	return append([]*Assembly(nil), r.order...)
}

func normalizeName(name string) string {
	if strings.HasSuffix(strings.ToLower(name), ".dll") {
		return name[:len(name)-4]
	}
	return name
}

// LoadAssembly returns a loaded assembly or consults the search hooks in order.
func (r *Runtime) LoadAssembly(name string) (vm.Assembly, bool) {
	name = normalizeName(name)
	if a, ok := r.assemblies[name]; ok {
		return a, true
	}
	for _, hook := range r.hooks {
		if a := hook(name); a != nil {
			r.log.Debug("assembly loaded by search hook", zap.String("assembly", name))
			return a, true
		}
	}
	r.log.Debug("assembly not found", zap.String("assembly", name))
	return nil, false
}

// AddSearchHook appends a hook consulted for assemblies not yet loaded.
func (r *Runtime) AddSearchHook(hook vm.SearchHook) {
	r.hooks = append(r.hooks, hook)
}

// AddInternalCall binds an extern method name ("Namespace.Type::Method") to fn.
func (r *Runtime) AddInternalCall(name string, fn vm.InternalCall) {
	r.internal[name] = fn
}

// RegisterIntrinsic makes a body available to images by key.
func (r *Runtime) RegisterIntrinsic(key string, body Body) {
	r.intrinsics[key] = body
}

// ObjectClass returns System.Object.
func (r *Runtime) ObjectClass() vm.Class { return r.object }

// Types returns the built-in classes.
func (r *Runtime) Types() *CoreTypes { return &r.types }

// FindClass looks up "Namespace.Name" across loaded assemblies in load order.
func (r *Runtime) FindClass(fullName string) *Class {
	for _, a := range r.order {
		if c := a.byName[fullName]; c != nil {
			return c
		}
	}
	return nil
}

// New allocates an instance of class and runs its parameterless constructor.
func (r *Runtime) New(class vm.Class) (vm.Object, error) {
	c, ok := class.(*Class)
	if !ok || c == nil {
		return nil, errors.InvalidInput(errors.PhaseInvoke, "class does not belong to this runtime")
	}
	o, err := r.newObject(c)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (r *Runtime) newObject(c *Class) (*Object, error) {
	if c.param != 0 || len(c.constraints) > 0 && c.definition == nil {
		return nil, r.Throw("System", "InvalidOperationException",
			fmt.Sprintf("Cannot create an instance of %s because it contains generic parameters.", c))
	}
	var o *Object
	switch {
	case vm.IsSubclass(c, r.types.Exception):
		o = r.heap.alloc(c, &exceptionInfo{})
	case c.Definition() == r.types.List:
		o = r.heap.alloc(c, []*Object(nil))
	default:
		o = r.heap.alloc(c, zeroValue(r, c))
	}
	if ctor, ok := c.FindMethod(".ctor", 0).(*Method); ok && ctor != nil {
		if _, err := r.invoke(ctor, o, nil); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func zeroValue(r *Runtime, c *Class) any {
	switch c {
	case r.types.Int32:
		return int32(0)
	case r.types.Int64:
		return int64(0)
	case r.types.Boolean:
		return false
	case r.types.Double:
		return float64(0)
	case r.types.String:
		return ""
	}
	return nil
}

// Invoke calls method on target with args.
func (r *Runtime) Invoke(method vm.Method, target vm.Object, args []vm.Value) (vm.Object, error) {
	m, ok := method.(*Method)
	if !ok || m == nil {
		return nil, errors.InvalidInput(errors.PhaseInvoke, "method does not belong to this runtime")
	}
	if r.stress {
		r.heap.compact()
	}

	var this *Object
	if target != nil {
		if this, ok = target.(*Object); !ok {
			return nil, errors.InvalidInput(errors.PhaseInvoke, "target does not belong to this runtime")
		}
	}
	if len(args) != len(m.params) {
		return nil, r.Throw("System.Reflection", "TargetParameterCountException", "Parameter count mismatch.")
	}

	resolved := make([]*Object, len(args))
	for i, a := range args {
		var obj *Object
		switch {
		case a.IsUnboxed():
			if obj = r.heap.unboxed(a.Pointer); obj == nil {
				return nil, r.Throw("System", "AccessViolationException",
					"Attempted to read or write protected memory. This is often an indication that other memory is corrupt.")
			}
		case a.Object != nil:
			if obj, ok = a.Object.(*Object); !ok {
				return nil, errors.InvalidInput(errors.PhaseInvoke, "argument does not belong to this runtime")
			}
		}
		if err := r.checkArg(obj, m.params[i]); err != nil {
			return nil, err
		}
		resolved[i] = obj
	}

	res, err := r.invoke(m, this, resolved)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return res, nil
}

func (r *Runtime) checkArg(obj *Object, param *Class) error {
	if param.param != 0 {
		return nil
	}
	if obj == nil {
		if param.valueType {
			return r.Throw("System", "ArgumentException",
				fmt.Sprintf("Cannot pass null for a parameter of value type '%s'.", param))
		}
		return nil
	}
	if !r.assignable(obj.class, param) {
		return r.Throw("System", "ArgumentException",
			fmt.Sprintf("Object of type '%s' cannot be converted to type '%s'.", obj.class, param))
	}
	return nil
}

func (r *Runtime) assignable(c, to *Class) bool {
	if to == r.object {
		return true
	}
	return vm.IsSubclass(c, to)
}

func (r *Runtime) invoke(m *Method, this *Object, args []*Object) (*Object, error) {
	if m.GenericArity() > 0 || m.class.GenericArity() > 0 {
		return nil, r.Throw("System", "InvalidOperationException",
			"Late bound operations cannot be performed on types or methods for which ContainsGenericParameters is true.")
	}
	if !m.static {
		if this == nil {
			return nil, r.Throw("System", "NullReferenceException", "Object reference not set to an instance of an object.")
		}
		if !vm.IsSubclass(this.class, m.class) {
			return nil, r.Throw("System.Reflection", "TargetException", "Object does not match target type.")
		}
	}

	res, err := r.run(m, this, args)
	if err != nil {
		if thrown, ok := err.(*vm.Thrown); ok {
			if ex, ok := thrown.Exception.(*Object); ok {
				if info, ok := ex.value.(*exceptionInfo); ok {
					info.trace = append(info.trace, "   at "+m.class.String()+"."+m.name+"("+paramList(m)+")")
				}
			}
		}
		return nil, err
	}
	return res, nil
}

func (r *Runtime) run(m *Method, this *Object, args []*Object) (*Object, error) {
	if m.internal != "" {
		fn, ok := r.internal[m.internal]
		if !ok {
			return nil, r.Throw("System", "MissingMethodException",
				fmt.Sprintf("No internal call registered for %s.", m.internal))
		}
		in := make([]vm.Object, 0, len(args)+1)
		if this != nil {
			in = append(in, this)
		}
		for _, a := range args {
			if a == nil {
				in = append(in, nil)
				continue
			}
			in = append(in, a)
		}
		out, err := fn(in)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return nil, nil
		}
		o, ok := out.(*Object)
		if !ok {
			return nil, errors.InvalidInput(errors.PhaseInvoke, "internal call returned a foreign object")
		}
		return o, nil
	}
	if m.body == nil {
		return nil, r.Throw("System", "MissingMethodException",
			fmt.Sprintf("Method %s has no body.", m))
	}
	return m.body(&Call{Runtime: r, Method: m, This: this, Args: args})
}

func paramList(m *Method) string {
	names := make([]string, len(m.params))
	for i, p := range m.params {
		names[i] = p.name
	}
	return strings.Join(names, ", ")
}

// VirtualMethod returns the most-derived override of method for target's class.
func (r *Runtime) VirtualMethod(target vm.Object, method vm.Method) vm.Method {
	m, ok := method.(*Method)
	if !ok || m == nil {
		return nil
	}
	obj, ok := target.(*Object)
	if !ok || obj == nil {
		return nil
	}
	if !vm.IsSubclass(obj.class, m.class) {
		return nil
	}
	if m.static || !m.virtual {
		return m
	}

	def := m
	if m.definition != nil {
		def = m.definition
	}
	for k := obj.class; k != nil; k = k.parent {
		if k == m.class {
			return m
		}
		for _, cand := range k.methods {
			if cand.name != def.name || cand.static || !cand.virtual || !overrides(cand.params, def.params) {
				continue
			}
			if len(cand.constraints) != len(def.constraints) {
				continue
			}
			if m.definition != nil {
				if inst, ok := r.InflateMethod(cand, classes(m.typeArgs)).(*Method); ok && inst != nil {
					return inst
				}
				return nil
			}
			return cand
		}
	}
	return m
}

func classes(in []*Class) []vm.Class {
	out := make([]vm.Class, len(in))
	for i, c := range in {
		out[i] = c
	}
	return out
}

// Unbox returns the address of a boxed value type's storage, 0 for reference types.
func (r *Runtime) Unbox(o vm.Object) uint32 {
	obj, ok := o.(*Object)
	if !ok || obj == nil || !obj.class.valueType {
		return 0
	}
	return obj.addr + headerSize
}

// NewBytes allocates a System.Byte[] holding a copy of data.
func (r *Runtime) NewBytes(data []byte) vm.Object {
	return r.heap.alloc(r.types.Bytes, append([]byte(nil), data...))
}

// Bytes returns the contents of a byte array.
func (r *Runtime) Bytes(o vm.Object) ([]byte, bool) {
	obj, ok := o.(*Object)
	if !ok || obj == nil || obj.class != r.types.Bytes {
		return nil, false
	}
	b, _ := obj.value.([]byte)
	return b, true
}

// ToString dispatches Object.ToString on o.
func (r *Runtime) ToString(o vm.Object) (string, error) {
	obj, ok := o.(*Object)
	if !ok || obj == nil {
		return "", nil
	}
	m, ok := r.VirtualMethod(obj, r.types.toString).(*Method)
	if !ok || m == nil {
		return r.defaultString(obj), nil
	}
	res, err := r.invoke(m, obj, nil)
	if err != nil {
		return "", err
	}
	if res == nil {
		return "", nil
	}
	s, _ := res.value.(string)
	return s, nil
}

// Hash returns the identity hash of o, stable across relocation.
func (r *Runtime) Hash(o vm.Object) int32 {
	obj, ok := o.(*Object)
	if !ok || obj == nil {
		return 0
	}
	return int32(obj.id * 2654435761 >> 1)
}

// Pin prevents o from moving on compaction.
func (r *Runtime) Pin(o vm.Object) {
	if obj, ok := o.(*Object); ok && obj != nil {
		obj.pins++
	}
}

// Unpin undoes one Pin.
func (r *Runtime) Unpin(o vm.Object) {
	if obj, ok := o.(*Object); ok && obj != nil && obj.pins > 0 {
		obj.pins--
	}
}

// Compact relocates every unpinned object and returns how many moved. It frees nothing;
// see Collect.
func (r *Runtime) Compact() int {
	return r.heap.compact()
}

// Collect frees every heap object unreachable from roots, pinned objects and cached
// reflection objects, and returns how many were freed. The heap cannot see objects held
// only by Go values, so the caller passes every object it still uses as a root, such as
// the objects behind unpinned references. Collect must not run during an invocation.
func (r *Runtime) Collect(roots ...vm.Object) int {
	all := make([]*Object, 0, len(roots)+len(r.typeObjects)+len(r.methodObjects))
	for _, o := range roots {
		if obj, ok := o.(*Object); ok && obj != nil {
			all = append(all, obj)
		}
	}
	for _, o := range r.typeObjects {
		all = append(all, o)
	}
	for _, o := range r.methodObjects {
		all = append(all, o)
	}
	freed := r.heap.collect(all)
	r.log.Debug("heap collected", zap.Int("freed", freed), zap.Int("live", r.heap.live()))
	return freed
}

// LiveObjects returns the number of heap objects.
func (r *Runtime) LiveObjects() int {
	return r.heap.live()
}

// TypeObject returns the System.RuntimeType for c.
func (r *Runtime) TypeObject(c vm.Class) vm.Object {
	cls, ok := c.(*Class)
	if !ok || cls == nil {
		return nil
	}
	if o := r.typeObjects[cls]; o != nil {
		return o
	}
	o := r.heap.alloc(r.types.RuntimeType, cls)
	r.typeObjects[cls] = o
	return o
}

// MethodObject returns the System.Reflection.RuntimeMethodInfo for m.
func (r *Runtime) MethodObject(m vm.Method) vm.Object {
	method, ok := m.(*Method)
	if !ok || method == nil {
		return nil
	}
	if o := r.methodObjects[method]; o != nil {
		return o
	}
	o := r.heap.alloc(r.types.MethodInfo, method)
	r.methodObjects[method] = o
	return o
}

// overrides reports whether an override with params matches the signature base. Method
// type parameters match by position. A class type parameter in base matches any type,
// since the derived class may close it.
func overrides(params, base []*Class) bool {
	if len(params) != len(base) {
		return false
	}
	for i, p := range params {
		b := base[i]
		switch {
		case b.param > 0:
		case b.param < 0 || p.param < 0:
			if p.param != b.param {
				return false
			}
		case p != b:
			return false
		}
	}
	return true
}
