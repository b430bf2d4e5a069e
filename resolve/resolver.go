package resolve

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/isolator/errors"
	"github.com/wippyai/isolator/vm"
)

// Resolver turns names into runtime type and method references.
//
// General lookups go to the runtime every time. Only the serializer entry points are
// memoized, and only once they resolve successfully.
type Resolver struct {
	rt         vm.Runtime
	serializer vm.SerializerCoordinates
	log        *zap.Logger

	serialize   vm.Method
	deserialize vm.Method
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithSerializer sets the serializer coordinates.
func WithSerializer(c vm.SerializerCoordinates) Option {
	return func(r *Resolver) { r.serializer = c }
}

// WithLogger overrides the package logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

// New creates a resolver over rt.
func New(rt vm.Runtime, opts ...Option) *Resolver {
	r := &Resolver{
		rt:         rt,
		serializer: vm.DefaultSerializer,
		log:        Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Runtime returns the runtime the resolver reads from.
func (r *Resolver) Runtime() vm.Runtime { return r.rt }

// LookupType resolves (assembly, namespace, name). The error distinguishes a missing
// assembly (KindAssemblyNotFound) from a missing type (KindTypeNotFound).
func (r *Resolver) LookupType(assembly, namespace, name string) (vm.Class, error) {
	asm, ok := r.rt.LoadAssembly(assembly)
	if !ok || asm == nil {
		r.log.Debug("assembly not found", zap.String("assembly", assembly))
		return nil, errors.AssemblyNotFound(assembly)
	}
	c := asm.FindClass(namespace, name)
	if c == nil {
		r.log.Debug("type not found",
			zap.String("assembly", assembly),
			zap.String("namespace", namespace),
			zap.String("type", name))
		return nil, errors.TypeNotFound(assembly, namespace, name)
	}
	return c, nil
}

// LookupMethod finds a method by name and parameter count on class or its ancestors.
// arity < 0 matches any count.
func (r *Resolver) LookupMethod(class vm.Class, name string, arity int) (vm.Method, error) {
	if class == nil {
		return nil, errors.InvalidInput(errors.PhaseResolve, "nil class")
	}
	for k := class; k != nil; k = k.Parent() {
		if m := k.FindMethod(name, arity); m != nil {
			return m, nil
		}
	}
	r.log.Debug("method not found",
		zap.String("type", vm.FullName(class)),
		zap.String("method", name),
		zap.Int("arity", arity))
	return nil, methodNotFound(class, name, arity)
}

func methodNotFound(class vm.Class, name string, arity int) *errors.Error {
	e := errors.MethodNotFound(class.Namespace(), class.Name(), name, arity)
	if asm := class.Assembly(); asm != nil {
		e.Assembly = asm.Name()
	}
	return e
}

// Scope bounds a descriptor search to one type or to one assembly.
type Scope struct {
	class    vm.Class
	assembly string
}

// TypeScope searches class and its ancestors.
func TypeScope(class vm.Class) Scope { return Scope{class: class} }

// AssemblyScope searches every type of the named assembly.
func AssemblyScope(assembly string) Scope { return Scope{assembly: assembly} }

// LookupMethodByDescriptor finds the first method in scope matching desc. In a type
// scope the descriptor's type part must be "*", the scope type, or the ancestor that
// declares the method.
func (r *Resolver) LookupMethodByDescriptor(scope Scope, desc string, includesNamespace bool) (vm.Method, error) {
	d, err := ParseDescriptor(desc, includesNamespace)
	if err != nil {
		return nil, err
	}

	if scope.class != nil {
		named := d.MatchClass(scope.class)
		for k := scope.class; k != nil; k = k.Parent() {
			// The type part names the scope type or the ancestor declaring the method.
			if !named && !d.MatchClass(k) {
				continue
			}
			if m := findInClass(k, d); m != nil {
				return m, nil
			}
		}
		e := methodNotFound(scope.class, d.Method, d.Arity())
		e.Detail = fmt.Sprintf("no method matches descriptor %q", desc)
		return nil, e
	}

	asm, ok := r.rt.LoadAssembly(scope.assembly)
	if !ok || asm == nil {
		return nil, errors.AssemblyNotFound(scope.assembly)
	}
	for _, c := range asm.Classes() {
		if !d.MatchClass(c) {
			continue
		}
		if m := findInClass(c, d); m != nil {
			return m, nil
		}
	}
	r.log.Debug("descriptor not matched",
		zap.String("assembly", scope.assembly),
		zap.String("descriptor", desc))
	return nil, errors.New(errors.PhaseResolve, errors.KindMethodNotFound).
		Assembly(scope.assembly).
		Type(d.Namespace, d.Type).
		Member(d.Method).
		Value(desc).
		Detail("no method in assembly %q matches descriptor %q", scope.assembly, desc).
		Build()
}

func findInClass(c vm.Class, d *Descriptor) vm.Method {
	for _, m := range c.Methods() {
		if d.Match(m) {
			return m
		}
	}
	return nil
}

// InstantiateGenericType inflates class with args. Nil signals an arity or constraint
// mismatch; it is not an error.
func (r *Resolver) InstantiateGenericType(class vm.Class, args []vm.Class) vm.Class {
	if class == nil || class.GenericArity() != len(args) || len(args) == 0 {
		return nil
	}
	return r.rt.InflateClass(class, args)
}

// InstantiateGenericMethod inflates method with args. Nil signals an arity or constraint
// mismatch.
func (r *Resolver) InstantiateGenericMethod(method vm.Method, args []vm.Class) vm.Method {
	if method == nil || method.GenericArity() != len(args) || len(args) == 0 {
		return nil
	}
	return r.rt.InflateMethod(method, args)
}

// ResolveOverride returns the most-derived override of method for target's runtime type.
// Static and non-virtual methods resolve to themselves.
func (r *Resolver) ResolveOverride(target vm.Object, method vm.Method) vm.Method {
	if target == nil || method == nil || method.IsStatic() {
		return method
	}
	return r.rt.VirtualMethod(target, method)
}

// Serializer returns the memoized serializer entry points.
func (r *Resolver) Serializer() (serialize, deserialize vm.Method, err error) {
	if r.serialize != nil && r.deserialize != nil {
		return r.serialize, r.deserialize, nil
	}

	at := r.serializer
	class, err := r.LookupType(at.Assembly, at.Namespace, at.Type)
	if err != nil {
		return nil, nil, err
	}
	ser, err := r.LookupMethod(class, at.Serialize, 1)
	if err != nil {
		return nil, nil, err
	}
	de, err := r.LookupMethod(class, at.Deserialize, 1)
	if err != nil {
		return nil, nil, err
	}
	if de.GenericArity() != 1 {
		return nil, nil, errors.New(errors.PhaseResolve, errors.KindGenericArity).
			Type(at.Namespace, at.Type).
			Member(at.Deserialize).
			Detail("deserializer must take exactly one type parameter, has %d", de.GenericArity()).
			Build()
	}

	r.serialize, r.deserialize = ser, de
	r.log.Debug("serializer resolved",
		zap.String("assembly", at.Assembly),
		zap.String("type", at.Namespace+"."+at.Type))
	return ser, de, nil
}

// DeserializerFor returns Deserialize<T> inflated for declared, or for System.Object when
// declared is nil.
func (r *Resolver) DeserializerFor(declared vm.Class) (vm.Method, error) {
	_, de, err := r.Serializer()
	if err != nil {
		return nil, err
	}
	if declared == nil {
		declared = r.rt.ObjectClass()
	}
	m := r.rt.InflateMethod(de, []vm.Class{declared})
	if m == nil {
		return nil, errors.New(errors.PhaseResolve, errors.KindGenericArity).
			Member(de.Name()).
			Detail("cannot instantiate deserializer for %s", vm.FullName(declared)).
			Build()
	}
	return m, nil
}
