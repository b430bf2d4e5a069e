// Package vm defines the contract the bridge expects from the embedded managed runtime.
//
// The runtime owns the class/metadata system, object allocation, method invocation and the
// assembly loader. The bridge only ever talks to it through these interfaces, so any
// runtime that can answer them (an embedded VM compiled to wasm, or the in-process
// reference runtime in package managed) can sit behind the dispatcher.
//
// # Values
//
// Invocation arguments are passed as Value. A Value either carries an object reference or,
// for value-type parameters, a raw interior Pointer into the boxed object's storage as
// returned by Runtime.Unbox. A Pointer is only meaningful while the backing object is
// pinned; relocation invalidates it.
//
// # Exceptions
//
// Runtime.Invoke reports guest exceptions as a *Thrown error carrying the exception
// object. Any other error from Invoke is a runtime failure without a guest object.
package vm

import "fmt"

// Object is a guest heap object.
type Object interface {
	Class() Class
}

// Assembly is a loaded guest assembly.
type Assembly interface {
	Name() string
	// FindClass returns nil when the assembly has no such type.
	FindClass(namespace, name string) Class
	Classes() []Class
}

// Class identifies a guest type. Inflated generic classes are distinct Class values.
type Class interface {
	Name() string
	Namespace() string
	Assembly() Assembly
	Parent() Class
	IsValueType() bool
	// GenericArity is the number of open type parameters; 0 for non-generic or
	// already inflated classes.
	GenericArity() int
	// FindMethod returns the first method declared on this class (not inherited) with
	// the given name and parameter count. arity < 0 matches any count. Nil when absent.
	FindMethod(name string, arity int) Method
	Methods() []Method
}

// Method identifies a guest method. Inflated generic methods are distinct Method values.
type Method interface {
	Name() string
	Class() Class
	Params() []Class
	IsStatic() bool
	IsVirtual() bool
	GenericArity() int
}

// Value is one invocation argument.
type Value struct {
	Object  Object
	Pointer uint32
}

// Ref wraps an object reference argument.
func Ref(o Object) Value { return Value{Object: o} }

// Unboxed wraps an interior pointer argument for a value-type parameter.
func Unboxed(ptr uint32) Value { return Value{Pointer: ptr} }

// IsUnboxed reports whether the value is passed by interior pointer.
func (v Value) IsUnboxed() bool { return v.Pointer != 0 }

// Runtime is the metadata and execution surface of the embedded VM.
type Runtime interface {
	// LoadAssembly runs the runtime's own loader, including installed search hooks.
	LoadAssembly(name string) (Assembly, bool)
	ObjectClass() Class

	// New allocates an instance and runs its parameterless constructor.
	New(class Class) (Object, error)
	Invoke(method Method, target Object, args []Value) (Object, error)
	// VirtualMethod returns the most-derived override of method for target's runtime
	// type, or nil when the runtime cannot find one.
	VirtualMethod(target Object, method Method) Method

	// InflateClass and InflateMethod return nil when the arguments do not fit the
	// generic definition.
	InflateClass(class Class, args []Class) Class
	InflateMethod(method Method, args []Class) Method

	// Unbox returns the address of a boxed value type's storage.
	Unbox(o Object) uint32
	NewBytes(data []byte) Object
	// Bytes returns the contents of a byte array object.
	Bytes(o Object) ([]byte, bool)
	ToString(o Object) (string, error)
	Hash(o Object) int32
}

// Pinner is implemented by runtimes with a relocating collector.
type Pinner interface {
	Pin(o Object)
	Unpin(o Object)
}

// Reflector produces reflection objects for classes and methods.
type Reflector interface {
	TypeObject(c Class) Object
	MethodObject(m Method) Object
}

// Image is an opened, not yet loaded, assembly image.
type Image interface {
	Name() string
}

// SearchHook is consulted by the runtime loader when an assembly is not on its search path.
// Returning nil lets the default resolution proceed.
type SearchHook func(name string) Assembly

// ImageLoader opens in-memory images and loads them as assemblies.
type ImageLoader interface {
	OpenImage(data []byte) (Image, error)
	LoadImage(img Image, name string) (Assembly, error)
	AddSearchHook(hook SearchHook)
}

// InternalCall is a runtime-registered native entry point, used by the upcall shims.
type InternalCall func(args []Object) (Object, error)

// InternalCalls lets the bridge bind native implementations to guest extern methods.
type InternalCalls interface {
	AddInternalCall(name string, fn InternalCall)
}

// Thrown is the error returned when guest code throws.
type Thrown struct {
	Exception Object
}

func (t *Thrown) Error() string {
	if t.Exception == nil {
		return "guest exception"
	}
	return fmt.Sprintf("guest exception %s", FullName(t.Exception.Class()))
}

// FullName renders "Namespace.Name".
func FullName(c Class) string {
	if c == nil {
		return ""
	}
	if c.Namespace() == "" {
		return c.Name()
	}
	return c.Namespace() + "." + c.Name()
}

// IsSubclass reports whether c equals base or derives from it.
func IsSubclass(c, base Class) bool {
	for k := c; k != nil; k = k.Parent() {
		if k == base {
			return true
		}
	}
	return false
}

// SerializerCoordinates locate the guest-resident serializer:
//
//	static byte[] Serialize(object value)
//	static T Deserialize<T>(byte[] data)
type SerializerCoordinates struct {
	Assembly    string
	Namespace   string
	Type        string
	Serialize   string
	Deserialize string
}

// DefaultSerializer is where the bridge looks for the serializer unless configured.
var DefaultSerializer = SerializerCoordinates{
	Assembly:    "Isolator.Guest",
	Namespace:   "Isolator.Guest",
	Type:        "Serialization",
	Serialize:   "Serialize",
	Deserialize: "Deserialize",
}

// CoreAssembly is the assembly holding the built-in types.
const CoreAssembly = "System.Private.CoreLib"

// Extern method names a runtime expects the embedder to bind through InternalCalls.
const (
	InternalSetTimeout    = "System.Threading.TimerQueue::SetTimeout"
	InternalQueueCallback = "System.Threading.ThreadPool::QueueCallback"
	InternalCallHost      = "Isolator.Guest.Interop::CallHost"
)

// Primitive is implemented by boxed primitives (strings, numbers, booleans, byte arrays)
// whose Go value the runtime can hand out directly.
type Primitive interface {
	Object
	Value() any
}
