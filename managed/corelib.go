package managed

import (
	"strconv"
	"strings"

	"github.com/wippyai/isolator/vm"
)

// CoreTypes are the classes of the core assembly.
type CoreTypes struct {
	Object      *Class
	ValueType   *Class
	String      *Class
	Int32       *Class
	Int64       *Class
	Boolean     *Class
	Double      *Class
	Bytes       *Class
	Exception   *Class
	RuntimeType *Class
	MethodInfo  *Class
	List        *Class
	Activator   *Class

	toString *Method
}

var builtinExceptions = []struct{ ns, name string }{
	{"System", "SystemException"},
	{"System", "InvalidOperationException"},
	{"System", "ArgumentException"},
	{"System", "ArgumentOutOfRangeException"},
	{"System", "ArgumentNullException"},
	{"System", "NullReferenceException"},
	{"System", "InvalidCastException"},
	{"System", "NotSupportedException"},
	{"System", "MissingMethodException"},
	{"System", "AccessViolationException"},
	{"System", "FormatException"},
	{"System.Reflection", "TargetException"},
	{"System.Reflection", "TargetParameterCountException"},
	{"System.Runtime.Serialization", "SerializationException"},
}

func (r *Runtime) bootstrap() {
	core := r.DefineAssembly(CoreAssembly)
	r.core = core
	t := &r.types

	t.Object = core.DefineClass("System", "Object")
	r.object = t.Object
	t.ValueType = core.DefineClass("System", "ValueType")
	r.valueType = t.ValueType

	t.String = core.DefineClass("System", "String")
	t.Int32 = core.DefineClass("System", "Int32", Struct())
	t.Int64 = core.DefineClass("System", "Int64", Struct())
	t.Boolean = core.DefineClass("System", "Boolean", Struct())
	t.Double = core.DefineClass("System", "Double", Struct())
	t.Bytes = core.DefineClass("System", "Byte[]")
	t.RuntimeType = core.DefineClass("System", "RuntimeType")
	t.MethodInfo = core.DefineClass("System.Reflection", "RuntimeMethodInfo")

	r.defineObject()
	r.defineString()
	r.defineExceptions()
	r.defineList()
	r.defineActivator()
	r.defineThreading()
}

func (r *Runtime) defineObject() {
	t := &r.types
	t.toString = t.Object.DefineMethod("ToString", nil, func(c *Call) (*Object, error) {
		return r.NewString(r.defaultString(c.This)), nil
	}, Virtual())
	t.Object.DefineMethod("GetHashCode", nil, func(c *Call) (*Object, error) {
		return r.NewInt32(r.Hash(c.This)), nil
	}, Virtual())
	t.Object.DefineMethod("Equals", []*Class{t.Object}, func(c *Call) (*Object, error) {
		return r.NewBool(r.equals(c.This, c.Args[0])), nil
	}, Virtual())
	t.Object.DefineMethod("GetType", nil, func(c *Call) (*Object, error) {
		return r.TypeObject(c.This.class).(*Object), nil
	})
	t.Object.DefineMethod("ReferenceEquals", []*Class{t.Object, t.Object}, func(c *Call) (*Object, error) {
		return r.NewBool(c.Args[0] == c.Args[1]), nil
	}, Static())
}

func (r *Runtime) equals(a, b *Object) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil || a.class != b.class {
		return false
	}
	switch av := a.value.(type) {
	case string, int32, int64, bool, float64:
		return av == b.value
	}
	return false
}

func (r *Runtime) defineString() {
	t := &r.types
	t.String.DefineMethod("get_Length", nil, func(c *Call) (*Object, error) {
		return r.NewInt32(int32(len([]rune(c.This.value.(string))))), nil
	})
	t.String.DefineMethod("Concat", []*Class{t.String, t.String}, func(c *Call) (*Object, error) {
		return r.NewString(stringOf(c.Args[0]) + stringOf(c.Args[1])), nil
	}, Static())
	t.String.DefineMethod("IsNullOrEmpty", []*Class{t.String}, func(c *Call) (*Object, error) {
		return r.NewBool(stringOf(c.Args[0]) == ""), nil
	}, Static())
}

func stringOf(o *Object) string {
	if o == nil {
		return ""
	}
	s, _ := o.value.(string)
	return s
}

type exceptionInfo struct {
	message string
	trace   []string
}

func (r *Runtime) defineExceptions() {
	t := &r.types
	t.Exception = r.core.DefineClass("System", "Exception")
	t.Exception.DefineMethod("get_Message", nil, func(c *Call) (*Object, error) {
		return r.NewString(exceptionMessage(c.This)), nil
	}, Virtual())
	t.Exception.DefineMethod("ToString", nil, func(c *Call) (*Object, error) {
		return r.NewString(r.formatException(c.This)), nil
	}, Virtual())

	parents := map[string]*Class{}
	for _, e := range builtinExceptions {
		parent := t.Exception
		switch e.name {
		case "SystemException":
		case "ArgumentOutOfRangeException", "ArgumentNullException":
			parent = parents["ArgumentException"]
		default:
			parent = parents["SystemException"]
		}
		parents[e.name] = r.core.DefineClass(e.ns, e.name, Extends(parent))
	}
}

func exceptionMessage(o *Object) string {
	if o == nil {
		return ""
	}
	if info, ok := o.value.(*exceptionInfo); ok {
		return info.message
	}
	return ""
}

func (r *Runtime) formatException(o *Object) string {
	var b strings.Builder
	b.WriteString(o.class.String())
	if msg := exceptionMessage(o); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	if info, ok := o.value.(*exceptionInfo); ok {
		for _, frame := range info.trace {
			b.WriteByte('\n')
			b.WriteString(frame)
		}
	}
	return b.String()
}

// NewException allocates an exception of class c carrying message.
func (r *Runtime) NewException(c *Class, message string) *Object {
	if c == nil || !vm.IsSubclass(c, r.types.Exception) {
		c = r.types.Exception
	}
	return r.heap.alloc(c, &exceptionInfo{message: message})
}

// Throw raises an exception of the named class, falling back to System.Exception.
func (r *Runtime) Throw(namespace, name, message string) error {
	return &vm.Thrown{Exception: r.NewException(r.FindClass(qualify(namespace, name)), message)}
}

// ThrowClass raises an exception of class c.
func (r *Runtime) ThrowClass(c *Class, message string) error {
	return &vm.Thrown{Exception: r.NewException(c, message)}
}

// ExceptionMessage returns the message of an exception object.
func ExceptionMessage(o vm.Object) string {
	obj, _ := o.(*Object)
	return exceptionMessage(obj)
}

func (r *Runtime) defineList() {
	t := &r.types
	t.List = r.core.DefineClass("System.Collections.Generic", "List`1", Generic(ConstraintNone))
	t.List.DefineMethod("Add", []*Class{TypeParam(0)}, func(c *Call) (*Object, error) {
		items, _ := c.This.value.([]*Object)
		c.This.value = append(items, c.Args[0])
		return nil, nil
	})
	t.List.DefineMethod("get_Count", nil, func(c *Call) (*Object, error) {
		items, _ := c.This.value.([]*Object)
		return r.NewInt32(int32(len(items))), nil
	})
	t.List.DefineMethod("get_Item", []*Class{t.Int32}, func(c *Call) (*Object, error) {
		items, _ := c.This.value.([]*Object)
		i := int(c.Args[0].value.(int32))
		if i < 0 || i >= len(items) {
			return nil, c.Throw("System", "ArgumentOutOfRangeException",
				"Index was out of range. Must be non-negative and less than the size of the collection.")
		}
		return items[i], nil
	})
}

func (r *Runtime) defineActivator() {
	t := &r.types
	t.Activator = r.core.DefineClass("System", "Activator")
	t.Activator.DefineMethod("CreateInstance", nil, func(c *Call) (*Object, error) {
		return r.newObject(c.TypeArgs()[0])
	}, Static(), GenericMethod(ConstraintNone))
}

// NewString allocates a string.
func (r *Runtime) NewString(s string) *Object { return r.heap.alloc(r.types.String, s) }

// NewInt32 boxes v.
func (r *Runtime) NewInt32(v int32) *Object { return r.heap.alloc(r.types.Int32, v) }

// NewInt64 boxes v.
func (r *Runtime) NewInt64(v int64) *Object { return r.heap.alloc(r.types.Int64, v) }

// NewBool boxes v.
func (r *Runtime) NewBool(v bool) *Object { return r.heap.alloc(r.types.Boolean, v) }

// NewDouble boxes v.
func (r *Runtime) NewDouble(v float64) *Object { return r.heap.alloc(r.types.Double, v) }

// NewList allocates a List`1 of elem holding items.
func (r *Runtime) NewList(elem *Class, items ...*Object) *Object {
	c, _ := r.InflateClass(r.types.List, []vm.Class{elem}).(*Class)
	if c == nil {
		return nil
	}
	return r.heap.alloc(c, items)
}

// Alloc allocates an instance of c without running a constructor.
func (r *Runtime) Alloc(c *Class) *Object {
	if vm.IsSubclass(c, r.types.Exception) {
		return r.heap.alloc(c, &exceptionInfo{})
	}
	return r.heap.alloc(c, zeroValue(r, c))
}

// Box allocates c holding v. v must match the class's Go representation.
func (r *Runtime) Box(c *Class, v any) *Object { return r.heap.alloc(c, v) }

func (r *Runtime) defaultString(o *Object) string {
	if o == nil {
		return ""
	}
	switch v := o.value.(type) {
	case string:
		return v
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		if v {
			return "True"
		}
		return "False"
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case *exceptionInfo:
		return r.formatException(o)
	case *Class:
		return v.String()
	case *Method:
		return v.String()
	}
	return o.class.String()
}
