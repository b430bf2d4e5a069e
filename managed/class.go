package managed

import (
	"strings"

	"github.com/wippyai/isolator/vm"
)

// Assembly is a loaded assembly.
type Assembly struct {
	rt      *Runtime
	name    string
	classes []*Class
	byName  map[string]*Class
}

// Name returns the assembly name.
func (a *Assembly) Name() string { return a.name }

// FindClass implements vm.Assembly.
func (a *Assembly) FindClass(namespace, name string) vm.Class {
	if c := a.class(namespace, name); c != nil {
		return c
	}
	return nil
}

func (a *Assembly) class(namespace, name string) *Class {
	return a.byName[qualify(namespace, name)]
}

// Classes implements vm.Assembly.
func (a *Assembly) Classes() []vm.Class {
	out := make([]vm.Class, len(a.classes))
	for i, c := range a.classes {
		out[i] = c
	}
	return out
}

// DefineClass adds a class to the assembly.
func (a *Assembly) DefineClass(namespace, name string, opts ...ClassOption) *Class {
	c := &Class{
		name:      name,
		namespace: namespace,
		assembly:  a,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.parent == nil && a.rt.core != nil && a.rt.object != nil {
		if c.valueType {
			c.parent = a.rt.valueType
		} else if c != a.rt.object {
			c.parent = a.rt.object
		}
	}
	a.classes = append(a.classes, c)
	a.byName[qualify(namespace, name)] = c
	return c
}

func qualify(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}

// Constraint restricts the type arguments a generic parameter accepts.
type Constraint uint8

const (
	ConstraintNone Constraint = iota
	ConstraintValueType
	ConstraintClass
)

// ClassOption configures DefineClass.
type ClassOption func(*Class)

// Extends sets the parent class.
func Extends(parent *Class) ClassOption {
	return func(c *Class) { c.parent = parent }
}

// Struct marks the class as a value type.
func Struct() ClassOption {
	return func(c *Class) { c.valueType = true }
}

// Generic declares the class's type parameters and their constraints.
func Generic(constraints ...Constraint) ClassOption {
	return func(c *Class) { c.constraints = constraints }
}

// Class is a type in the managed runtime.
type Class struct {
	name        string
	namespace   string
	assembly    *Assembly
	parent      *Class
	valueType   bool
	constraints []Constraint
	methods     []*Method
	fields      []Field

	definition *Class
	typeArgs   []*Class
	inflated   map[string]*Class

	// placeholder for a generic parameter: position+1, negative for method parameters
	param int
}

func (c *Class) Name() string { return c.name }

func (c *Class) Namespace() string { return c.namespace }

func (c *Class) Assembly() vm.Assembly {
	if c.assembly == nil {
		return nil
	}
	return c.assembly
}

func (c *Class) Parent() vm.Class {
	if c.parent == nil {
		return nil
	}
	return c.parent
}

func (c *Class) IsValueType() bool { return c.valueType }

func (c *Class) GenericArity() int {
	if c.definition != nil {
		return 0
	}
	return len(c.constraints)
}

// TypeArgs returns the type arguments of an inflated class.
func (c *Class) TypeArgs() []*Class { return c.typeArgs }

// Definition returns the generic definition of an inflated class, or c itself.
func (c *Class) Definition() *Class {
	if c.definition != nil {
		return c.definition
	}
	return c
}

// String renders the full name including type arguments.
func (c *Class) String() string {
	s := qualify(c.namespace, c.name)
	if len(c.typeArgs) == 0 {
		return s
	}
	args := make([]string, len(c.typeArgs))
	for i, a := range c.typeArgs {
		args[i] = a.String()
	}
	return s + "[" + strings.Join(args, ",") + "]"
}

func (c *Class) FindMethod(name string, arity int) vm.Method {
	for _, m := range c.methods {
		if m.name == name && (arity < 0 || len(m.params) == arity) {
			return m
		}
	}
	return nil
}

func (c *Class) Methods() []vm.Method {
	out := make([]vm.Method, len(c.methods))
	for i, m := range c.methods {
		out[i] = m
	}
	return out
}

// Field is a declared instance field.
type Field struct {
	Name string
	Type *Class
}

// DefineField declares an instance field.
func (c *Class) DefineField(name string, t *Class) *Class {
	c.fields = append(c.fields, Field{Name: name, Type: t})
	return c
}

// Fields returns declared fields including inherited ones, base class first.
func (c *Class) Fields() []Field {
	var chain []*Class
	for k := c; k != nil; k = k.parent {
		chain = append(chain, k)
	}
	var out []Field
	for i := len(chain) - 1; i >= 0; i-- {
		out = append(out, chain[i].fields...)
	}
	return out
}

// DefineMethod adds a method to the class.
func (c *Class) DefineMethod(name string, params []*Class, body Body, opts ...MethodOption) *Method {
	m := &Method{
		name:   name,
		class:  c,
		params: params,
		body:   body,
	}
	for _, opt := range opts {
		opt(m)
	}
	c.methods = append(c.methods, m)
	return m
}

// Method is a method in the managed runtime.
type Method struct {
	name     string
	class    *Class
	params   []*Class
	static   bool
	virtual  bool
	internal string
	body     Body

	constraints []Constraint
	definition  *Method
	typeArgs    []*Class
	inflated    map[string]*Method
}

// MethodOption configures DefineMethod.
type MethodOption func(*Method)

// Static marks a method static.
func Static() MethodOption {
	return func(m *Method) { m.static = true }
}

// Virtual marks a method overridable.
func Virtual() MethodOption {
	return func(m *Method) { m.virtual = true }
}

// GenericMethod declares the method's type parameters.
func GenericMethod(constraints ...Constraint) MethodOption {
	return func(m *Method) { m.constraints = constraints }
}

// Extern binds the method to an internal call registered by name.
func Extern(internalName string) MethodOption {
	return func(m *Method) { m.internal = internalName }
}

func (m *Method) Name() string { return m.name }

func (m *Method) Class() vm.Class { return m.class }

func (m *Method) Params() []vm.Class {
	out := make([]vm.Class, len(m.params))
	for i, p := range m.params {
		out[i] = p
	}
	return out
}

func (m *Method) IsStatic() bool { return m.static }

func (m *Method) IsVirtual() bool { return m.virtual }

func (m *Method) GenericArity() int {
	if m.definition != nil {
		return 0
	}
	return len(m.constraints)
}

// TypeArgs returns the type arguments of an inflated method.
func (m *Method) TypeArgs() []*Class { return m.typeArgs }

// String renders "Namespace.Type:Name(T1,T2)".
func (m *Method) String() string {
	params := make([]string, len(m.params))
	for i, p := range m.params {
		params[i] = p.String()
	}
	return m.class.String() + ":" + m.name + "(" + strings.Join(params, ",") + ")"
}

// TypeParam is the placeholder for the class's i-th type parameter in signatures.
func TypeParam(i int) *Class {
	return &Class{name: "!" + itoa(i), param: i + 1}
}

// MethodParam is the placeholder for the method's i-th type parameter in signatures.
func MethodParam(i int) *Class {
	return &Class{name: "!!" + itoa(i), param: -(i + 1)}
}

func itoa(i int) string {
	if i < 10 {
		return string(rune('0' + i))
	}
	return itoa(i/10) + itoa(i%10)
}
