package client

import (
	"github.com/wippyai/isolator/errors"
)

// Class is a guest type known by token.
type Class struct {
	c         *Client
	token     uint32
	namespace string
	name      string
}

// Token returns the bridge token of the class.
func (k *Class) Token() uint32 { return k.token }

// FullName returns "Namespace.Name" as looked up. Inflated and reflected classes carry
// the name of their definition.
func (k *Class) FullName() string {
	if k.namespace == "" {
		return k.name
	}
	return k.namespace + "." + k.name
}

// New creates an instance with the parameterless constructor.
func (k *Class) New() (*Object, error) {
	ref, err := k.c.guest.InstantiateClass(k.token)
	if err != nil {
		return nil, err
	}
	if ref == 0 {
		return nil, errors.New(errors.PhaseInvoke, errors.KindGuestException).
			Type(k.namespace, k.name).
			Member(".ctor").
			Build()
	}
	return &Object{c: k.c, ref: ref, class: k.token}, nil
}

// Method finds a method by name and parameter count; arity -1 matches any count.
func (k *Class) Method(name string, arity int) (*Method, error) {
	key := methodKey{class: k.token, name: name, arity: arity}
	if m, ok := k.c.methods[key]; ok {
		return m, nil
	}
	var tok uint32
	err := k.c.withStrings([]string{name}, func(p []uint32) error {
		var err error
		tok, err = k.c.guest.LookupMethod(k.token, p[0], int32(arity))
		return err
	})
	if err != nil {
		return nil, err
	}
	if tok == 0 {
		return nil, errors.MethodNotFound(k.namespace, k.name, name, arity)
	}
	m := &Method{c: k.c, token: tok, name: name}
	k.c.methods[key] = m
	return m, nil
}

// MethodByDesc finds a method of this class matching a descriptor such as
// "Greeter:Greet(string)".
func (k *Class) MethodByDesc(desc string, includesNamespace bool) (*Method, error) {
	key := descKey{class: k.token, desc: desc, namespace: includesNamespace}
	if m, ok := k.c.descs[key]; ok {
		return m, nil
	}
	var tok uint32
	err := k.c.withStrings([]string{desc}, func(p []uint32) error {
		var err error
		tok, err = k.c.guest.LookupMethodDesc(k.token, p[0], includesNamespace)
		return err
	})
	if err != nil {
		return nil, err
	}
	if tok == 0 {
		return nil, errors.New(errors.PhaseResolve, errors.KindMethodNotFound).
			Type(k.namespace, k.name).
			Member(desc).
			Build()
	}
	m := &Method{c: k.c, token: tok, name: desc}
	k.c.descs[key] = m
	return m, nil
}

// MakeGeneric inflates the class with type arguments.
func (k *Class) MakeGeneric(args ...*Class) (*Class, error) {
	arr, err := k.c.writeTokens(args)
	if err != nil {
		return nil, err
	}
	tok, err := k.c.guest.MakeGenericClass(k.token, uint32(len(args)), arr)
	if err != nil {
		return nil, err
	}
	if tok == 0 {
		return nil, errors.GenericArity(k.FullName(), -1, len(args))
	}
	return &Class{c: k.c, token: tok, namespace: k.namespace, name: k.name}, nil
}

// Reflect returns the System.Type object for the class.
func (k *Class) Reflect() (*Object, error) {
	return k.c.reflect(func(out uint32) (uint32, error) {
		return k.c.guest.ReflectClass(k.token, out)
	})
}

func (c *Client) reflect(fn func(classOut uint32) (uint32, error)) (*Object, error) {
	out, err := c.alloc.Alloc(4)
	if err != nil {
		return nil, err
	}
	defer c.alloc.Free(out)
	ref, err := fn(out)
	if err != nil {
		return nil, err
	}
	class, err := c.mem.ReadU32(out)
	if err != nil {
		c.guest.ReleaseObject(ref)
		return nil, err
	}
	return &Object{c: c, ref: ref, class: class}, nil
}
