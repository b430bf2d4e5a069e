package client

import (
	"fmt"

	"github.com/wippyai/isolator/errors"
	"github.com/wippyai/isolator/marshal"
)

// Object is a host-owned reference to a guest object. Release it when done.
type Object struct {
	c     *Client
	ref   uint32
	class uint32
}

// Ref returns the raw reference, 0 once released.
func (o *Object) Ref() uint32 {
	if o == nil {
		return 0
	}
	return o.ref
}

// ClassToken returns the token of the object's runtime type.
func (o *Object) ClassToken() uint32 { return o.class }

func (o *Object) live() (uint32, error) {
	if o.ref == 0 {
		return 0, errors.ContractViolation("object used after release")
	}
	return o.ref, nil
}

// Method finds a method on the object's runtime type.
func (o *Object) Method(name string, arity int) (*Method, error) {
	if _, err := o.live(); err != nil {
		return nil, err
	}
	k := &Class{c: o.c, token: o.class}
	return k.Method(name, arity)
}

// Invoke calls the instance method name with len(args) parameters.
func (o *Object) Invoke(name string, args ...any) (any, error) {
	m, err := o.Method(name, len(args))
	if err != nil {
		return nil, err
	}
	return m.Invoke(o, args...)
}

// Value fetches the object itself, serialized and decoded into a host value.
func (o *Object) Value() (any, error) {
	return o.c.invoke(0, o, marshal.ModeSerialize, nil)
}

// String calls the guest ToString.
func (o *Object) String() string {
	v, err := o.Invoke("ToString")
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	s, _ := v.(string)
	return s
}

// Hash returns the guest identity hash.
func (o *Object) Hash() int32 {
	return o.c.guest.GetObjectHash(o.ref)
}

// Release drops the reference. Releasing twice does nothing.
func (o *Object) Release() {
	if o == nil || o.ref == 0 {
		return
	}
	o.c.guest.ReleaseObject(o.ref)
	o.ref = 0
}

// GuestError is a guest exception surfaced to the host.
type GuestError struct {
	Message string
	// Exception references the exception object when the bridge exposed one. The caller
	// owns it.
	Exception *Object
}

func (e *GuestError) Error() string {
	if e.Message == "" {
		return "guest exception"
	}
	return e.Message
}

// Release drops the exception reference.
func (e *GuestError) Release() {
	e.Exception.Release()
}
