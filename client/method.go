package client

import (
	"go.uber.org/multierr"

	"github.com/wippyai/isolator/abi"
	"github.com/wippyai/isolator/codec"
	"github.com/wippyai/isolator/errors"
	"github.com/wippyai/isolator/marshal"
	"github.com/wippyai/isolator/memory"
)

// Method is a guest method known by token.
type Method struct {
	c     *Client
	token uint32
	name  string
}

// Token returns the bridge token of the method.
func (m *Method) Token() uint32 { return m.token }

// Name returns the name or descriptor the method was looked up by.
func (m *Method) Name() string { return m.name }

// Invoke calls the method and decodes the serialized result into a host value. target is
// nil for static methods. Arguments are Go values understood by codec.Marshal, *Object
// to pass a live reference, or nil. A thrown exception is a *GuestError.
func (m *Method) Invoke(target *Object, args ...any) (any, error) {
	return m.c.invoke(m.token, target, marshal.ModeSerialize, args)
}

// InvokeHandle calls the method and returns a reference to the result, nil for null.
func (m *Method) InvokeHandle(target *Object, args ...any) (*Object, error) {
	v, err := m.c.invoke(m.token, target, marshal.ModeHandle, args)
	if err != nil || v == nil {
		return nil, err
	}
	return v.(*Object), nil
}

// MakeGeneric inflates a generic method with type arguments.
func (m *Method) MakeGeneric(args ...*Class) (*Method, error) {
	arr, err := m.c.writeTokens(args)
	if err != nil {
		return nil, err
	}
	tok, err := m.c.guest.MakeGenericMethod(m.token, uint32(len(args)), arr)
	if err != nil {
		return nil, err
	}
	if tok == 0 {
		return nil, errors.GenericArity(m.name, -1, len(args))
	}
	return &Method{c: m.c, token: tok, name: m.name}, nil
}

// Reflect returns the MethodInfo object for the method.
func (m *Method) Reflect() (*Object, error) {
	return m.c.reflect(func(out uint32) (uint32, error) {
		return m.c.guest.ReflectMethod(m.token, out)
	})
}

// Call invokes m and converts the decoded result to T. A null result yields T's zero
// value.
func Call[T any](m *Method, target *Object, args ...any) (T, error) {
	var zero T
	v, err := m.Invoke(target, args...)
	if err != nil || v == nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, errors.New(errors.PhaseMarshal, errors.KindDeserialize).
			Value(v).
			Detail("result is %T, want %T", v, zero).
			Build()
	}
	return out, nil
}

// invoke lays out an invocation record, runs it and collects the result.
func (c *Client) invoke(method uint32, target *Object, mode marshal.Mode, args []any) (_ any, err error) {
	var targetRef uint32
	if target != nil {
		if targetRef, err = target.live(); err != nil {
			return nil, err
		}
	}

	bufs := make([]uint32, 0, len(args))
	defer func() {
		for _, b := range bufs {
			c.alloc.Free(b)
		}
	}()
	for _, a := range args {
		b, err := c.writeArg(a)
		if err != nil {
			return nil, err
		}
		bufs = append(bufs, b)
	}

	var argsPtr uint32
	if len(bufs) > 0 {
		if argsPtr, err = c.alloc.Alloc(uint32(len(bufs)) * 4); err != nil {
			return nil, err
		}
		for i, b := range bufs {
			if err := c.mem.WriteU32(argsPtr+uint32(i)*4, b); err != nil {
				c.alloc.Free(argsPtr)
				return nil, err
			}
		}
	}

	recPtr, err := c.alloc.Alloc(abi.RecordSize)
	if err != nil {
		c.alloc.Free(argsPtr)
		return nil, err
	}
	defer c.alloc.Free(recPtr)

	rec := abi.Record{
		Target:     targetRef,
		Method:     method,
		ResultType: uint32(mode),
		ArgsPtr:    argsPtr,
		ArgsLen:    uint32(len(bufs)),
	}
	if err := abi.WriteRecord(c.mem, recPtr, rec); err != nil {
		c.alloc.Free(argsPtr)
		return nil, err
	}
	if err := c.guest.InvokeMethod(recPtr); err != nil {
		return nil, err
	}
	if rec, err = abi.ReadRecord(c.mem, recPtr); err != nil {
		return nil, err
	}
	return c.result(rec, mode)
}

func (c *Client) result(rec abi.Record, mode marshal.Mode) (any, error) {
	if rec.ResultException != 0 {
		return nil, c.guestError(rec.ResultException, rec.ResultHandle, rec.ResultPtr)
	}
	if rec.ResultPtr == 0 && rec.ResultHandle == 0 {
		return nil, nil
	}
	if mode == marshal.ModeHandle {
		return &Object{c: c, ref: rec.ResultHandle, class: rec.ResultPtr}, nil
	}

	data, err := c.mem.Read(rec.ResultPtr, rec.ResultLength)
	c.guest.ReleaseObject(rec.ResultHandle)
	if err != nil {
		return nil, err
	}
	return codec.Unmarshal(data)
}

// writeArg allocates one argument buffer for v.
func (c *Client) writeArg(v any) (uint32, error) {
	if o, ok := v.(*Object); ok {
		ref, err := o.live()
		if err != nil {
			return 0, err
		}
		p, err := c.alloc.Alloc(8)
		if err != nil {
			return 0, err
		}
		err = multierr.Append(c.mem.WriteU32(p, 0), c.mem.WriteU32(p+4, ref))
		if err != nil {
			c.alloc.Free(p)
			return 0, err
		}
		return p, nil
	}
	data, err := codec.Marshal(v)
	if err != nil {
		return 0, err
	}
	return memory.WriteLengthPrefixed(c.mem, c.alloc, data)
}
