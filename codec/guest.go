package codec

import (
	"bytes"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"

	"github.com/wippyai/isolator/managed"
	"github.com/wippyai/isolator/vm"
)

// Install defines the serializer class in rt at the given coordinates:
//
//	static byte[] Serialize(object value)
//	static T Deserialize<T>(byte[] data)
//
// Both throw System.Runtime.Serialization.SerializationException on failure.
func Install(rt *managed.Runtime, at vm.SerializerCoordinates) *managed.Class {
	types := rt.Types()
	asm := rt.DefineAssembly(at.Assembly)
	if existing, ok := asm.FindClass(at.Namespace, at.Type).(*managed.Class); ok && existing != nil {
		return existing
	}
	c := asm.DefineClass(at.Namespace, at.Type)

	c.DefineMethod(at.Serialize, []*managed.Class{types.Object}, func(call *managed.Call) (*managed.Object, error) {
		data, err := SerializeObject(call.Runtime, call.Args[0])
		if err != nil {
			return nil, err
		}
		return call.Runtime.NewBytes(data).(*managed.Object), nil
	}, managed.Static())

	c.DefineMethod(at.Deserialize, []*managed.Class{types.Bytes}, func(call *managed.Call) (*managed.Object, error) {
		data, ok := call.Runtime.Bytes(call.Args[0])
		if !ok {
			return nil, call.Runtime.Throw("System", "ArgumentNullException", "Value cannot be null. (Parameter 'bytes')")
		}
		declared := call.TypeArgs()[0]
		if declared == types.Object {
			declared = nil
		}
		return DeserializeObject(call.Runtime, data, declared)
	}, managed.Static(), managed.GenericMethod(managed.ConstraintNone))

	return c
}

func serializationError(rt *managed.Runtime, format string, args ...any) error {
	return rt.Throw("System.Runtime.Serialization", "SerializationException", fmt.Sprintf(format, args...))
}

// MaxDepth bounds how deeply nested a serialized object graph may be.
const MaxDepth = 64

// SerializeObject encodes a guest object. Failures are guest exceptions, including object
// graphs that refer back to an object still being encoded or nest deeper than MaxDepth.
func SerializeObject(rt *managed.Runtime, o *managed.Object) ([]byte, error) {
	e := &guestEncoder{rt: rt, active: make(map[*managed.Object]bool)}
	return e.encode(o)
}

// guestEncoder tracks the objects on the current encoding path.
type guestEncoder struct {
	rt     *managed.Runtime
	active map[*managed.Object]bool
	depth  int
}

func (e *guestEncoder) encode(o *managed.Object) ([]byte, error) {
	if o == nil {
		return append([]byte(nil), cborNull...), nil
	}
	if e.active[o] {
		return nil, serializationError(e.rt, "Self referencing loop detected for type '%s'.", o.Type().String())
	}
	if e.depth >= MaxDepth {
		return nil, serializationError(e.rt, "Maximum object graph depth of %d exceeded for type '%s'.", MaxDepth, o.Type().String())
	}
	e.active[o] = true
	e.depth++
	defer func() {
		delete(e.active, o)
		e.depth--
	}()

	typ, val, err := e.encodeValue(o)
	if err != nil {
		return nil, err
	}
	data, err := encMode.Marshal(envelope{Type: typ, Value: val})
	if err != nil {
		return nil, serializationError(e.rt, "%v", err)
	}
	return data, nil
}

func (e *guestEncoder) encodeValue(o *managed.Object) (string, cbor.RawMessage, error) {
	rt := e.rt
	c := o.Type()
	name := c.String()
	types := rt.Types()

	switch c {
	case types.RuntimeType, types.MethodInfo:
		return "", nil, serializationError(rt, "Type '%s' is not serializable.", name)
	}

	var v any
	switch x := o.Value().(type) {
	case string, int32, int64, bool, float64, []byte:
		v = x
	case []*managed.Object:
		items := make([]cbor.RawMessage, len(x))
		for i, item := range x {
			b, err := e.encode(item)
			if err != nil {
				return "", nil, err
			}
			items[i] = b
		}
		v = items
	default:
		fields := make(map[string]cbor.RawMessage)
		if vm.IsSubclass(c, types.Exception) {
			msg, err := e.encode(rt.NewString(managed.ExceptionMessage(o)))
			if err != nil {
				return "", nil, err
			}
			fields["Message"] = msg
		}
		for _, f := range o.FieldNames() {
			b, err := e.encode(o.Field(f))
			if err != nil {
				return "", nil, err
			}
			fields[f] = b
		}
		v = fields
	}

	b, err := encMode.Marshal(v)
	if err != nil {
		return "", nil, serializationError(rt, "%v", err)
	}
	return name, b, nil
}

// DeserializeObject decodes data into a guest object. A non-nil declared type is checked
// against the encoded type; numeric primitives widen to the declared type.
func DeserializeObject(rt *managed.Runtime, data []byte, declared *managed.Class) (*managed.Object, error) {
	if bytes.Equal(data, cborNull) {
		if declared != nil && declared.IsValueType() {
			return nil, serializationError(rt, "Cannot deserialize null into value type '%s'.", declared)
		}
		return nil, nil
	}
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, serializationError(rt, "Invalid payload: %v", err)
	}
	c := resolveType(rt, env.Type)
	if c == nil {
		return nil, serializationError(rt, "Type '%s' could not be resolved.", env.Type)
	}
	o, err := decodeGuest(rt, c, env.Value)
	if err != nil {
		return nil, err
	}
	if declared == nil || declared == rt.Types().Object || vm.IsSubclass(c, declared) {
		return o, nil
	}
	if converted := widen(rt, o, declared); converted != nil {
		return converted, nil
	}
	return nil, rt.Throw("System", "InvalidCastException",
		fmt.Sprintf("Unable to cast object of type '%s' to type '%s'.", c, declared))
}

func resolveType(rt *managed.Runtime, name string) *managed.Class {
	if elem, ok := ListElem(name); ok {
		ec := resolveType(rt, elem)
		if ec == nil {
			return nil
		}
		c, _ := rt.InflateClass(rt.Types().List, []vm.Class{ec}).(*managed.Class)
		return c
	}
	return rt.FindClass(name)
}

func decodeGuest(rt *managed.Runtime, c *managed.Class, val cbor.RawMessage) (*managed.Object, error) {
	types := rt.Types()
	var err error
	switch c {
	case types.String:
		var s string
		if err = cbor.Unmarshal(val, &s); err == nil {
			return rt.NewString(s), nil
		}
	case types.Int32:
		var n int32
		if err = cbor.Unmarshal(val, &n); err == nil {
			return rt.NewInt32(n), nil
		}
	case types.Int64:
		var n int64
		if err = cbor.Unmarshal(val, &n); err == nil {
			return rt.NewInt64(n), nil
		}
	case types.Boolean:
		var b bool
		if err = cbor.Unmarshal(val, &b); err == nil {
			return rt.NewBool(b), nil
		}
	case types.Double:
		var f float64
		if err = cbor.Unmarshal(val, &f); err == nil {
			return rt.NewDouble(f), nil
		}
	case types.Bytes:
		var b []byte
		if err = cbor.Unmarshal(val, &b); err == nil {
			return rt.NewBytes(b).(*managed.Object), nil
		}
	case types.RuntimeType, types.MethodInfo:
		return nil, serializationError(rt, "Type '%s' is not serializable.", c)
	default:
		if c.Definition() == types.List {
			return decodeList(rt, c, val)
		}
		return decodeInstance(rt, c, val)
	}
	return nil, serializationError(rt, "Invalid %s payload: %v", c, err)
}

func decodeList(rt *managed.Runtime, c *managed.Class, val cbor.RawMessage) (*managed.Object, error) {
	var items []cbor.RawMessage
	if err := cbor.Unmarshal(val, &items); err != nil {
		return nil, serializationError(rt, "Invalid %s payload: %v", c, err)
	}
	elem := c.TypeArgs()[0]
	out := make([]*managed.Object, len(items))
	for i, item := range items {
		o, err := DeserializeObject(rt, item, elem)
		if err != nil {
			return nil, err
		}
		out[i] = o
	}
	return rt.NewList(elem, out...), nil
}

func decodeInstance(rt *managed.Runtime, c *managed.Class, val cbor.RawMessage) (*managed.Object, error) {
	if c.GenericArity() > 0 {
		return nil, serializationError(rt, "Cannot deserialize open generic type '%s'.", c)
	}
	var fields map[string]cbor.RawMessage
	if err := cbor.Unmarshal(val, &fields); err != nil {
		return nil, serializationError(rt, "Invalid %s payload: %v", c, err)
	}

	declared := make(map[string]*managed.Class)
	for _, f := range c.Fields() {
		declared[f.Name] = f.Type
	}

	if vm.IsSubclass(c, rt.Types().Exception) {
		var text string
		if raw, ok := fields["Message"]; ok {
			msg, err := DeserializeObject(rt, raw, rt.Types().String)
			if err != nil {
				return nil, err
			}
			if msg != nil {
				text, _ = msg.Value().(string)
			}
		}
		return rt.NewException(c, text), nil
	}

	o := rt.Alloc(c)
	for name, raw := range fields {
		fv, err := DeserializeObject(rt, raw, declared[name])
		if err != nil {
			return nil, err
		}
		o.SetField(name, fv)
	}
	return o, nil
}

func widen(rt *managed.Runtime, o *managed.Object, to *managed.Class) *managed.Object {
	types := rt.Types()
	switch v := o.Value().(type) {
	case int32:
		switch to {
		case types.Int64:
			return rt.NewInt64(int64(v))
		case types.Double:
			return rt.NewDouble(float64(v))
		}
	case int64:
		switch to {
		case types.Int32:
			if v >= math.MinInt32 && v <= math.MaxInt32 {
				return rt.NewInt32(int32(v))
			}
		case types.Double:
			return rt.NewDouble(float64(v))
		}
	}
	return nil
}
