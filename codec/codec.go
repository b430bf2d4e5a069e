package codec

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/wippyai/isolator/errors"
)

// Guest type names of the primitive encodings.
const (
	TypeString  = "System.String"
	TypeInt32   = "System.Int32"
	TypeInt64   = "System.Int64"
	TypeBoolean = "System.Boolean"
	TypeDouble  = "System.Double"
	TypeBytes   = "System.Byte[]"
	TypeObject  = "System.Object"
	TypeList    = "System.Collections.Generic.List`1"
)

var cborNull = []byte{0xf6}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// envelope is the typeless wire form: the runtime type name followed by the value.
// Lists carry an array of envelopes, objects a map of field name to envelope.
type envelope struct {
	_     struct{} `cbor:",toarray"`
	Type  string
	Value cbor.RawMessage
}

// Object is the host view of a guest instance of a user-defined class.
type Object struct {
	Type   string
	Fields map[string]any
}

// List is a typed host list. A plain []any encodes as List`1[System.Object].
type List struct {
	Elem  string
	Items []any
}

// Typed forces the guest type of a primitive value, e.g. Typed{TypeInt64, 5}.
type Typed struct {
	Type  string
	Value any
}

// Marshal encodes a host value.
//
// Supported values: nil, string, bool, int, int32, int64, float32, float64, []byte,
// []any, List, *Object, Object and Typed.
func Marshal(v any) ([]byte, error) {
	if v == nil {
		return append([]byte(nil), cborNull...), nil
	}
	typ, val, err := encodeValue(v)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(envelope{Type: typ, Value: val})
}

func encodeValue(v any) (string, cbor.RawMessage, error) {
	switch x := v.(type) {
	case string:
		return raw(TypeString, x)
	case bool:
		return raw(TypeBoolean, x)
	case int:
		if x >= math.MinInt32 && x <= math.MaxInt32 {
			return raw(TypeInt32, int32(x))
		}
		return raw(TypeInt64, int64(x))
	case int32:
		return raw(TypeInt32, x)
	case int64:
		return raw(TypeInt64, x)
	case float32:
		return raw(TypeDouble, float64(x))
	case float64:
		return raw(TypeDouble, x)
	case []byte:
		return raw(TypeBytes, x)
	case []any:
		return encodeList(TypeObject, x)
	case List:
		return encodeList(x.Elem, x.Items)
	case *List:
		return encodeList(x.Elem, x.Items)
	case Object:
		return encodeObject(&x)
	case *Object:
		return encodeObject(x)
	case Typed:
		return encodeTyped(x)
	}
	return "", nil, errors.New(errors.PhaseMarshal, errors.KindSerialize).
		Value(v).
		Detail("unsupported host type %T", v).
		Build()
}

func raw(typ string, v any) (string, cbor.RawMessage, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return "", nil, errors.Wrap(errors.PhaseMarshal, errors.KindSerialize, err, "encode "+typ)
	}
	return typ, b, nil
}

func encodeList(elem string, items []any) (string, cbor.RawMessage, error) {
	if elem == "" {
		elem = TypeObject
	}
	out := make([]cbor.RawMessage, len(items))
	for i, item := range items {
		b, err := Marshal(item)
		if err != nil {
			return "", nil, err
		}
		out[i] = b
	}
	return raw(ListType(elem), out)
}

func encodeObject(o *Object) (string, cbor.RawMessage, error) {
	if o == nil {
		return "", nil, errors.InvalidInput(errors.PhaseMarshal, "nil object")
	}
	if o.Type == "" {
		return "", nil, errors.InvalidInput(errors.PhaseMarshal, "object without a type name")
	}
	fields := make(map[string]cbor.RawMessage, len(o.Fields))
	for name, v := range o.Fields {
		b, err := Marshal(v)
		if err != nil {
			return "", nil, err
		}
		fields[name] = b
	}
	return raw(o.Type, fields)
}

func encodeTyped(t Typed) (string, cbor.RawMessage, error) {
	switch t.Type {
	case TypeInt32:
		n, ok := toInt64(t.Value)
		if !ok || n < math.MinInt32 || n > math.MaxInt32 {
			break
		}
		return raw(TypeInt32, int32(n))
	case TypeInt64:
		n, ok := toInt64(t.Value)
		if !ok {
			break
		}
		return raw(TypeInt64, n)
	case TypeDouble:
		switch f := t.Value.(type) {
		case float64:
			return raw(TypeDouble, f)
		case float32:
			return raw(TypeDouble, float64(f))
		}
		if n, ok := toInt64(t.Value); ok {
			return raw(TypeDouble, float64(n))
		}
	default:
		typ, val, err := encodeValue(t.Value)
		if err != nil || typ == t.Type {
			return typ, val, err
		}
	}
	return "", nil, errors.New(errors.PhaseMarshal, errors.KindSerialize).
		Value(t.Value).
		Detail("cannot encode %T as %s", t.Value, t.Type).
		Build()
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

// ListType renders the inflated list type name for elem.
func ListType(elem string) string {
	return TypeList + "[" + elem + "]"
}

// Unmarshal decodes a payload into host values: nil, string, int32, int64, bool, float64,
// []byte, *List or *Object.
func Unmarshal(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, errors.InvalidData(errors.PhaseMarshal, "empty payload")
	}
	if bytes.Equal(data, cborNull) {
		return nil, nil
	}
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(errors.PhaseMarshal, errors.KindDeserialize, err, "decode envelope")
	}
	return decodeValue(env)
}

func decodeValue(env envelope) (any, error) {
	var err error
	switch env.Type {
	case TypeString:
		var s string
		err = cbor.Unmarshal(env.Value, &s)
		return s, wrapDecode(env.Type, err)
	case TypeInt32:
		var n int32
		err = cbor.Unmarshal(env.Value, &n)
		return n, wrapDecode(env.Type, err)
	case TypeInt64:
		var n int64
		err = cbor.Unmarshal(env.Value, &n)
		return n, wrapDecode(env.Type, err)
	case TypeBoolean:
		var b bool
		err = cbor.Unmarshal(env.Value, &b)
		return b, wrapDecode(env.Type, err)
	case TypeDouble:
		var f float64
		err = cbor.Unmarshal(env.Value, &f)
		return f, wrapDecode(env.Type, err)
	case TypeBytes:
		var b []byte
		err = cbor.Unmarshal(env.Value, &b)
		return b, wrapDecode(env.Type, err)
	}

	if elem, ok := ListElem(env.Type); ok {
		var items []cbor.RawMessage
		if err := cbor.Unmarshal(env.Value, &items); err != nil {
			return nil, wrapDecode(env.Type, err)
		}
		list := &List{Elem: elem, Items: make([]any, len(items))}
		for i, item := range items {
			v, err := Unmarshal(item)
			if err != nil {
				return nil, err
			}
			list.Items[i] = v
		}
		return list, nil
	}

	var fields map[string]cbor.RawMessage
	if err := cbor.Unmarshal(env.Value, &fields); err != nil {
		return nil, wrapDecode(env.Type, err)
	}
	obj := &Object{Type: env.Type, Fields: make(map[string]any, len(fields))}
	for name, field := range fields {
		v, err := Unmarshal(field)
		if err != nil {
			return nil, err
		}
		obj.Fields[name] = v
	}
	return obj, nil
}

func wrapDecode(typ string, err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(errors.PhaseMarshal, errors.KindDeserialize, err, "decode "+typ)
}

// ListElem returns the element type name of an inflated list type name.
func ListElem(typ string) (string, bool) {
	prefix := TypeList + "["
	if !strings.HasPrefix(typ, prefix) || !strings.HasSuffix(typ, "]") {
		return "", false
	}
	return typ[len(prefix) : len(typ)-1], true
}

// TypeOf returns the guest type name recorded in a payload, "" for null.
func TypeOf(data []byte) (string, error) {
	if bytes.Equal(data, cborNull) {
		return "", nil
	}
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return "", errors.Wrap(errors.PhaseMarshal, errors.KindDeserialize, err, "decode envelope")
	}
	return env.Type, nil
}
