package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/isolator/managed"
	"github.com/wippyai/isolator/vm"
)

func thrownClass(t *testing.T, err error) string {
	t.Helper()
	thrown, ok := err.(*vm.Thrown)
	require.True(t, ok, "expected *vm.Thrown, got %T: %v", err, err)
	return vm.FullName(thrown.Exception.Class())
}

func pointRuntime() (*managed.Runtime, *managed.Class) {
	rt := managed.New()
	Install(rt, vm.DefaultSerializer)
	asm := rt.DefineAssembly("App")
	point := asm.DefineClass("App", "Point").
		DefineField("X", rt.Types().Int64).
		DefineField("Label", rt.Types().String)
	return rt, point
}

func TestGuest_RoundTripKeepsRuntimeType(t *testing.T) {
	rt, point := pointRuntime()
	p := rt.Alloc(point)
	p.SetField("X", rt.NewInt64(3))
	p.SetField("Label", rt.NewString("origin"))

	data, err := SerializeObject(rt, p)
	require.NoError(t, err)

	back, err := DeserializeObject(rt, data, nil)
	require.NoError(t, err)
	assert.Same(t, point, back.Type())
	assert.Equal(t, int64(3), back.Field("X").Value())
	assert.Equal(t, "origin", back.Field("Label").Value())

	host, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, &Object{Type: "App.Point", Fields: map[string]any{"X": int64(3), "Label": "origin"}}, host)
}

func TestGuest_HostPayloads(t *testing.T) {
	rt, point := pointRuntime()
	types := rt.Types()

	tests := []struct {
		name     string
		value    any
		declared *managed.Class
		wantType *managed.Class
		want     any
	}{
		{"string", "World", nil, types.String, "World"},
		{"int32 declared", 5, types.Int32, types.Int32, int32(5)},
		{"int32 widened", 5, types.Int64, types.Int64, int64(5)},
		{"int to double", 5, types.Double, types.Double, float64(5)},
		{"bool", true, types.Object, types.Boolean, true},
		{"bytes", []byte("raw"), nil, types.Bytes, []byte("raw")},
		{"object", &Object{Type: "App.Point", Fields: map[string]any{"X": 1}}, point, point, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Marshal(tt.value)
			require.NoError(t, err)
			o, err := DeserializeObject(rt, data, tt.declared)
			require.NoError(t, err)
			require.NotNil(t, o)
			assert.Same(t, tt.wantType, o.Type())
			if tt.want != nil {
				assert.Equal(t, tt.want, o.Value())
			}
		})
	}
}

func TestGuest_DeclaredFieldTypes(t *testing.T) {
	rt, point := pointRuntime()

	data, err := Marshal(&Object{Type: "App.Point", Fields: map[string]any{"X": 1}})
	require.NoError(t, err)
	o, err := DeserializeObject(rt, data, point)
	require.NoError(t, err)
	assert.Equal(t, int64(1), o.Field("X").Value(), "field widened to its declared type")
}

func TestGuest_Lists(t *testing.T) {
	rt, _ := pointRuntime()
	types := rt.Types()

	data, err := Marshal(List{Elem: TypeInt32, Items: []any{1, 2, 3}})
	require.NoError(t, err)
	o, err := DeserializeObject(rt, data, nil)
	require.NoError(t, err)
	assert.Same(t, types.List, o.Type().Definition())
	assert.Same(t, types.Int32, o.Type().TypeArgs()[0])

	again, err := SerializeObject(rt, o)
	require.NoError(t, err)
	assert.Equal(t, data, again, "canonical encoding is stable")
}

func TestGuest_Failures(t *testing.T) {
	rt, point := pointRuntime()
	types := rt.Types()

	tests := []struct {
		name     string
		data     func() []byte
		declared *managed.Class
		want     string
	}{
		{
			name:     "garbage",
			data:     func() []byte { return []byte{0xff, 0x00} },
			declared: nil,
			want:     "System.Runtime.Serialization.SerializationException",
		},
		{
			name: "unknown type",
			data: func() []byte {
				b, _ := Marshal(&Object{Type: "App.Nope"})
				return b
			},
			want: "System.Runtime.Serialization.SerializationException",
		},
		{
			name: "cast",
			data: func() []byte {
				b, _ := Marshal("text")
				return b
			},
			declared: point,
			want:     "System.InvalidCastException",
		},
		{
			name:     "null into value type",
			data:     func() []byte { b, _ := Marshal(nil); return b },
			declared: types.Int32,
			want:     "System.Runtime.Serialization.SerializationException",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DeserializeObject(rt, tt.data(), tt.declared)
			require.Error(t, err)
			assert.Equal(t, tt.want, thrownClass(t, err))
		})
	}

	_, err := SerializeObject(rt, rt.TypeObject(point).(*managed.Object))
	assert.Equal(t, "System.Runtime.Serialization.SerializationException", thrownClass(t, err))
}

func TestGuest_ObjectGraphLimits(t *testing.T) {
	rt, point := pointRuntime()
	asm := rt.DefineAssembly("App")
	node := asm.DefineClass("App", "Node")
	node.DefineField("Next", node).DefineField("Other", rt.Types().Object)

	self := rt.Alloc(node)
	self.SetField("Next", self)
	_, err := SerializeObject(rt, self)
	require.Error(t, err)
	assert.Equal(t, "System.Runtime.Serialization.SerializationException", thrownClass(t, err))

	a, b := rt.Alloc(node), rt.Alloc(node)
	a.SetField("Next", b)
	b.SetField("Next", a)
	_, err = SerializeObject(rt, a)
	assert.Equal(t, "System.Runtime.Serialization.SerializationException", thrownClass(t, err), "indirect cycle")

	deep := rt.Alloc(node)
	head := deep
	for i := 0; i < MaxDepth; i++ {
		n := rt.Alloc(node)
		n.SetField("Next", head)
		head = n
	}
	_, err = SerializeObject(rt, head)
	assert.Equal(t, "System.Runtime.Serialization.SerializationException", thrownClass(t, err), "nesting past MaxDepth")

	shallow := rt.Alloc(node)
	head = shallow
	for i := 0; i < MaxDepth-2; i++ {
		n := rt.Alloc(node)
		n.SetField("Next", head)
		head = n
	}
	_, err = SerializeObject(rt, head)
	assert.NoError(t, err, "nesting within MaxDepth")

	p := rt.Alloc(point)
	p.SetField("X", rt.NewInt64(1))
	shared := rt.Alloc(node)
	shared.SetField("Other", p)
	shared.SetField("Next", rt.Alloc(node))
	shared.Field("Next").SetField("Other", p)
	data, err := SerializeObject(rt, shared)
	require.NoError(t, err, "an object reached twice without a loop is not a cycle")
	back, err := DeserializeObject(rt, data, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), back.Field("Next").Field("Other").Field("X").Value())
}

func TestInstall_SerializerMethods(t *testing.T) {
	rt := managed.New()
	c := Install(rt, vm.DefaultSerializer)
	assert.Same(t, c, Install(rt, vm.DefaultSerializer), "install is idempotent")

	asm, ok := rt.LoadAssembly(vm.DefaultSerializer.Assembly)
	require.True(t, ok)
	cls := asm.FindClass(vm.DefaultSerializer.Namespace, vm.DefaultSerializer.Type)
	require.NotNil(t, cls)

	serialize := cls.FindMethod("Serialize", 1)
	deserialize := cls.FindMethod("Deserialize", 1)
	require.NotNil(t, serialize)
	require.NotNil(t, deserialize)
	assert.Equal(t, 1, deserialize.GenericArity())

	out, err := rt.Invoke(serialize, nil, []vm.Value{vm.Ref(rt.NewString("Hello"))})
	require.NoError(t, err)
	data, ok := rt.Bytes(out)
	require.True(t, ok)
	host, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, "Hello", host)

	asString := rt.InflateMethod(deserialize, []vm.Class{rt.Types().String})
	back, err := rt.Invoke(asString, nil, []vm.Value{vm.Ref(out)})
	require.NoError(t, err)
	assert.Equal(t, "Hello", back.(*managed.Object).Value())

	asInt := rt.InflateMethod(deserialize, []vm.Class{rt.Types().Int32})
	_, err = rt.Invoke(asInt, nil, []vm.Value{vm.Ref(out)})
	assert.Equal(t, "System.InvalidCastException", thrownClass(t, err))

	// null byte array
	_, err = rt.Invoke(asString, nil, []vm.Value{{}})
	assert.Equal(t, "System.ArgumentNullException", thrownClass(t, err))
}
