package codec

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/isolator/errors"
)

func TestMarshal_TypeNames(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"string", "hi", TypeString},
		{"int fits int32", 7, TypeInt32},
		{"int overflows int32", 1 << 40, TypeInt64},
		{"int64", int64(7), TypeInt64},
		{"bool", true, TypeBoolean},
		{"float32", float32(1.5), TypeDouble},
		{"bytes", []byte{1}, TypeBytes},
		{"any slice", []any{1, "x"}, ListType(TypeObject)},
		{"typed list", List{Elem: TypeInt32, Items: []any{1}}, ListType(TypeInt32)},
		{"object", &Object{Type: "App.Point"}, "App.Point"},
		{"typed int64", Typed{Type: TypeInt64, Value: 3}, TypeInt64},
		{"typed double", Typed{Type: TypeDouble, Value: 3}, TypeDouble},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Marshal(tt.value)
			require.NoError(t, err)
			typ, err := TypeOf(data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, typ)
		})
	}
}

func TestUnmarshal_Values(t *testing.T) {
	data, err := Marshal(&Object{
		Type: "App.Order",
		Fields: map[string]any{
			"Id":    int64(42),
			"Items": List{Elem: TypeString, Items: []any{"a", "b"}},
			"Note":  nil,
		},
	})
	require.NoError(t, err)

	v, err := Unmarshal(data)
	require.NoError(t, err)
	obj, ok := v.(*Object)
	require.True(t, ok)
	assert.Equal(t, "App.Order", obj.Type)
	assert.Equal(t, int64(42), obj.Fields["Id"])
	assert.Equal(t, &List{Elem: TypeString, Items: []any{"a", "b"}}, obj.Fields["Items"])
	assert.Contains(t, obj.Fields, "Note")
	assert.Nil(t, obj.Fields["Note"])
}

func TestMarshal_Errors(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{"unsupported", struct{}{}},
		{"untyped object", &Object{}},
		{"int32 overflow", Typed{Type: TypeInt32, Value: int64(1) << 40}},
		{"typed mismatch", Typed{Type: TypeString, Value: 5}},
		{"nested unsupported", []any{make(chan int)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Marshal(tt.value)
			require.Error(t, err)
			var e *errors.Error
			assert.True(t, stderrors.As(err, &e))
			assert.Equal(t, errors.PhaseMarshal, e.Phase)
		})
	}
}

func TestUnmarshal_Invalid(t *testing.T) {
	_, err := Unmarshal(nil)
	assert.Error(t, err)

	_, err = Unmarshal([]byte{0x01})
	assert.True(t, stderrors.Is(err, &errors.Error{Phase: errors.PhaseMarshal, Kind: errors.KindDeserialize}))

	bad, err := encMode.Marshal(envelope{Type: TypeInt32, Value: []byte{0x61, 'x'}})
	require.NoError(t, err)
	_, err = Unmarshal(bad)
	assert.Error(t, err)
}

func TestListElem(t *testing.T) {
	elem, ok := ListElem(ListType(ListType(TypeInt32)))
	require.True(t, ok)
	assert.Equal(t, ListType(TypeInt32), elem)

	_, ok = ListElem(TypeString)
	assert.False(t, ok)
}
