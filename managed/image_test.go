package managed

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/isolator/errors"
	"github.com/wippyai/isolator/vm"
)

func calcImage() *Image {
	return &Image{
		AssemblyName: "Calc",
		References:   []string{"Calc.Core"},
		Types: []TypeDef{{
			Namespace: "Calc",
			Name:      "Adder",
			Parent:    "Calc.Core.Base",
			Fields:    []FieldDef{{Name: "total", Type: "System.Int32"}},
			Methods: []MethodDef{
				{Name: "Add", Params: []string{"System.Int32", "System.Int32"}, Static: true},
				{Name: "Echo", Params: []string{"!!0"}, Static: true, Constraints: []Constraint{ConstraintNone}, Intrinsic: "echo"},
			},
		}},
	}
}

func coreImage() *Image {
	return &Image{
		AssemblyName: "Calc.Core",
		Types:        []TypeDef{{Namespace: "Calc.Core", Name: "Base"}},
	}
}

func registerCalc(rt *Runtime) {
	rt.RegisterIntrinsic("Calc.Adder::Add", func(c *Call) (*Object, error) {
		return c.Runtime.NewInt32(c.Args[0].Value().(int32) + c.Args[1].Value().(int32)), nil
	})
	rt.RegisterIntrinsic("echo", func(c *Call) (*Object, error) {
		return c.Args[0], nil
	})
}

func TestImage_LoadWithReferences(t *testing.T) {
	rt := New()
	registerCalc(rt)

	images := map[string]*Image{"Calc": calcImage(), "Calc.Core": coreImage()}
	var requested []string
	rt.AddSearchHook(func(name string) vm.Assembly {
		requested = append(requested, name)
		img, ok := images[name]
		if !ok {
			return nil
		}
		data, err := EncodeImage(img)
		require.NoError(t, err)
		opened, err := rt.OpenImage(data)
		require.NoError(t, err)
		asm, err := rt.LoadImage(opened, name)
		require.NoError(t, err)
		return asm
	})

	asm, ok := rt.LoadAssembly("Calc")
	require.True(t, ok)
	assert.Equal(t, []string{"Calc", "Calc.Core"}, requested, "references resolve through nested hook calls")

	adder := asm.FindClass("Calc", "Adder")
	require.NotNil(t, adder)
	assert.Equal(t, "Calc.Core.Base", vm.FullName(adder.Parent()))
	assert.Equal(t, []Field{{Name: "total", Type: rt.Types().Int32}}, adder.(*Class).Fields())

	res, err := rt.Invoke(adder.FindMethod("Add", 2), nil, []vm.Value{vm.Ref(rt.NewInt32(2)), vm.Ref(rt.NewInt32(3))})
	require.NoError(t, err)
	assert.Equal(t, int32(5), res.(*Object).Value())

	echo := rt.InflateMethod(adder.FindMethod("Echo", 1), []vm.Class{rt.Types().String})
	require.NotNil(t, echo)
	assert.Same(t, rt.Types().String, echo.Params()[0])
	res, err = rt.Invoke(echo, nil, []vm.Value{vm.Ref(rt.NewString("hi"))})
	require.NoError(t, err)
	assert.Equal(t, "hi", res.(*Object).Value())
}

func TestImage_MissingReference(t *testing.T) {
	rt := New()
	registerCalc(rt)

	data, err := EncodeImage(calcImage())
	require.NoError(t, err)
	img, err := rt.OpenImage(data)
	require.NoError(t, err)

	_, err = rt.LoadImage(img, "Calc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing assembly "Calc.Core"`)

	_, ok := rt.LoadAssembly("Calc")
	assert.False(t, ok, "failed load must not register the assembly")
}

func TestImage_MissingIntrinsic(t *testing.T) {
	rt := New()
	img := &Image{
		AssemblyName: "Lonely",
		Types: []TypeDef{{
			Namespace: "Lonely",
			Name:      "Thing",
			Methods:   []MethodDef{{Name: "Run"}},
		}},
	}
	data, err := EncodeImage(img)
	require.NoError(t, err)
	opened, err := rt.OpenImage(data)
	require.NoError(t, err)

	_, err = rt.LoadImage(opened, "Lonely.dll")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindNotFound}))
	assert.Contains(t, err.Error(), "Lonely.Thing::Run")
}

func TestImage_Invalid(t *testing.T) {
	rt := New()

	_, err := rt.OpenImage([]byte("MZ\x90\x00"))
	assert.Error(t, err)

	_, err = rt.OpenImage(append(append([]byte(nil), imageMagic...), 0xff, 0x00))
	assert.Error(t, err)

	data, err := EncodeImage(&Image{})
	require.NoError(t, err)
	_, err = rt.OpenImage(data)
	assert.Error(t, err, "image without a name")
}

func TestImageOf_RoundTrip(t *testing.T) {
	src := New()
	greeter := defineGreeter(src)
	img := ImageOf(greeter.assembly)

	dst := New()
	for _, m := range greeter.methods {
		dst.RegisterIntrinsic("App.Greeter::"+m.name, m.body)
	}
	data, err := EncodeImage(img)
	require.NoError(t, err)
	opened, err := dst.OpenImage(data)
	require.NoError(t, err)
	asm, err := dst.LoadImage(opened, "App")
	require.NoError(t, err)

	greet := asm.FindClass("App", "Greeter").FindMethod("Greet", 1)
	require.NotNil(t, greet)
	res, err := dst.Invoke(greet, nil, []vm.Value{vm.Ref(dst.NewString("Image"))})
	require.NoError(t, err)
	assert.Equal(t, "Hello, Image", res.(*Object).Value())
}
