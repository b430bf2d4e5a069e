package managed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/isolator/vm"
)

func thrownClass(t *testing.T, err error) string {
	t.Helper()
	thrown, ok := err.(*vm.Thrown)
	require.True(t, ok, "expected *vm.Thrown, got %T: %v", err, err)
	return vm.FullName(thrown.Exception.Class())
}

func defineGreeter(rt *Runtime) *Class {
	asm := rt.DefineAssembly("App")
	greeter := asm.DefineClass("App", "Greeter")
	greeter.DefineMethod("Greet", []*Class{rt.Types().String}, func(c *Call) (*Object, error) {
		return c.Runtime.NewString("Hello, " + c.Args[0].Value().(string)), nil
	}, Static())
	greeter.DefineMethod("Fail", nil, func(c *Call) (*Object, error) {
		return nil, c.Throw("System", "InvalidOperationException", "boom")
	}, Static())
	greeter.DefineMethod("Add", []*Class{rt.Types().Int32, rt.Types().Int32}, func(c *Call) (*Object, error) {
		return c.Runtime.NewInt32(c.Args[0].Value().(int32) + c.Args[1].Value().(int32)), nil
	}, Static())
	return greeter
}

func TestRuntime_InvokeStatic(t *testing.T) {
	rt := New()
	greeter := defineGreeter(rt)

	res, err := rt.Invoke(greeter.FindMethod("Greet", 1), nil, []vm.Value{vm.Ref(rt.NewString("World"))})
	require.NoError(t, err)
	assert.Equal(t, "Hello, World", res.(*Object).Value())

	asm, ok := rt.LoadAssembly("App.dll")
	require.True(t, ok)
	assert.Same(t, greeter, asm.FindClass("App", "Greeter"))
	assert.Nil(t, asm.FindClass("App", "Missing"))
}

func TestRuntime_Exceptions(t *testing.T) {
	rt := New()
	greeter := defineGreeter(rt)

	_, err := rt.Invoke(greeter.FindMethod("Fail", 0), nil, nil)
	require.Error(t, err)
	assert.Equal(t, "System.InvalidOperationException", thrownClass(t, err))

	text, err2 := rt.ToString(err.(*vm.Thrown).Exception)
	require.NoError(t, err2)
	assert.Contains(t, text, "System.InvalidOperationException: boom")
	assert.Contains(t, text, "at App.Greeter.Fail()")
	assert.Equal(t, "boom", ExceptionMessage(err.(*vm.Thrown).Exception))
}

func TestRuntime_ArgumentChecks(t *testing.T) {
	rt := New()
	greeter := defineGreeter(rt)
	add := greeter.FindMethod("Add", 2)

	_, err := rt.Invoke(add, nil, []vm.Value{vm.Ref(rt.NewInt32(1))})
	assert.Equal(t, "System.Reflection.TargetParameterCountException", thrownClass(t, err))

	_, err = rt.Invoke(add, nil, []vm.Value{{}, vm.Ref(rt.NewInt32(1))})
	assert.Equal(t, "System.ArgumentException", thrownClass(t, err))

	_, err = rt.Invoke(add, nil, []vm.Value{vm.Ref(rt.NewString("x")), vm.Ref(rt.NewInt32(1))})
	assert.Equal(t, "System.ArgumentException", thrownClass(t, err))
}

func TestRuntime_VirtualDispatch(t *testing.T) {
	rt := New()
	asm := rt.DefineAssembly("Zoo")
	animal := asm.DefineClass("Zoo", "Animal")
	speak := animal.DefineMethod("Speak", nil, func(c *Call) (*Object, error) {
		return c.Runtime.NewString("..."), nil
	}, Virtual())
	name := animal.DefineMethod("Kind", nil, func(c *Call) (*Object, error) {
		return c.Runtime.NewString("animal"), nil
	})
	dog := asm.DefineClass("Zoo", "Dog", Extends(animal))
	bark := dog.DefineMethod("Speak", nil, func(c *Call) (*Object, error) {
		return c.Runtime.NewString("Woof"), nil
	}, Virtual())
	puppy := asm.DefineClass("Zoo", "Puppy", Extends(dog))
	rock := asm.DefineClass("Zoo", "Rock")

	d, err := rt.New(puppy)
	require.NoError(t, err)

	assert.Same(t, bark, rt.VirtualMethod(d, speak))
	assert.Same(t, name, rt.VirtualMethod(d, name), "non-virtual methods resolve to themselves")

	r, err := rt.New(rock)
	require.NoError(t, err)
	assert.Nil(t, rt.VirtualMethod(r, speak))

	res, err := rt.Invoke(rt.VirtualMethod(d, speak), d, nil)
	require.NoError(t, err)
	assert.Equal(t, "Woof", res.(*Object).Value())

	_, err = rt.Invoke(speak, nil, nil)
	assert.Equal(t, "System.NullReferenceException", thrownClass(t, err))
}

func TestRuntime_VirtualDispatchOverloads(t *testing.T) {
	rt := New()
	types := rt.Types()
	asm := rt.DefineAssembly("Shapes")
	body := func(s string) Body {
		return func(c *Call) (*Object, error) { return c.Runtime.NewString(s), nil }
	}

	shape := asm.DefineClass("Shapes", "Shape")
	baseText := shape.DefineMethod("Describe", []*Class{types.String}, body("shape text"), Virtual())
	baseNumber := shape.DefineMethod("Describe", []*Class{types.Int32}, body("shape number"), Virtual())
	baseGeneric := shape.DefineMethod("Wrap", []*Class{MethodParam(0)}, body("shape wrap"), Virtual(), GenericMethod(ConstraintNone))

	square := asm.DefineClass("Shapes", "Square", Extends(shape))
	number := square.DefineMethod("Describe", []*Class{types.Int32}, body("square number"), Virtual())
	text := square.DefineMethod("Describe", []*Class{types.String}, body("square text"), Virtual())
	square.DefineMethod("Wrap", []*Class{types.Object}, body("square object"), Virtual())
	wrap := square.DefineMethod("Wrap", []*Class{MethodParam(0)}, body("square wrap"), Virtual(), GenericMethod(ConstraintNone))

	sq, err := rt.New(square)
	require.NoError(t, err)

	assert.Same(t, text, rt.VirtualMethod(sq, baseText))
	assert.Same(t, number, rt.VirtualMethod(sq, baseNumber))

	res, err := rt.Invoke(rt.VirtualMethod(sq, baseText), sq, []vm.Value{{Object: rt.NewString("x")}})
	require.NoError(t, err)
	assert.Equal(t, "square text", res.(*Object).Value())

	inflated := rt.InflateMethod(baseGeneric, []vm.Class{types.Int32}).(*Method)
	resolved, ok := rt.VirtualMethod(sq, inflated).(*Method)
	require.True(t, ok)
	assert.Same(t, wrap, resolved.definition, "generic override matched by type parameter position")
}

func TestRuntime_ToStringOverride(t *testing.T) {
	rt := New()
	asm := rt.DefineAssembly("App")
	point := asm.DefineClass("App", "Point")
	point.DefineMethod("ToString", nil, func(c *Call) (*Object, error) {
		return c.Runtime.NewString("(1, 2)"), nil
	}, Virtual())
	broken := asm.DefineClass("App", "Broken")
	broken.DefineMethod("ToString", nil, func(c *Call) (*Object, error) {
		return nil, c.Throw("System", "NotSupportedException", "no")
	}, Virtual())

	p, err := rt.New(point)
	require.NoError(t, err)
	s, err := rt.ToString(p)
	require.NoError(t, err)
	assert.Equal(t, "(1, 2)", s)

	b, err := rt.New(broken)
	require.NoError(t, err)
	_, err = rt.ToString(b)
	assert.Equal(t, "System.NotSupportedException", thrownClass(t, err))

	s, err = rt.ToString(rt.NewBool(true))
	require.NoError(t, err)
	assert.Equal(t, "True", s)
}

func TestRuntime_UnboxAndRelocation(t *testing.T) {
	rt := New()
	greeter := defineGreeter(rt)
	add := greeter.FindMethod("Add", 2)

	a, b := rt.NewInt32(40), rt.NewInt32(2)
	assert.Zero(t, rt.Unbox(rt.NewString("ref type")))

	rt.Pin(a)
	pa, pb := rt.Unbox(a), rt.Unbox(b)
	require.NotZero(t, pa)
	require.NotZero(t, pb)

	assert.Positive(t, rt.Compact())
	assert.Equal(t, pa, rt.Unbox(a), "pinned object must not move")
	assert.NotEqual(t, pb, rt.Unbox(b), "unpinned object must move")

	_, err := rt.Invoke(add, nil, []vm.Value{vm.Unboxed(pa), vm.Unboxed(pb)})
	assert.Equal(t, "System.AccessViolationException", thrownClass(t, err))

	res, err := rt.Invoke(add, nil, []vm.Value{vm.Unboxed(pa), vm.Unboxed(rt.Unbox(b))})
	require.NoError(t, err)
	assert.Equal(t, int32(42), res.(*Object).Value())

	rt.Unpin(a)
	assert.False(t, a.Pinned())
}

func TestRuntime_StressCompaction(t *testing.T) {
	rt := New(WithStressCompaction(true))
	greeter := defineGreeter(rt)
	add := greeter.FindMethod("Add", 2)

	a, b := rt.NewInt32(1), rt.NewInt32(2)
	rt.Pin(a)
	rt.Pin(b)
	res, err := rt.Invoke(add, nil, []vm.Value{vm.Unboxed(rt.Unbox(a)), vm.Unboxed(rt.Unbox(b))})
	require.NoError(t, err)
	assert.Equal(t, int32(3), res.(*Object).Value())

	rt.Unpin(b)
	_, err = rt.Invoke(add, nil, []vm.Value{vm.Unboxed(rt.Unbox(a)), vm.Unboxed(rt.Unbox(b))})
	assert.Equal(t, "System.AccessViolationException", thrownClass(t, err))
}

func TestRuntime_Collect(t *testing.T) {
	rt := New()
	node := rt.DefineAssembly("App").DefineClass("App", "Node")
	node.DefineField("Next", rt.Types().Object)

	rooted := rt.Alloc(node)
	kept := rt.NewString("kept")
	rooted.SetField("Next", kept)
	item := rt.NewString("item")
	list := rt.NewList(rt.Types().String, item)
	pinned := rt.NewInt32(7)
	rt.Pin(pinned)
	typeObj := rt.TypeObject(node)

	rt.Collect(rooted, list)
	live := rt.LiveObjects()

	rt.NewString("a")
	rt.NewString("b")
	rt.Alloc(node).SetField("Next", rt.NewString("c"))
	assert.Equal(t, 4, rt.Collect(rooted, list), "unreachable objects freed")
	assert.Equal(t, live, rt.LiveObjects())

	rt.Compact()
	assert.Same(t, kept, rooted.Field("Next"), "compaction frees nothing")
	assert.Equal(t, live, rt.LiveObjects())

	tests := []struct {
		name  string
		roots []vm.Object
		setup func()
		freed int
	}{
		{"unpinned", []vm.Object{rooted, list}, func() { rt.Unpin(pinned) }, 1},
		{"fields and items", []vm.Object{list}, func() {}, 2},
		{"list items", nil, func() {}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			assert.Equal(t, tt.freed, rt.Collect(tt.roots...))
		})
	}

	assert.Same(t, typeObj, rt.TypeObject(node), "reflection objects are never collected")
	assert.Equal(t, 0, rt.Collect())
}

func TestRuntime_Hash(t *testing.T) {
	rt := New()
	o := rt.NewString("x")
	h := rt.Hash(o)
	rt.Compact()
	assert.Equal(t, h, rt.Hash(o), "hash must survive relocation")
	assert.NotEqual(t, h, rt.Hash(rt.NewString("x")))
}

func TestRuntime_Bytes(t *testing.T) {
	rt := New()
	src := []byte{1, 2, 3}
	o := rt.NewBytes(src)
	src[0] = 9

	b, ok := rt.Bytes(o)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, b)

	_, ok = rt.Bytes(rt.NewString("x"))
	assert.False(t, ok)
}

func TestRuntime_Reflection(t *testing.T) {
	rt := New()
	greeter := defineGreeter(rt)

	typ := rt.TypeObject(greeter)
	assert.Same(t, typ, rt.TypeObject(greeter))
	s, err := rt.ToString(typ)
	require.NoError(t, err)
	assert.Equal(t, "App.Greeter", s)

	mi := rt.MethodObject(greeter.FindMethod("Greet", 1))
	s, err = rt.ToString(mi)
	require.NoError(t, err)
	assert.Equal(t, "App.Greeter:Greet(System.String)", s)
}

func TestRuntime_SearchHooks(t *testing.T) {
	rt := New()
	var asked []string
	rt.AddSearchHook(func(name string) vm.Assembly {
		asked = append(asked, name)
		if name == "Lazy" {
			return rt.DefineAssembly("Lazy")
		}
		return nil
	})

	_, ok := rt.LoadAssembly("Lazy.dll")
	require.True(t, ok)
	_, ok = rt.LoadAssembly("Lazy")
	require.True(t, ok)
	_, ok = rt.LoadAssembly("Nope")
	require.False(t, ok)

	assert.Equal(t, []string{"Lazy", "Nope"}, asked)
}
