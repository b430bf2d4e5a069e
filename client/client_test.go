package client

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/isolator/abi"
	"github.com/wippyai/isolator/codec"
	"github.com/wippyai/isolator/errors"
	"github.com/wippyai/isolator/managed"
	"github.com/wippyai/isolator/memory"
	"github.com/wippyai/isolator/reftable"
	"github.com/wippyai/isolator/resolve"
	"github.com/wippyai/isolator/vm"
)

type fixture struct {
	rt   *managed.Runtime
	mem  *memory.Linear
	refs *reftable.Table
	c    *Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rt := managed.New(managed.WithStressCompaction(true))
	codec.Install(rt, vm.DefaultSerializer)
	types := rt.Types()

	asm := rt.DefineAssembly("App")
	greeter := asm.DefineClass("NS", "Greeter")
	greeter.DefineMethod("Greet", []*managed.Class{types.String}, func(c *managed.Call) (*managed.Object, error) {
		return c.Runtime.NewString("Hello, " + c.Args[0].Value().(string)), nil
	}, managed.Static())
	greeter.DefineMethod("Fail", nil, func(c *managed.Call) (*managed.Object, error) {
		return nil, c.Throw("System", "InvalidOperationException", "boom")
	}, managed.Static())

	counter := asm.DefineClass("NS", "Counter").DefineField("Count", types.Int32)
	counter.DefineMethod(".ctor", nil, func(c *managed.Call) (*managed.Object, error) {
		c.This.SetField("Count", c.Runtime.NewInt32(0))
		return nil, nil
	})
	counter.DefineMethod("Increment", []*managed.Class{types.Int32}, func(c *managed.Call) (*managed.Object, error) {
		n := c.This.Field("Count").Value().(int32) + c.Args[0].Value().(int32)
		c.This.SetField("Count", c.Runtime.NewInt32(n))
		return c.Runtime.NewInt32(n), nil
	})

	mem := memory.NewLinear(1, 64)
	refs := reftable.New(reftable.WithDebug(true), reftable.WithPinner(rt))
	x := abi.New(mem, mem, refs, resolve.New(rt))
	t.Cleanup(func() { _ = x.Close() })
	return &fixture{rt: rt, mem: mem, refs: refs, c: New(x)}
}

func TestClient_InvokeStatic(t *testing.T) {
	f := newFixture(t)
	greeter, err := f.c.Class("App", "NS", "Greeter")
	require.NoError(t, err)
	greet, err := greeter.Method("Greet", 1)
	require.NoError(t, err)

	v, err := greet.Invoke(nil, "World")
	require.NoError(t, err)
	assert.Equal(t, "Hello, World", v)

	s, err := Call[string](greet, nil, "Go")
	require.NoError(t, err)
	assert.Equal(t, "Hello, Go", s)

	_, err = Call[int32](greet, nil, "Go")
	assert.Error(t, err, "result type mismatch")

	assert.Equal(t, 0, f.refs.Len(), "serialized results are released by the client")
}

func TestClient_NoLeaks(t *testing.T) {
	f := newFixture(t)
	greeter, err := f.c.Class("App", "NS", "Greeter")
	require.NoError(t, err)
	greet, err := greeter.Method("Greet", 1)
	require.NoError(t, err)

	live := f.mem.Live()
	for i := 0; i < 10; i++ {
		_, err := greet.Invoke(nil, "again")
		require.NoError(t, err)
	}
	assert.Equal(t, live, f.mem.Live(), "records, arguments and results freed")
}

func TestClient_Caches(t *testing.T) {
	f := newFixture(t)
	a, err := f.c.Class("App", "NS", "Greeter")
	require.NoError(t, err)
	b, err := f.c.Class("App", "NS", "Greeter")
	require.NoError(t, err)
	assert.Same(t, a, b)

	m1, err := a.Method("Greet", 1)
	require.NoError(t, err)
	m2, err := a.Method("Greet", 1)
	require.NoError(t, err)
	assert.Same(t, m1, m2)

	d1, err := a.MethodByDesc("Greeter:Greet(string)", false)
	require.NoError(t, err)
	d2, err := a.MethodByDesc("Greeter:Greet(string)", false)
	require.NoError(t, err)
	assert.Same(t, d1, d2)
	assert.Equal(t, m1.Token(), d1.Token())

	g, err := f.c.GlobalMethod("App", "NS.Greeter:Greet", true)
	require.NoError(t, err)
	assert.Equal(t, m1.Token(), g.Token())
}

func TestClient_LookupErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.c.Class("Nope", "NS", "Greeter")
	assert.True(t, stderrors.Is(err, &errors.Error{Phase: errors.PhaseResolve, Kind: errors.KindAssemblyNotFound}))
	_, err = f.c.Class("App", "NS", "Nope")
	assert.True(t, stderrors.Is(err, &errors.Error{Phase: errors.PhaseResolve, Kind: errors.KindTypeNotFound}))

	greeter, err := f.c.Class("App", "NS", "Greeter")
	require.NoError(t, err)
	_, err = greeter.Method("Greet", 5)
	assert.True(t, stderrors.Is(err, &errors.Error{Phase: errors.PhaseResolve, Kind: errors.KindMethodNotFound}))
}

func TestClient_GuestError(t *testing.T) {
	f := newFixture(t)
	greeter, err := f.c.Class("App", "NS", "Greeter")
	require.NoError(t, err)
	fail, err := greeter.Method("Fail", 0)
	require.NoError(t, err)

	_, err = fail.Invoke(nil)
	var ge *GuestError
	require.True(t, stderrors.As(err, &ge))
	assert.Contains(t, ge.Message, "boom")
	require.NotNil(t, ge.Exception)

	msg, err := ge.Exception.Invoke("get_Message")
	require.NoError(t, err)
	assert.Equal(t, "boom", msg)
	assert.Equal(t, 1, f.refs.Len(), "the exception reference is the caller's")
	ge.Release()
	assert.Equal(t, 0, f.refs.Len())
}

func TestClient_Instances(t *testing.T) {
	f := newFixture(t)
	counter, err := f.c.Class("App", "NS", "Counter")
	require.NoError(t, err)

	obj, err := counter.New()
	require.NoError(t, err)
	defer obj.Release()

	for i, want := range []int32{2, 5} {
		v, err := obj.Invoke("Increment", []int32{2, 3}[i])
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}

	v, err := obj.Value()
	require.NoError(t, err)
	snapshot, ok := v.(*codec.Object)
	require.True(t, ok)
	assert.Equal(t, "NS.Counter", snapshot.Type)
	assert.Equal(t, int32(5), snapshot.Fields["Count"])

	assert.Equal(t, obj.Hash(), obj.Hash())
}

func TestClient_HandlesAndCopy(t *testing.T) {
	f := newFixture(t)
	greeter, err := f.c.Class("App", "NS", "Greeter")
	require.NoError(t, err)
	greet, err := greeter.Method("Greet", 1)
	require.NoError(t, err)

	name, err := f.c.Copy("Handle")
	require.NoError(t, err)
	require.NotNil(t, name)

	h, err := greet.InvokeHandle(nil, name)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, "Hello, Handle", h.String())

	nested, err := greet.Invoke(nil, h)
	require.NoError(t, err)
	assert.Equal(t, "Hello, Hello, Handle", nested)

	f.c.Release(name, h, nil)
	assert.Equal(t, 0, f.refs.Len())
	assert.Zero(t, h.Ref())

	_, err = greet.Invoke(nil, h)
	assert.True(t, stderrors.Is(err, &errors.Error{Phase: errors.PhaseRefs, Kind: errors.KindContractViolation}),
		"released objects are refused before reaching the bridge")

	null, err := f.c.Copy(nil)
	require.NoError(t, err)
	assert.Nil(t, null)
}

func TestClient_CopyFailure(t *testing.T) {
	f := newFixture(t)
	_, err := f.c.Copy(codec.Object{Type: "NS.Missing", Fields: map[string]any{}})
	var ge *GuestError
	require.True(t, stderrors.As(err, &ge))
	require.NotNil(t, ge.Exception)
	ge.Release()
	assert.Equal(t, 0, f.refs.Len())
}

func TestClient_GenericsAndReflection(t *testing.T) {
	f := newFixture(t)
	list, err := f.c.Class(vm.CoreAssembly, "System.Collections.Generic", "List`1")
	require.NoError(t, err)
	str, err := f.c.Class(vm.CoreAssembly, "System", "String")
	require.NoError(t, err)

	strList, err := list.MakeGeneric(str)
	require.NoError(t, err)
	assert.NotEqual(t, list.Token(), strList.Token())
	_, err = list.MakeGeneric(str, str)
	assert.Error(t, err)

	typ, err := strList.Reflect()
	require.NoError(t, err)
	defer typ.Release()
	assert.NotZero(t, typ.ClassToken())

	activator, err := f.c.Class(vm.CoreAssembly, "System", "Activator")
	require.NoError(t, err)
	create, err := activator.Method("CreateInstance", 0)
	require.NoError(t, err)
	createList, err := create.MakeGeneric(strList)
	require.NoError(t, err)
	inst, err := createList.InvokeHandle(nil)
	require.NoError(t, err)
	defer inst.Release()
	assert.Equal(t, strList.Token(), inst.ClassToken())

	info, err := create.Reflect()
	require.NoError(t, err)
	info.Release()

	obj := f.c.ObjectClass()
	assert.Equal(t, "System.Object", obj.FullName())
	o, err := obj.New()
	require.NoError(t, err)
	o.Release()
}
