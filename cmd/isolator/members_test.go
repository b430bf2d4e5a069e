package main

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/isolator"
	"github.com/wippyai/isolator/loader"
	"github.com/wippyai/isolator/managed"
)

func newTestBridge(t *testing.T) *isolator.Bridge {
	t.Helper()
	t.Setenv(loader.EnvDisable, "")
	img, err := managed.EncodeImage(&managed.Image{
		AssemblyName: "Tools",
		Types: []managed.TypeDef{{
			Namespace: "Tools",
			Name:      "Math",
			Methods: []managed.MethodDef{
				{Name: "Add", Params: []string{"System.Int32", "System.Int32"}, Static: true},
				{Name: "Shout", Params: []string{"System.String"}, Static: true},
				{Name: "Boom", Static: true},
				{Name: ".ctor"},
				{Name: "Self"},
			},
		}},
	})
	require.NoError(t, err)

	b, err := isolator.New(
		isolator.WithSource(loader.MapSource{"Tools": img}),
		isolator.WithSetup(func(rt *managed.Runtime) error {
			rt.RegisterIntrinsic("Tools.Math::Add", func(c *managed.Call) (*managed.Object, error) {
				return c.Runtime.NewInt32(c.Args[0].Value().(int32) + c.Args[1].Value().(int32)), nil
			})
			rt.RegisterIntrinsic("Tools.Math::Shout", func(c *managed.Call) (*managed.Object, error) {
				return c.Runtime.NewString(c.Args[0].Value().(string) + "!"), nil
			})
			rt.RegisterIntrinsic("Tools.Math::Boom", func(c *managed.Call) (*managed.Object, error) {
				return nil, c.Throw("System", "InvalidOperationException", "boom")
			})
			rt.RegisterIntrinsic("Tools.Math::.ctor", func(*managed.Call) (*managed.Object, error) { return nil, nil })
			rt.RegisterIntrinsic("Tools.Math::Self", func(c *managed.Call) (*managed.Object, error) { return c.This, nil })
			return nil
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestDescribe(t *testing.T) {
	b := newTestBridge(t)
	types, err := describe(b, "Tools")
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.Equal(t, "Tools.Math", types[0].fullName())

	_, m, err := findMethod(types, "Tools.Math", "Add", 2)
	require.NoError(t, err)
	assert.Equal(t, "static Add(System.Int32, System.Int32)", m.signature())

	_, _, err = findMethod(types, "Tools.Math", "Add", 1)
	assert.Error(t, err)
	_, _, err = findMethod(types, "Tools.Other", "Add", 2)
	assert.Error(t, err)

	_, err = describe(b, "Nowhere")
	assert.Error(t, err)
}

func TestConvertArg(t *testing.T) {
	tests := []struct {
		value, typ string
		want       any
		wantErr    bool
	}{
		{"hi", "System.String", "hi", false},
		{"42", "System.Int32", int32(42), false},
		{"x", "System.Int32", nil, true},
		{"9000000000", "System.Int64", int64(9000000000), false},
		{"1.5", "System.Double", 1.5, false},
		{"true", "System.Boolean", true, false},
		{"abc", "System.Byte[]", []byte("abc"), false},
		{"null", "App.Thing", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.typ+"/"+tt.value, func(t *testing.T) {
			got, err := convertArg(tt.value, tt.typ)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCall(t *testing.T) {
	b := newTestBridge(t)
	types, err := describe(b, "Tools")
	require.NoError(t, err)

	tm, add, err := findMethod(types, "Tools.Math", "Add", 2)
	require.NoError(t, err)
	args, err := convertArgs([]string{"2", "3"}, add)
	require.NoError(t, err)
	out, err := call(b, "Tools", tm, add, args, false)
	require.NoError(t, err)
	assert.Equal(t, "5", out)

	_, shout, err := findMethod(types, "Tools.Math", "Shout", 1)
	require.NoError(t, err)
	out, err = call(b, "Tools", tm, shout, []any{"hey"}, false)
	require.NoError(t, err)
	assert.Equal(t, `"hey!"`, out)

	_, self, err := findMethod(types, "Tools.Math", "Self", 0)
	require.NoError(t, err)
	out, err = call(b, "Tools", tm, self, nil, true)
	require.NoError(t, err)
	assert.Contains(t, out, "Tools.Math")

	_, boom, err := findMethod(types, "Tools.Math", "Boom", 0)
	require.NoError(t, err)
	_, err = call(b, "Tools", tm, boom, nil, false)
	assert.EqualError(t, err, "boom")

	assert.Equal(t, 0, b.Refs().Len(), "targets, results and exceptions released")
}

func TestExplorerModel(t *testing.T) {
	b := newTestBridge(t)
	m := newExplorerModel(b, "Tools")

	msg := m.Init()()
	_, _ = m.Update(msg)
	require.NotEmpty(t, m.entries)
	assert.Contains(t, m.View(), "Select a method")

	for i, e := range m.entries {
		if e.m.name == "Shout" {
			m.selected = i
		}
	}
	_, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.Equal(t, stateInputArgs, m.state)
	require.Len(t, m.inputs, 1)
	m.inputs[0].SetValue("hi")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	_, _ = m.Update(cmd())
	assert.Equal(t, stateShowResult, m.state)
	assert.NoError(t, m.err)
	assert.Equal(t, `"hi!"`, m.result)

	_, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, stateSelectMethod, m.state)
}
