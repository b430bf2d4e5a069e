package wasmtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
)

func TestLEB(t *testing.T) {
	assert.Equal(t, []byte{0x80, 0x08}, uleb(1024))
	assert.Equal(t, []byte{0x80, 0x08}, sleb(1024))
	assert.Equal(t, []byte{0x7f}, sleb(-1))
	assert.Equal(t, []byte{0xc0, 0x00}, sleb(64))
}

func TestModule_Instantiates(t *testing.T) {
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	bin := Module{
		Funcs: []Func{
			{Export: "answer", Results: []byte{I32}, Body: Const(42)},
			{Export: "twice", Params: []byte{I32}, Results: []byte{I32}, Body: []byte{OpLocalGet, 0, OpLocalGet, 0, OpI32Add}},
		},
		HeapBase: 4096,
	}.Encode()

	mod, err := r.Instantiate(ctx, bin)
	require.NoError(t, err)

	res, err := mod.ExportedFunction("answer").Call(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), res[0])

	res, err = mod.ExportedFunction("twice").Call(ctx, 21)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), res[0])

	first, err := mod.ExportedFunction("malloc").Call(ctx, 16)
	require.NoError(t, err)
	second, err := mod.ExportedFunction("malloc").Call(ctx, 16)
	require.NoError(t, err)
	assert.Equal(t, uint64(4096), first[0])
	assert.Equal(t, uint64(4112), second[0])
	assert.NotNil(t, mod.Memory())
}
