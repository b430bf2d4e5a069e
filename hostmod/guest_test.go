package hostmod

import (
	"github.com/wippyai/isolator/internal/wasmtest"
)

// guestModule imports every host function and wraps each in an export of the same name.
func guestModule() []byte {
	i32 := wasmtest.I32
	out := []byte{i32, i32, i32, i32}
	return wasmtest.Module{
		Imports: []wasmtest.Import{
			{Module: ModuleName, Name: FuncCallHost, Params: out, Results: []byte{i32}},
			{Module: ModuleName, Name: FuncSetTimeout, Params: []byte{i32}},
			{Module: ModuleName, Name: FuncQueueCallback},
			{Module: ModuleName, Name: FuncRequestAssembly, Params: out, Results: []byte{i32}},
		},
		Funcs: []wasmtest.Func{
			{Export: FuncCallHost, Params: out, Results: []byte{i32}, Body: wasmtest.Forward(4, 0)},
			{Export: FuncSetTimeout, Params: []byte{i32}, Body: wasmtest.Forward(1, 1)},
			{Export: FuncQueueCallback, Body: wasmtest.Forward(0, 2)},
			{Export: FuncRequestAssembly, Params: out, Results: []byte{i32}, Body: wasmtest.Forward(4, 3)},
		},
		HeapBase: 1024,
	}.Encode()
}
