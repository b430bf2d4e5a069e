// Package wasmtest assembles small wasm modules for tests that need a real guest instance.
package wasmtest

// Value types and opcodes used by test bodies.
const (
	I32 byte = 0x7f

	OpCall      byte = 0x10
	OpDrop      byte = 0x1a
	OpLocalGet  byte = 0x20
	OpGlobalGet byte = 0x23
	OpGlobalSet byte = 0x24
	OpI32Store  byte = 0x36
	OpI32Const  byte = 0x41
	OpI32Add    byte = 0x6a
)

// Import is a function imported from the host.
type Import struct {
	Module  string
	Name    string
	Params  []byte
	Results []byte
}

// Func is a defined function. Body holds the instructions without the final end.
type Func struct {
	Export  string
	Params  []byte
	Results []byte
	Body    []byte
}

// Module describes a module with one exported memory named "memory".
//
// When HeapBase is non-zero the module also exports "malloc", a bump allocator starting
// at HeapBase, and "free", which does nothing. Imports take function indices 0..n-1 and
// Funcs follow in order.
type Module struct {
	Imports  []Import
	Funcs    []Func
	Pages    uint32
	HeapBase int32
}

// Forward returns a body that passes its first n parameters to function idx.
func Forward(n int, idx uint32) []byte {
	var b []byte
	for i := 0; i < n; i++ {
		b = append(b, OpLocalGet)
		b = append(b, uleb(uint32(i))...)
	}
	b = append(b, OpCall)
	return append(b, uleb(idx)...)
}

// Const returns a body that ignores its parameters and returns v.
func Const(v int32) []byte {
	return append([]byte{OpI32Const}, sleb(v)...)
}

// Encode renders the binary module.
func (m Module) Encode() []byte {
	funcs := m.Funcs
	if m.HeapBase != 0 {
		funcs = append(append([]Func(nil), funcs...),
			Func{
				Export:  "malloc",
				Params:  []byte{I32},
				Results: []byte{I32},
				Body:    []byte{OpGlobalGet, 0, OpGlobalGet, 0, OpLocalGet, 0, OpI32Add, OpGlobalSet, 0},
			},
			Func{Export: "free", Params: []byte{I32}},
		)
	}

	var types, imports, decls, exports, code [][]byte
	for _, im := range m.Imports {
		imports = append(imports, cat(name(im.Module), name(im.Name), []byte{0x00}, uleb(uint32(len(types)))))
		types = append(types, funcType(im.Params, im.Results))
	}
	for i, f := range funcs {
		decls = append(decls, uleb(uint32(len(types))))
		types = append(types, funcType(f.Params, f.Results))
		if f.Export != "" {
			exports = append(exports, cat(name(f.Export), []byte{0x00}, uleb(uint32(len(m.Imports)+i))))
		}
		body := cat([]byte{0x00}, f.Body, []byte{0x0b})
		code = append(code, cat(uleb(uint32(len(body))), body))
	}
	exports = append(exports, cat(name("memory"), []byte{0x02, 0x00}))

	pages := m.Pages
	if pages == 0 {
		pages = 1
	}
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	out = append(out, section(1, vec(types))...)
	if len(imports) > 0 {
		out = append(out, section(2, vec(imports))...)
	}
	out = append(out, section(3, vec(decls))...)
	out = append(out, section(5, vec([][]byte{cat([]byte{0x00}, uleb(pages))}))...)
	if m.HeapBase != 0 {
		global := cat([]byte{I32, 0x01, OpI32Const}, sleb(m.HeapBase), []byte{0x0b})
		out = append(out, section(6, vec([][]byte{global}))...)
	}
	out = append(out, section(7, vec(exports))...)
	out = append(out, section(10, vec(code))...)
	return out
}

func funcType(params, results []byte) []byte {
	return cat([]byte{0x60}, uleb(uint32(len(params))), params, uleb(uint32(len(results))), results)
}

func section(id byte, payload []byte) []byte {
	return cat([]byte{id}, uleb(uint32(len(payload))), payload)
}

func vec(items [][]byte) []byte {
	return cat(append([][]byte{uleb(uint32(len(items)))}, items...)...)
}

func name(s string) []byte {
	return cat(uleb(uint32(len(s))), []byte(s))
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func sleb(v int32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}
