package client

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/isolator/errors"
	"github.com/wippyai/isolator/memory"
)

// Guest is the bridge export surface a Client drives. *abi.Exports serves it in process
// and WazeroGuest forwards it to a wasm instance.
//
// Lookups may report a miss either as an error or as token 0; the client treats both as
// not found.
type Guest interface {
	Memory() memory.Memory
	Allocator() memory.Allocator

	InvokeMethod(record uint32) error
	InstantiateClass(class uint32) (uint32, error)
	ReleaseObject(ref uint32)
	LookupClass(assembly, namespace, name uint32) (uint32, error)
	LookupMethod(class, name uint32, arity int32) (uint32, error)
	LookupMethodDesc(class, desc uint32, includesNamespace bool) (uint32, error)
	LookupGlobalMethodDesc(assembly, desc uint32, includesNamespace bool) (uint32, error)
	DeserializeObject(buf, classOut, errOut uint32) (uint32, error)
	ReflectClass(class, classOut uint32) (uint32, error)
	ReflectMethod(method, classOut uint32) (uint32, error)
	GetObjectHash(ref uint32) int32
	GetObjectClass() uint32
	MakeGenericClass(class, n, args uint32) (uint32, error)
	MakeGenericMethod(method, n, args uint32) (uint32, error)
}

// Export names a wasm guest must provide.
const (
	ExportInvokeMethod           = "isolator_invoke_method"
	ExportInstantiateClass       = "isolator_instantiate_class"
	ExportReleaseObject          = "isolator_release_object"
	ExportLookupClass            = "isolator_lookup_class"
	ExportLookupMethod           = "isolator_lookup_method"
	ExportLookupMethodDesc       = "isolator_lookup_method_desc"
	ExportLookupGlobalMethodDesc = "isolator_lookup_global_method_desc"
	ExportDeserializeObject      = "isolator_deserialize_object"
	ExportReflectClass           = "isolator_reflect_class"
	ExportReflectMethod          = "isolator_reflect_method"
	ExportGetObjectHash          = "isolator_get_object_hash"
	ExportGetObjectClass         = "isolator_get_object_class"
	ExportMakeGenericClass       = "isolator_make_generic_class"
	ExportMakeGenericMethod      = "isolator_make_generic_method"
)

var requiredExports = []string{
	"malloc", "free",
	ExportInvokeMethod, ExportInstantiateClass, ExportReleaseObject,
	ExportLookupClass, ExportLookupMethod, ExportLookupMethodDesc, ExportLookupGlobalMethodDesc,
	ExportDeserializeObject, ExportReflectClass, ExportReflectMethod,
	ExportGetObjectHash, ExportGetObjectClass, ExportMakeGenericClass, ExportMakeGenericMethod,
}

// WazeroGuest calls the bridge exports of an instantiated wasm module.
type WazeroGuest struct {
	ctx   context.Context
	mem   memory.Memory
	alloc memory.Allocator
	fns   map[string]api.Function
}

// NewWazeroGuest checks that mod provides memory and every bridge export.
func NewWazeroGuest(ctx context.Context, mod api.Module) (*WazeroGuest, error) {
	mem := memory.Wrap(mod.Memory())
	if mem == nil {
		return nil, errors.NotFound(errors.PhaseABI, "guest export", "memory")
	}
	g := &WazeroGuest{ctx: ctx, mem: mem, fns: make(map[string]api.Function, len(requiredExports))}
	for _, name := range requiredExports {
		fn := mod.ExportedFunction(name)
		if fn == nil {
			return nil, errors.NotFound(errors.PhaseABI, "guest export", name)
		}
		g.fns[name] = fn
	}
	g.alloc = memory.WrapAllocator(ctx, g.fns["malloc"], g.fns["free"])
	return g, nil
}

func (g *WazeroGuest) Memory() memory.Memory       { return g.mem }
func (g *WazeroGuest) Allocator() memory.Allocator { return g.alloc }

func (g *WazeroGuest) call(name string, args ...uint64) (uint32, error) {
	res, err := g.fns[name].Call(g.ctx, args...)
	if err != nil {
		return 0, errors.Wrap(errors.PhaseABI, errors.KindGuestException, err, name)
	}
	if len(res) == 0 {
		return 0, nil
	}
	return api.DecodeU32(res[0]), nil
}

func flag(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func (g *WazeroGuest) InvokeMethod(record uint32) error {
	_, err := g.call(ExportInvokeMethod, uint64(record))
	return err
}

func (g *WazeroGuest) InstantiateClass(class uint32) (uint32, error) {
	return g.call(ExportInstantiateClass, uint64(class))
}

func (g *WazeroGuest) ReleaseObject(ref uint32) {
	if ref != 0 {
		_, _ = g.call(ExportReleaseObject, uint64(ref))
	}
}

func (g *WazeroGuest) LookupClass(assembly, namespace, name uint32) (uint32, error) {
	return g.call(ExportLookupClass, uint64(assembly), uint64(namespace), uint64(name))
}

func (g *WazeroGuest) LookupMethod(class, name uint32, arity int32) (uint32, error) {
	return g.call(ExportLookupMethod, uint64(class), uint64(name), api.EncodeI32(arity))
}

func (g *WazeroGuest) LookupMethodDesc(class, desc uint32, includesNamespace bool) (uint32, error) {
	return g.call(ExportLookupMethodDesc, uint64(class), uint64(desc), flag(includesNamespace))
}

func (g *WazeroGuest) LookupGlobalMethodDesc(assembly, desc uint32, includesNamespace bool) (uint32, error) {
	return g.call(ExportLookupGlobalMethodDesc, uint64(assembly), uint64(desc), flag(includesNamespace))
}

func (g *WazeroGuest) DeserializeObject(buf, classOut, errOut uint32) (uint32, error) {
	return g.call(ExportDeserializeObject, uint64(buf), uint64(classOut), uint64(errOut))
}

func (g *WazeroGuest) ReflectClass(class, classOut uint32) (uint32, error) {
	return g.call(ExportReflectClass, uint64(class), uint64(classOut))
}

func (g *WazeroGuest) ReflectMethod(method, classOut uint32) (uint32, error) {
	return g.call(ExportReflectMethod, uint64(method), uint64(classOut))
}

func (g *WazeroGuest) GetObjectHash(ref uint32) int32 {
	v, _ := g.call(ExportGetObjectHash, uint64(ref))
	return int32(v)
}

func (g *WazeroGuest) GetObjectClass() uint32 {
	v, _ := g.call(ExportGetObjectClass)
	return v
}

func (g *WazeroGuest) MakeGenericClass(class, n, args uint32) (uint32, error) {
	return g.call(ExportMakeGenericClass, uint64(class), uint64(n), uint64(args))
}

func (g *WazeroGuest) MakeGenericMethod(method, n, args uint32) (uint32, error) {
	return g.call(ExportMakeGenericMethod, uint64(method), uint64(n), uint64(args))
}
