package hostmod

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/isolator/errors"
	"github.com/wippyai/isolator/loader"
	"github.com/wippyai/isolator/memory"
	"github.com/wippyai/isolator/shim"
)

// ModuleName is the import module the guest runtime links its upcalls against.
const ModuleName = "isolator"

// Export names of the host functions.
const (
	FuncCallHost        = "call_host"
	FuncSetTimeout      = "set_timeout"
	FuncQueueCallback   = "queue_callback"
	FuncRequestAssembly = "request_assembly"
)

// Status codes returned to the guest.
const (
	StatusOK    uint32 = 0
	StatusError uint32 = 1

	AssemblyMissing uint32 = 0
	AssemblyFound   uint32 = 1
)

var (
	i32          = api.ValueTypeI32
	sigOutParams = []api.ValueType{i32, i32, i32, i32}
)

// Module serves the guest's upcalls and assembly requests.
type Module struct {
	upcalls shim.Upcalls
	source  loader.Source
	malloc  string
	free    string
	log     *zap.Logger
}

// Option configures a Module.
type Option func(*Module)

// WithAllocator names the guest exports used to allocate reply buffers.
func WithAllocator(malloc, free string) Option {
	return func(m *Module) {
		if malloc != "" {
			m.malloc = malloc
		}
		m.free = free
	}
}

// WithLogger overrides the package logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Module) {
		if l != nil {
			m.log = l
		}
	}
}

// New creates a host module. Either argument may be nil: upcalls are then ignored and
// every assembly request misses.
func New(up shim.Upcalls, source loader.Source, opts ...Option) *Module {
	m := &Module{
		upcalls: up,
		source:  source,
		malloc:  "malloc",
		free:    "free",
		log:     Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Instantiate registers the module with r. It must run before the guest is instantiated.
func (m *Module) Instantiate(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	builder := r.NewHostModuleBuilder(ModuleName)
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(m.callHost), sigOutParams, []api.ValueType{i32}).
		WithParameterNames("ptr", "len", "result_ptr_out", "result_len_out").
		Export(FuncCallHost)
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(m.setTimeout), []api.ValueType{i32}, nil).
		WithParameterNames("ms").
		Export(FuncSetTimeout)
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(m.queueCallback), nil, nil).
		Export(FuncQueueCallback)
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(m.requestAssembly), sigOutParams, []api.ValueType{i32}).
		WithParameterNames("name_ptr", "name_len", "bytes_ptr_out", "len_out").
		Export(FuncRequestAssembly)

	mod, err := builder.Instantiate(ctx)
	if err != nil {
		return nil, errors.Instantiation(err)
	}
	return mod, nil
}

func (m *Module) callHost(ctx context.Context, mod api.Module, stack []uint64) {
	ptr, size := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
	ptrOut, lenOut := api.DecodeU32(stack[2]), api.DecodeU32(stack[3])
	stack[0] = uint64(StatusError)
	if m.upcalls == nil {
		return
	}
	mem := memory.Wrap(mod.Memory())
	if mem == nil {
		m.log.Warn("call_host from a module without memory")
		return
	}
	payload, err := mem.Read(ptr, size)
	if err != nil {
		m.log.Warn("call_host payload out of bounds", zap.Error(err))
		return
	}
	reply, err := m.upcalls.CallHost(payload)
	if err != nil {
		m.log.Debug("call_host failed", zap.Error(err))
		return
	}
	if err := m.writeOut(ctx, mod, mem, reply, ptrOut, lenOut); err != nil {
		m.log.Warn("call_host reply not delivered", zap.Error(err))
		return
	}
	stack[0] = uint64(StatusOK)
}

func (m *Module) setTimeout(_ context.Context, _ api.Module, stack []uint64) {
	if m.upcalls != nil {
		m.upcalls.SetTimeout(api.DecodeI32(stack[0]))
	}
}

func (m *Module) queueCallback(context.Context, api.Module, []uint64) {
	if m.upcalls != nil {
		m.upcalls.QueueCallback()
	}
}

func (m *Module) requestAssembly(ctx context.Context, mod api.Module, stack []uint64) {
	namePtr, nameLen := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
	bytesOut, lenOut := api.DecodeU32(stack[2]), api.DecodeU32(stack[3])
	stack[0] = uint64(AssemblyMissing)
	if m.source == nil {
		return
	}
	mem := memory.Wrap(mod.Memory())
	if mem == nil {
		return
	}
	raw, err := mem.Read(namePtr, nameLen)
	if err != nil {
		m.log.Warn("request_assembly name out of bounds", zap.Error(err))
		return
	}
	name := string(raw)
	data, ok := m.source.RequestAssembly(ctx, name)
	if !ok {
		m.log.Debug("assembly not provided", zap.String("assembly", name))
		return
	}
	if err := m.writeOut(ctx, mod, mem, data, bytesOut, lenOut); err != nil {
		m.log.Warn("assembly bytes not delivered", zap.String("assembly", name), zap.Error(err))
		return
	}
	m.log.Debug("assembly provided", zap.String("assembly", name), zap.Int("bytes", len(data)))
	stack[0] = uint64(AssemblyFound)
}

// writeOut copies data into a guest allocation and stores its address and length at the
// two out pointers. An empty reply stores zeros without allocating.
func (m *Module) writeOut(ctx context.Context, mod api.Module, mem memory.Memory, data []byte, ptrOut, lenOut uint32) error {
	var ptr uint32
	if len(data) > 0 {
		alloc := memory.WrapAllocator(ctx, mod.ExportedFunction(m.malloc), m.exported(mod, m.free))
		if alloc == nil {
			return errors.NotFound(errors.PhaseHost, "guest export", m.malloc)
		}
		var err error
		if ptr, err = memory.WriteBytes(mem, alloc, data); err != nil {
			return err
		}
		if err := mem.WriteU32(lenOut, uint32(len(data))); err != nil {
			alloc.Free(ptr)
			return err
		}
		if err := mem.WriteU32(ptrOut, ptr); err != nil {
			alloc.Free(ptr)
			return err
		}
		return nil
	}
	if err := mem.WriteU32(lenOut, 0); err != nil {
		return err
	}
	return mem.WriteU32(ptrOut, 0)
}

func (m *Module) exported(mod api.Module, name string) api.Function {
	if name == "" {
		return nil
	}
	return mod.ExportedFunction(name)
}
