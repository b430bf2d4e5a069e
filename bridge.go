package isolator

import (
	"context"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/isolator/abi"
	"github.com/wippyai/isolator/client"
	"github.com/wippyai/isolator/codec"
	"github.com/wippyai/isolator/config"
	"github.com/wippyai/isolator/errors"
	"github.com/wippyai/isolator/invoke"
	"github.com/wippyai/isolator/loader"
	"github.com/wippyai/isolator/managed"
	"github.com/wippyai/isolator/memory"
	"github.com/wippyai/isolator/reftable"
	"github.com/wippyai/isolator/resolve"
	"github.com/wippyai/isolator/shim"
	"github.com/wippyai/isolator/vm"
)

// Bridge wires an in-process managed runtime to the linear-memory export surface and a
// host client driving it.
type Bridge struct {
	cfg *config.Config
	log *zap.Logger

	rt         *managed.Runtime
	refs       *reftable.Table
	resolver   *resolve.Resolver
	dispatcher *invoke.Dispatcher
	mem        *memory.Linear
	exports    *abi.Exports
	client     *client.Client
	hook       *loader.Hook
	scheduler  *shim.Scheduler

	sources loader.Chain
	handler func(payload []byte) ([]byte, error)
	setup   []func(*managed.Runtime) error
	closed  bool
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithConfig replaces the default configuration.
func WithConfig(c *config.Config) Option {
	return func(b *Bridge) {
		if c != nil {
			b.cfg = c
		}
	}
}

// WithLogger sets the logger handed to every layer.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.log = l
		}
	}
}

// WithSource adds an assembly source consulted before the configured directories.
func WithSource(s loader.Source) Option {
	return func(b *Bridge) {
		if s != nil {
			b.sources = append(b.sources, s)
		}
	}
}

// WithHostHandler answers the guest's CallHost upcall.
func WithHostHandler(fn func(payload []byte) ([]byte, error)) Option {
	return func(b *Bridge) { b.handler = fn }
}

// WithSetup runs fn on the runtime before any assembly is resolved, typically to register
// intrinsics that loaded images refer to.
func WithSetup(fn func(*managed.Runtime) error) Option {
	return func(b *Bridge) {
		if fn != nil {
			b.setup = append(b.setup, fn)
		}
	}
}

// New builds a bridge.
func New(opts ...Option) (*Bridge, error) {
	b := &Bridge{
		cfg: config.Default(),
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}

	b.rt = managed.New(managed.WithLogger(b.log.Named("runtime")))
	codec.Install(b.rt, b.cfg.SerializerCoordinates())
	for _, fn := range b.setup {
		if err := fn(b.rt); err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindRegistration, err, "runtime setup")
		}
	}

	b.refs = reftable.New(reftable.WithDebug(b.cfg.Debug), reftable.WithPinner(b.rt))
	b.resolver = resolve.New(b.rt,
		resolve.WithSerializer(b.cfg.SerializerCoordinates()),
		resolve.WithLogger(b.log.Named("resolve")))
	b.dispatcher = invoke.New(b.refs, b.resolver,
		invoke.WithExceptionHandles(b.cfg.ExceptionHandles),
		invoke.WithLogger(b.log.Named("invoke")))

	b.mem = memory.NewLinear(b.cfg.Memory.InitialPages, b.cfg.Memory.MaxPages)
	b.exports = abi.New(b.mem, b.mem, b.refs, b.resolver,
		abi.WithDispatcher(b.dispatcher),
		abi.WithLogger(b.log.Named("abi")))
	b.client = client.New(b.exports, client.WithLogger(b.log.Named("client")))

	sources := append(b.sources, b.cfg.Sources()...)
	b.hook = loader.New(b.rt, sources,
		loader.WithDisabled(b.searchDisabled),
		loader.WithLogger(b.log.Named("loader")))
	b.hook.Install()

	callbacks, err := shim.NewGuestCallbacks(b.resolver)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	b.scheduler = shim.NewScheduler(callbacks,
		shim.WithHostHandler(b.handler),
		shim.WithLogger(b.log.Named("shim")))
	shim.Bind(b.rt, b.scheduler)

	b.log.Debug("bridge ready",
		zap.Bool("debug", b.cfg.Debug),
		zap.Bool("exception_handles", b.cfg.ExceptionHandles),
		zap.Int("sources", len(sources)))
	return b, nil
}

// The configuration switch is fixed, the environment is read on every resolution.
func (b *Bridge) searchDisabled() bool {
	return !b.cfg.Assemblies.SearchHook || loader.EnvDisabled()
}

// Config returns the bridge configuration.
func (b *Bridge) Config() *config.Config { return b.cfg }

// Runtime returns the managed runtime.
func (b *Bridge) Runtime() *managed.Runtime { return b.rt }

// Refs returns the reference table.
func (b *Bridge) Refs() *reftable.Table { return b.refs }

// Resolver returns the type and method resolver.
func (b *Bridge) Resolver() *resolve.Resolver { return b.resolver }

// Dispatcher returns the invocation dispatcher.
func (b *Bridge) Dispatcher() *invoke.Dispatcher { return b.dispatcher }

// Memory returns the linear memory the exports operate on.
func (b *Bridge) Memory() *memory.Linear { return b.mem }

// Exports returns the linear-memory export surface.
func (b *Bridge) Exports() *abi.Exports { return b.exports }

// Client returns the host client.
func (b *Bridge) Client() *client.Client { return b.client }

// Scheduler returns the timer and callback scheduler.
func (b *Bridge) Scheduler() *shim.Scheduler { return b.scheduler }

// Hook returns the assembly search hook.
func (b *Bridge) Hook() *loader.Hook { return b.hook }

// Class resolves a type by its full name, "Namespace.Name" or just "Name".
func (b *Bridge) Class(assembly, fullName string) (*client.Class, error) {
	ns, name := SplitTypeName(fullName)
	return b.client.Class(assembly, ns, name)
}

// Call invokes the static method name on the type fullName with args and returns the
// deserialized result.
func (b *Bridge) Call(assembly, fullName, method string, args ...any) (any, error) {
	c, err := b.Class(assembly, fullName)
	if err != nil {
		return nil, err
	}
	m, err := c.Method(method, len(args))
	if err != nil {
		return nil, err
	}
	return m.Invoke(nil, args...)
}

// Collect frees guest objects no reference keeps alive and returns how many were freed.
func (b *Bridge) Collect() int {
	var roots []vm.Object
	b.refs.Each(func(_ reftable.Ref, o vm.Object) bool {
		roots = append(roots, o)
		return true
	})
	return b.rt.Collect(roots...)
}

// RunPending runs due timer and thread pool callbacks.
func (b *Bridge) RunPending() (int, error) {
	return b.scheduler.RunPending()
}

// Run drives callbacks until none are left or ctx ends.
func (b *Bridge) Run(ctx context.Context) error {
	return b.scheduler.Run(ctx)
}

// Close releases every outstanding reference and the buffers the exports own.
func (b *Bridge) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	var err error
	if b.exports != nil {
		err = multierr.Append(err, b.exports.Close())
	}
	if b.refs != nil {
		err = multierr.Append(err, b.refs.Close())
	}
	if err != nil {
		b.log.Warn("bridge close", zap.Error(err))
	}
	return err
}

// SplitTypeName splits "Namespace.Name" at the last dot. A generic arity suffix stays
// with the name.
func SplitTypeName(fullName string) (namespace, name string) {
	i := strings.LastIndexByte(fullName, '.')
	if i < 0 {
		return "", fullName
	}
	return fullName[:i], fullName[i+1:]
}
