package loader

import (
	"context"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/wippyai/isolator/vm"
)

// EnvDisable is the environment switch that turns assembly resolution off.
const EnvDisable = "DISABLE_ASSEMBLY_SEARCH_HOOK"

// EnvDisabled reports whether EnvDisable is set to a true value.
func EnvDisabled() bool {
	v, ok := os.LookupEnv(EnvDisable)
	if !ok || v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		// any other non-empty value disables
		return true
	}
	return b
}

// Hook resolves assemblies the runtime's loader cannot find by asking the host for their
// bytes. It is registered once and driven by the single loader thread.
type Hook struct {
	loader   vm.ImageLoader
	source   Source
	guard    *Guard
	disabled func() bool
	ctx      context.Context
	log      *zap.Logger

	installed bool
}

// Option configures a Hook.
type Option func(*Hook)

// WithDisabled replaces the disable switch. It is read on every resolution.
func WithDisabled(fn func() bool) Option {
	return func(h *Hook) {
		if fn != nil {
			h.disabled = fn
		}
	}
}

// WithContext sets the context passed to the source.
func WithContext(ctx context.Context) Option {
	return func(h *Hook) {
		if ctx != nil {
			h.ctx = ctx
		}
	}
}

// WithGuard shares a guard between hooks.
func WithGuard(g *Guard) Option {
	return func(h *Hook) {
		if g != nil {
			h.guard = g
		}
	}
}

// WithLogger overrides the package logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Hook) {
		if l != nil {
			h.log = l
		}
	}
}

// New creates a hook loading images through loader with bytes from source.
func New(loader vm.ImageLoader, source Source, opts ...Option) *Hook {
	h := &Hook{
		loader:   loader,
		source:   source,
		guard:    NewGuard(),
		disabled: EnvDisabled,
		ctx:      context.Background(),
		log:      Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Install registers the hook with the runtime loader. Repeated calls do nothing.
func (h *Hook) Install() {
	if h.installed {
		return
	}
	h.loader.AddSearchHook(h.Resolve)
	h.installed = true
}

// Guard returns the hook's reentrancy guard.
func (h *Hook) Guard() *Guard { return h.guard }

// Resolve returns the assembly for name, or nil to let the runtime's default resolution
// proceed. It declines when disabled or when name is already being resolved.
func (h *Hook) Resolve(name string) vm.Assembly {
	if h.disabled() {
		h.log.Debug("assembly search hook disabled", zap.String("assembly", name))
		return nil
	}
	if h.guard.Held(name) {
		h.log.Debug("assembly already resolving, declined", zap.String("assembly", name))
		return nil
	}
	if h.source == nil {
		return nil
	}

	data, ok := h.source.RequestAssembly(h.ctx, name)
	if !ok {
		h.log.Debug("host has no assembly", zap.String("assembly", name))
		return nil
	}

	release, ok := h.guard.Acquire(name)
	defer release()
	if !ok {
		return nil
	}

	img, err := h.loader.OpenImage(data)
	if err != nil {
		h.log.Warn("assembly image rejected", zap.String("assembly", name), zap.Error(err))
		return nil
	}
	asm, err := h.loader.LoadImage(img, name)
	if err != nil {
		h.log.Warn("assembly load failed", zap.String("assembly", name), zap.Error(err))
		return nil
	}
	h.log.Debug("assembly resolved",
		zap.String("assembly", name),
		zap.Int("bytes", len(data)),
		zap.Int("depth", h.guard.Depth()))
	return asm
}
