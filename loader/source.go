package loader

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// Source supplies assembly image bytes by name. It blocks the guest loader until it
// answers; false means the assembly is unknown to the host.
type Source interface {
	RequestAssembly(ctx context.Context, name string) ([]byte, bool)
}

// FuncSource adapts a function to Source.
type FuncSource func(ctx context.Context, name string) ([]byte, bool)

// RequestAssembly calls f.
func (f FuncSource) RequestAssembly(ctx context.Context, name string) ([]byte, bool) {
	return f(ctx, name)
}

// MapSource serves images from memory, keyed by assembly name without extension.
type MapSource map[string][]byte

// RequestAssembly looks name up.
func (m MapSource) RequestAssembly(_ context.Context, name string) ([]byte, bool) {
	data, ok := m[trimExt(name)]
	return data, ok
}

// DirSource serves "<dir>/<name>.dll" files.
type DirSource string

// RequestAssembly reads the image file for name. Names that would escape the directory
// are refused.
func (d DirSource) RequestAssembly(ctx context.Context, name string) ([]byte, bool) {
	if ctx.Err() != nil {
		return nil, false
	}
	base := trimExt(name)
	if base == "" || filepath.Base(base) != base || base == "." || base == ".." {
		Logger().Debug("refusing assembly name outside source directory")
		return nil, false
	}
	data, err := os.ReadFile(filepath.Join(string(d), base+".dll"))
	if err != nil {
		return nil, false
	}
	return data, true
}

// Chain asks each source in order and returns the first hit.
type Chain []Source

// RequestAssembly consults the sources in order.
func (c Chain) RequestAssembly(ctx context.Context, name string) ([]byte, bool) {
	for _, s := range c {
		if ctx.Err() != nil {
			return nil, false
		}
		if data, ok := s.RequestAssembly(ctx, name); ok {
			return data, true
		}
	}
	return nil, false
}

func trimExt(name string) string {
	if strings.HasSuffix(strings.ToLower(name), ".dll") {
		return name[:len(name)-4]
	}
	return name
}
