package loader

// Guard tracks which assembly names are being resolved right now.
//
// A Guard is confined to the single loader thread. Acquiring a name that is already held
// fails, so a resolution cannot re-enter itself, while resolving a different name from
// inside it still succeeds.
type Guard struct {
	active map[string]bool
}

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{active: make(map[string]bool)}
}

// Acquire marks name as in flight. When ok is false the name is already held and release
// is a no-op. Callers defer release on every path.
func (g *Guard) Acquire(name string) (release func(), ok bool) {
	if g.active[name] {
		return func() {}, false
	}
	g.active[name] = true
	released := false
	return func() {
		if released {
			return
		}
		released = true
		delete(g.active, name)
	}, true
}

// Held reports whether name is in flight.
func (g *Guard) Held(name string) bool {
	return g.active[name]
}

// Depth returns how many resolutions are nested right now.
func (g *Guard) Depth() int {
	return len(g.active)
}
