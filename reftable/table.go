package reftable

import (
	"github.com/wippyai/isolator/errors"
	"github.com/wippyai/isolator/vm"
)

// Table maps references to guest objects for the lifetime the host owns them.
//
// A Table is process-global state confined to the single control thread that drives the
// guest; it performs no locking.
//
// Contract: every Ref returned by Create must be passed to Release exactly once, and must
// not be resolved after release. Violations are caller bugs. A debug table panics with a
// KindContractViolation error when it sees one; a release table does not check.
type Table struct {
	entries   []entry
	freeList  []uint32
	observers []observerSlot
	nextObs   int
	pinner    vm.Pinner
	capacity  int
	debug     bool
	closed    bool
}

type entry struct {
	object vm.Object
	gen    uint8
	pinned bool
	valid  bool
}

type observerSlot struct {
	o  Observer
	id int
}

// Option configures a Table.
type Option func(*Table)

// WithDebug enables contract checking.
func WithDebug(debug bool) Option {
	return func(t *Table) { t.debug = debug }
}

// WithPinner pins objects of pinned references in the runtime's collector.
func WithPinner(p vm.Pinner) Option {
	return func(t *Table) { t.pinner = p }
}

// WithCapacity bounds the number of live references. Values outside 1..MaxRefs mean
// MaxRefs.
func WithCapacity(n int) Option {
	return func(t *Table) { t.capacity = n }
}

// New creates an empty table.
func New(opts ...Option) *Table {
	t := &Table{
		entries:  make([]entry, 0, 64),
		freeList: make([]uint32, 0, 16),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.capacity <= 0 || t.capacity > MaxRefs {
		t.capacity = MaxRefs
	}
	return t
}

// Debug reports whether contract checking is enabled.
func (t *Table) Debug() bool {
	return t.debug
}

// Create stores obj and returns its reference. A pinned reference keeps obj's address
// stable until released. Create returns 0 for a nil object, a closed table, or a table
// holding its capacity of live references. A debug table panics when exhausted.
func (t *Table) Create(obj vm.Object, pinned bool) Ref {
	if obj == nil || t.closed {
		return 0
	}

	var slot uint32
	if n := len(t.freeList); n > 0 {
		slot = t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
	} else {
		if len(t.entries) >= t.capacity {
			if t.debug {
				panic(errors.ContractViolation("reference table exhausted at %d live references", len(t.entries)))
			}
			return 0
		}
		t.entries = append(t.entries, entry{})
		slot = uint32(len(t.entries) - 1)
	}

	e := &t.entries[slot]
	e.object = obj
	e.pinned = pinned
	e.valid = true

	if pinned && t.pinner != nil {
		t.pinner.Pin(obj)
	}

	ref := makeRef(slot, e.gen)
	t.notify(Event{Type: EventCreated, Ref: ref, Object: obj, Pinned: pinned})
	return ref
}

func (t *Table) lookup(ref Ref) *entry {
	if ref == 0 {
		return nil
	}
	slot := ref.slot()
	if int(slot) >= len(t.entries) {
		return nil
	}
	e := &t.entries[slot]
	if !e.valid || e.gen != ref.gen() {
		return nil
	}
	return e
}

// Release drops a reference. Releasing 0 is a no-op.
func (t *Table) Release(ref Ref) {
	if ref == 0 {
		return
	}
	e := t.lookup(ref)
	if e == nil {
		if t.debug {
			panic(errors.ContractViolation("reference %#x released twice or never created", uint32(ref)))
		}
		return
	}

	obj, pinned := e.object, e.pinned
	e.object = nil
	e.pinned = false
	e.valid = false
	e.gen++
	t.freeList = append(t.freeList, ref.slot())

	if pinned && t.pinner != nil {
		t.pinner.Unpin(obj)
	}
	t.notify(Event{Type: EventReleased, Ref: ref, Object: obj, Pinned: pinned})
}

// Resolve returns the object behind ref. Resolving 0 returns nil.
func (t *Table) Resolve(ref Ref) vm.Object {
	if ref == 0 {
		return nil
	}
	e := t.lookup(ref)
	if e == nil {
		if t.debug {
			panic(errors.ContractViolation("reference %#x resolved after release", uint32(ref)))
		}
		return nil
	}
	return e.object
}

// Lookup is the non-faulting form of Resolve, for callers that validate host input.
func (t *Table) Lookup(ref Ref) (vm.Object, bool) {
	e := t.lookup(ref)
	if e == nil {
		return nil, false
	}
	return e.object, true
}

// TypeOf returns the runtime class of the referenced object.
func (t *Table) TypeOf(ref Ref) vm.Class {
	obj := t.Resolve(ref)
	if obj == nil {
		return nil
	}
	return obj.Class()
}

// Pinned reports whether ref is a live pinned reference.
func (t *Table) Pinned(ref Ref) bool {
	e := t.lookup(ref)
	return e != nil && e.pinned
}

// Len returns the number of live references.
func (t *Table) Len() int {
	return len(t.entries) - len(t.freeList)
}

// Each iterates over live references in slot order.
func (t *Table) Each(fn func(Ref, vm.Object) bool) {
	for i := range t.entries {
		e := &t.entries[i]
		if !e.valid {
			continue
		}
		if !fn(makeRef(uint32(i), e.gen), e.object) {
			return
		}
	}
}

// Subscribe adds an observer for lifecycle events and returns a function removing it.
func (t *Table) Subscribe(o Observer) (unsubscribe func()) {
	t.nextObs++
	id := t.nextObs
	t.observers = append(t.observers, observerSlot{o: o, id: id})
	return func() {
		for i, s := range t.observers {
			if s.id == id {
				t.observers = append(t.observers[:i], t.observers[i+1:]...)
				return
			}
		}
	}
}

// Close releases every live reference and stops accepting new ones.
func (t *Table) Close() error {
	if t.closed {
		return nil
	}
	var refs []Ref
	t.Each(func(r Ref, _ vm.Object) bool {
		refs = append(refs, r)
		return true
	})
	for _, r := range refs {
		t.Release(r)
	}
	t.closed = true
	return nil
}

func (t *Table) notify(e Event) {
	for _, s := range t.observers {
		s.o.OnRefEvent(e)
	}
}
