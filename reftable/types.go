package reftable

import "github.com/wippyai/isolator/vm"

// Ref is an opaque reference to a guest object in a table.
// Ref 0 is reserved and always means "no reference".
//
// The low 24 bits select a slot, the high 8 bits carry the slot generation so a stale
// Ref does not alias the slot's next occupant. The generation wraps after 256 releases of
// one slot, so a Ref held across that many reuses can alias again. Stale detection is a
// debugging aid, not a guarantee.
type Ref uint32

const (
	slotBits = 24
	slotMask = 1<<slotBits - 1
)

// MaxRefs is the most live references a table can hold.
const MaxRefs = slotMask

func makeRef(slot uint32, gen uint8) Ref {
	return Ref(uint32(gen)<<slotBits | (slot + 1))
}

func (r Ref) slot() uint32 { return uint32(r)&slotMask - 1 }
func (r Ref) gen() uint8   { return uint8(uint32(r) >> slotBits) }

// EventType identifies a reference lifecycle notification.
type EventType uint8

const (
	EventCreated EventType = iota
	EventReleased
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Event represents a reference lifecycle event.
type Event struct {
	Object vm.Object
	Ref    Ref
	Type   EventType
	Pinned bool
}

// Observer receives notifications about reference lifecycle events.
type Observer interface {
	OnRefEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnRefEvent calls f(e).
func (f ObserverFunc) OnRefEvent(e Event) { f(e) }
