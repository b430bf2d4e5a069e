package managed

import (
	"sort"

	"github.com/wippyai/isolator/vm"
)

const (
	heapBase   uint32 = 0x1000
	headerSize uint32 = 8
	slotSize   uint32 = 32
)

// Object is a heap object. Boxed primitives carry their Go value, instances of defined
// classes carry fields.
type Object struct {
	class  *Class
	value  any
	fields map[string]*Object
	id     uint32
	addr   uint32
	pins   int
}

func (o *Object) Class() vm.Class { return o.class }

// Type returns the concrete class.
func (o *Object) Type() *Class { return o.class }

// Value returns the Go value of a boxed primitive, string, byte array or list.
func (o *Object) Value() any { return o.value }

// Field returns an instance field, nil when unset.
func (o *Object) Field(name string) *Object { return o.fields[name] }

// SetField sets an instance field.
func (o *Object) SetField(name string, v *Object) {
	if o.fields == nil {
		o.fields = make(map[string]*Object)
	}
	o.fields[name] = v
}

// FieldNames returns the names of set fields in sorted order.
func (o *Object) FieldNames() []string {
	names := make([]string, 0, len(o.fields))
	for n := range o.fields {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Addr returns the current heap address. Unpinned objects move on compaction.
func (o *Object) Addr() uint32 { return o.addr }

// Pinned reports whether the object is pinned.
func (o *Object) Pinned() bool { return o.pins > 0 }

// heap hands out addresses and relocates unpinned objects on compaction. Compaction
// never frees; objects are dropped only by collect.
type heap struct {
	objects map[uint32]*Object
	next    uint32
	nextID  uint32
}

func newHeap() *heap {
	return &heap{
		objects: make(map[uint32]*Object),
		next:    heapBase,
	}
}

func (h *heap) alloc(c *Class, v any) *Object {
	h.nextID++
	o := &Object{class: c, value: v, id: h.nextID}
	h.place(o)
	return o
}

func (h *heap) place(o *Object) {
	o.addr = h.next
	h.next += slotSize
	h.objects[o.addr] = o
}

// unboxed maps an interior pointer back to its boxed value type.
func (h *heap) unboxed(ptr uint32) *Object {
	if ptr < headerSize {
		return nil
	}
	o := h.objects[ptr-headerSize]
	if o == nil || !o.class.valueType {
		return nil
	}
	return o
}

// compact relocates every unpinned object and returns how many moved.
func (h *heap) compact() int {
	addrs := make([]uint32, 0, len(h.objects))
	for a := range h.objects {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	moved := 0
	for _, a := range addrs {
		o := h.objects[a]
		if o.pins > 0 {
			continue
		}
		delete(h.objects, a)
		h.place(o)
		moved++
	}
	return moved
}

// collect frees every object not reachable from a pinned object or from roots, and
// returns how many were freed. Reachability follows instance fields and list items.
func (h *heap) collect(roots []*Object) int {
	marked := make(map[*Object]bool, len(h.objects))
	stack := make([]*Object, 0, len(roots))
	push := func(o *Object) {
		if o != nil && !marked[o] {
			marked[o] = true
			stack = append(stack, o)
		}
	}
	for _, o := range roots {
		push(o)
	}
	for _, o := range h.objects {
		if o.pins > 0 {
			push(o)
		}
	}
	for len(stack) > 0 {
		o := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, f := range o.fields {
			push(f)
		}
		if items, ok := o.value.([]*Object); ok {
			for _, it := range items {
				push(it)
			}
		}
	}

	freed := 0
	for a, o := range h.objects {
		if !marked[o] {
			delete(h.objects, a)
			freed++
		}
	}
	return freed
}

func (h *heap) live() int {
	return len(h.objects)
}
