package client

import (
	"go.uber.org/zap"

	"github.com/wippyai/isolator/errors"
	"github.com/wippyai/isolator/memory"
)

type classKey struct {
	assembly, namespace, name string
}

type methodKey struct {
	class uint32
	name  string
	arity int
}

type descKey struct {
	scope     string
	class     uint32
	desc      string
	namespace bool
}

// Client is the host-side driver of one bridge. It caches lookups by name and turns Go
// values into argument buffers. A Client is not safe for concurrent use.
type Client struct {
	guest Guest
	mem   memory.Memory
	alloc memory.Allocator
	log   *zap.Logger

	classes map[classKey]*Class
	methods map[methodKey]*Method
	descs   map[descKey]*Method
	object  *Class
}

// Option configures a Client.
type Option func(*Client)

// WithLogger overrides the package logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New creates a client over g.
func New(g Guest, opts ...Option) *Client {
	c := &Client{
		guest:   g,
		mem:     g.Memory(),
		alloc:   g.Allocator(),
		log:     Logger(),
		classes: make(map[classKey]*Class),
		methods: make(map[methodKey]*Method),
		descs:   make(map[descKey]*Method),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Guest returns the export surface the client drives.
func (c *Client) Guest() Guest { return c.guest }

// Class returns the type (assembly, namespace, name).
func (c *Client) Class(assembly, namespace, name string) (*Class, error) {
	key := classKey{assembly, namespace, name}
	if k, ok := c.classes[key]; ok {
		return k, nil
	}

	var tok uint32
	err := c.withStrings([]string{assembly, namespace, name}, func(p []uint32) error {
		var err error
		tok, err = c.guest.LookupClass(p[0], p[1], p[2])
		return err
	})
	if err != nil {
		return nil, err
	}
	if tok == 0 {
		return nil, errors.TypeNotFound(assembly, namespace, name)
	}
	k := &Class{c: c, token: tok, namespace: namespace, name: name}
	c.classes[key] = k
	c.log.Debug("class resolved",
		zap.String("assembly", assembly),
		zap.String("type", namespace+"."+name),
		zap.Uint32("token", tok))
	return k, nil
}

// ObjectClass returns System.Object.
func (c *Client) ObjectClass() *Class {
	if c.object == nil {
		c.object = &Class{c: c, token: c.guest.GetObjectClass(), namespace: "System", name: "Object"}
	}
	return c.object
}

// GlobalMethod finds the first method in assembly matching desc.
func (c *Client) GlobalMethod(assembly, desc string, includesNamespace bool) (*Method, error) {
	key := descKey{scope: assembly, desc: desc, namespace: includesNamespace}
	if m, ok := c.descs[key]; ok {
		return m, nil
	}
	var tok uint32
	err := c.withStrings([]string{assembly, desc}, func(p []uint32) error {
		var err error
		tok, err = c.guest.LookupGlobalMethodDesc(p[0], p[1], includesNamespace)
		return err
	})
	if err != nil {
		return nil, err
	}
	if tok == 0 {
		return nil, errors.New(errors.PhaseResolve, errors.KindMethodNotFound).
			Assembly(assembly).
			Member(desc).
			Build()
	}
	m := &Method{c: c, token: tok, name: desc}
	c.descs[key] = m
	return m, nil
}

// Copy serializes v into the guest and returns a reference to the resulting object.
// A nil value yields a nil object. A serializer failure is a *GuestError.
func (c *Client) Copy(v any) (*Object, error) {
	buf, err := c.writeArg(v)
	if err != nil {
		return nil, err
	}
	defer c.alloc.Free(buf)

	out, err := c.alloc.Alloc(8)
	if err != nil {
		return nil, err
	}
	defer c.alloc.Free(out)

	ref, err := c.guest.DeserializeObject(buf, out, out+4)
	if err != nil {
		return nil, err
	}
	class, err := c.mem.ReadU32(out)
	if err != nil {
		return nil, err
	}
	msgPtr, err := c.mem.ReadU32(out + 4)
	if err != nil {
		return nil, err
	}
	if msgPtr != 0 {
		return nil, c.guestError(msgPtr, ref, class)
	}
	if ref == 0 {
		return nil, nil
	}
	return &Object{c: c, ref: ref, class: class}, nil
}

// Release drops every reference in objs. Nil objects are skipped.
func (c *Client) Release(objs ...*Object) {
	for _, o := range objs {
		o.Release()
	}
}

// withStrings copies strs into guest memory as C strings for the duration of fn. The
// bridge frees strings it reads, so nothing is freed here once fn has run.
func (c *Client) withStrings(strs []string, fn func([]uint32) error) error {
	ptrs := make([]uint32, 0, len(strs))
	for _, s := range strs {
		p, err := memory.WriteCString(c.mem, c.alloc, s)
		if err != nil {
			for _, q := range ptrs {
				c.alloc.Free(q)
			}
			return err
		}
		ptrs = append(ptrs, p)
	}
	return fn(ptrs)
}

// writeTokens copies class tokens into a guest array the bridge consumes.
func (c *Client) writeTokens(classes []*Class) (uint32, error) {
	if len(classes) == 0 {
		return 0, nil
	}
	p, err := c.alloc.Alloc(uint32(len(classes)) * 4)
	if err != nil {
		return 0, err
	}
	for i, k := range classes {
		if err := c.mem.WriteU32(p+uint32(i)*4, k.token); err != nil {
			c.alloc.Free(p)
			return 0, err
		}
	}
	return p, nil
}

func (c *Client) guestError(msgPtr, ref, class uint32) error {
	msg, err := memory.ReadCString(c.mem, msgPtr)
	if ref == 0 {
		// without a reference the message belongs to the host
		c.alloc.Free(msgPtr)
	}
	if err != nil {
		return err
	}
	ge := &GuestError{Message: msg}
	if ref != 0 {
		ge.Exception = &Object{c: c, ref: ref, class: class}
	}
	c.log.Debug("guest exception", zap.String("message", msg), zap.Uint32("ref", ref))
	return ge
}
