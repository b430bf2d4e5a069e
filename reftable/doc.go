// Package reftable provides the cross-boundary reference table.
//
// References are opaque handles for guest objects handed to the host. The host owns a
// reference from the moment it receives it and must release it exactly once.
//
// # Reference Lifecycle
//
//	refs := reftable.New()
//
//	// Keep an object alive for the host
//	ref := refs.Create(obj, false)
//
//	// Keep an object alive and at a stable address (unboxed values, result buffers)
//	pinned := refs.Create(buf, true)
//
//	obj := refs.Resolve(ref)
//	refs.Release(ref)
//
// # Pinning
//
// Pinning is requested whenever a holder keeps a raw address into the object's storage.
// When the table is built WithPinner, pinned references pin their object in the runtime
// collector until released; other references leave the object free to move.
//
// # Contract
//
// Double release and resolve-after-release are undefined. Tables built WithDebug(true)
// detect both and panic with an errors.KindContractViolation error:
//
//	refs := reftable.New(reftable.WithDebug(true))
//
// Slots are reused, but every Ref carries the slot generation, so a stale Ref is detected
// even after its slot holds another object.
//
// # Observers
//
// Subscribe to lifecycle events, e.g. to assert that transient argument references are
// released before a request ends:
//
//	stop := refs.Subscribe(reftable.ObserverFunc(func(e reftable.Event) {
//	    log.Printf("%s %d", e.Type, e.Ref)
//	}))
//	defer stop()
package reftable
