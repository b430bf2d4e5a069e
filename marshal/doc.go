// Package marshal moves values across the host boundary.
//
// Arguments arrive as length-prefixed buffers. A non-empty payload is handed to the guest
// serializer's Deserialize<T>, with T taken from the declared parameter type. A zero length
// means the next four bytes name a live reference, which is passed through as is.
//
// Every decoded argument gets a transient reference so the dispatcher can release them
// uniformly. Value-type parameters are passed as interior pointers; their references are
// pinned so the runtime cannot relocate the storage while the call runs.
//
// Results are a closed set of three shapes: *Serialized, *Handle and *Exception. Both
// Serialized and Handle hand a pinned reference to the host, which owns it from then on.
package marshal
