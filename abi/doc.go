// Package abi is the host-facing wire surface of the bridge.
//
// Everything crosses as little-endian u32 values in linear memory: classes and methods as
// tokens, objects as references, strings as NUL-terminated UTF-8 and argument buffers in
// the length-prefixed form read by marshal.ParseArg. An invocation is described by a
// nine-field Record that the host fills and the bridge completes in place.
//
// Ownership follows a single rule: whatever the host passes in (strings, pointer arrays)
// the bridge frees once read, argument buffers and records excepted; whatever the bridge
// hands back is freed when the reference it belongs to is released.
package abi
