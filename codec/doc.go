// Package codec is the typeless object serializer shared by host and guest.
//
// Every payload is a CBOR array [typeName, value] with canonical encoding. Primitive values
// are native CBOR items, lists carry an array of nested payloads and instances of
// user-defined classes carry a map of field name to nested payload. The null payload is
// the single CBOR null byte, so a payload is never empty.
//
// The host side converts Go values with Marshal and Unmarshal. The guest side is the
// serializer class that Install defines in a managed runtime; the bridge resolves its
// Serialize and Deserialize<T> methods by coordinates and invokes them like any other
// guest method.
package codec
