// Package client drives a bridge from the host.
//
// A Client works against any Guest: *abi.Exports when the bridge runs in process, or a
// WazeroGuest wrapping a wasm instance that exports the isolator_* functions. Lookups are
// cached by name. Arguments are Go values serialized with codec, or *Object to pass a live
// reference. Serialized results are decoded and their guest buffers released immediately;
// handle results and exception objects are owned by the caller until released.
//
//	greeter, _ := c.Class("App", "NS", "Greeter")
//	greet, _ := greeter.Method("Greet", 1)
//	s, err := client.Call[string](greet, nil, "World")
package client
