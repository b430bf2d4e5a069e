// Package isolator bridges a host process and managed code running inside an isolated
// virtual machine.
//
// The host sends discrete invocation requests and receives serialized results, live
// object references, or exception information. Every guest-side failure, whether a
// missing type, a missing method, a thrown exception or a serializer failure, comes back
// as a well-defined result instead of crashing the host.
//
// # Architecture Overview
//
//	isolator/        Bridge composing the layers below
//	├── vm/          Contract the bridge needs from a managed runtime
//	├── managed/     In-process reference runtime implementing vm
//	├── codec/       Typeless CBOR serializer installed into the guest
//	├── reftable/    Cross-boundary reference table with pinning
//	├── resolve/     Type, method, descriptor and generic resolution
//	├── marshal/     Argument decoding and result encoding
//	├── invoke/      Invocation dispatcher
//	├── abi/         Linear-memory export surface (records, tokens, C strings)
//	├── memory/      Linear memory and allocator abstractions
//	├── client/      Host-side client over the exports
//	├── loader/      Assembly search hook and host sources
//	├── shim/        Upcall binding and host-side timer/callback scheduler
//	├── hostmod/     The upcalls as a wazero host module
//	├── config/      TOML configuration with environment overrides
//	└── errors/      Structured error types
//
// # Quick Start
//
//	b, err := isolator.New(isolator.WithConfig(cfg))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Close()
//
//	greeting, err := b.Call("App", "App.Greeter", "Greet", "World")
//
// # Handles
//
// Methods invoked through a client.Method may return a live object instead of a
// serialized copy:
//
//	greeter, _ := b.Class("App", "App.Greeter")
//	obj, _ := greeter.New()
//	defer obj.Release()
//
// References handed to the host belong to the host and must be released exactly once.
//
// # Callbacks
//
// The guest has no threads or timers. It asks the host for them through upcalls, and the
// host runs what is due with RunPending, or Run to wait for the last timer.
package isolator
