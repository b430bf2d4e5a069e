// Package managed is an in-process managed runtime implementing the vm contract.
//
// It models what the bridge relies on from an embedded VM: a class hierarchy with virtual
// dispatch, generic definitions inflated on demand, boxed value types addressed by interior
// pointers, a relocating heap whose pinned objects stay put, guest exceptions, internal
// calls and an assembly loader with search hooks.
//
// # Defining Types
//
//	rt := managed.New()
//	asm := rt.DefineAssembly("App")
//	greeter := asm.DefineClass("App", "Greeter")
//	greeter.DefineMethod("Greet", []*managed.Class{rt.Types().String},
//	    func(c *managed.Call) (*managed.Object, error) {
//	        return c.Runtime.NewString("Hello, " + c.Args[0].Value().(string)), nil
//	    }, managed.Static())
//
// # Images
//
// Assemblies can also be shipped as images (see Image and EncodeImage) and loaded through
// OpenImage and LoadImage. Images carry metadata only; method bodies are bound by key to
// intrinsics registered with RegisterIntrinsic, or to internal calls.
//
// # Relocation
//
// Compact moves every unpinned object. WithStressCompaction compacts before every
// invocation, which turns a missing pin on an unboxed argument into an immediate
// System.AccessViolationException.
//
// Compaction does not free memory. Collect drops objects unreachable from the roots the
// embedder passes, pinned objects and cached reflection objects.
//
// # Scheduling
//
// The runtime has no threads. SetTimer and QueueWork record work and call the extern
// methods TimerQueue.SetTimeout and ThreadPool.QueueCallback; the embedder binds these to
// host upcalls and later invokes TimerQueue.TimeoutCallback or ThreadPool.Callback.
package managed
