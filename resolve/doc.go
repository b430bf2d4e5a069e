// Package resolve turns host-supplied names into runtime type and method references.
//
// Lookups fail with a structured *errors.Error rather than a nil result without context:
// a missing assembly reports KindAssemblyNotFound, a missing type inside a loaded assembly
// reports KindTypeNotFound, and a missing member reports KindMethodNotFound, each naming the
// exact component that could not be found.
//
// # Descriptors
//
// Overloads that share a name and arity are selected with a method descriptor:
//
//	App.Greetings.Greeter:Greet(string,int)
//	*:Main()
//
// The namespace prefix is only honored when the caller asks for it; "*" matches any type in
// the searched assembly.
//
// # Generics
//
// InstantiateGenericType and InstantiateGenericMethod return nil when the arguments do not
// fit the definition. A mismatch is an ordinary outcome for the host, not a failure.
//
// # Serializer
//
// The guest-resident serializer is located at fixed coordinates (vm.DefaultSerializer unless
// configured) and memoized after the first successful lookup.
package resolve
