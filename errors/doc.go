// Package errors provides structured error types for the isolator bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the guest coordinates involved (assembly, namespace, type,
// member) so resolution diagnostics name the exact missing component.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseResolve, errors.KindMethodNotFound).
//		Type("App.Greetings", "Greeter").
//		Member("Greet").
//		Detail("no overload takes 3 parameters").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.AssemblyNotFound("App")
//	err := errors.TypeNotFound("App", "App.Greetings", "Greeter")
//
// Resolution errors are returned as values. Guest failures never surface as Go errors
// past the dispatcher; they become exception results. Contract violations are raised
// only by a debug reference table, as panics carrying a KindContractViolation error.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
