// Package invoke runs host invocation requests against the guest runtime.
//
// A dispatch moves through fixed states:
//
//	DecodeArgs -> ResolveVirtualTarget -> Invoke -> ReleaseArgRefs -> SerializeResult -> Done
//
// Any state may divert to CaptureException, which releases the argument references that
// were created, stringifies the exception without letting a second failure escape, and
// returns a *marshal.Exception. With exception handles enabled (the default) the
// exception object is also handed to the host as a pinned reference.
//
// Argument references never outlive the request. Target and result references belong to
// the host, which releases them through the reference table.
package invoke
