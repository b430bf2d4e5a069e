// Package shim connects the guest runtime's scheduling and host-call externs to the host.
//
// The guest has no threads or timers. When its timer queue or thread pool needs to run
// something it calls an extern (SetTimeout, QueueCallback) and the host decides when to
// come back. Bind routes those externs to an Upcalls implementation.
//
// Scheduler is the host-side Upcalls. It only records requests; nothing runs until the
// host calls RunPending (or Run), and a run never starts while another one is active.
package shim
