// Package hostmod exposes the runtime upcalls to a wasm guest as a wazero host module.
//
// The module is named "isolator" and exports four functions:
//
//	call_host(ptr, len, result_ptr_out, result_len_out) i32
//	set_timeout(ms i32)
//	queue_callback()
//	request_assembly(name_ptr, name_len, bytes_ptr_out, len_out) i32
//
// Replies are copied into buffers allocated with the guest's own malloc export; the guest
// frees them. call_host returns 0 on success. request_assembly returns 1 when the host
// supplied the assembly and 0 when it did not, in which case nothing is allocated.
package hostmod
