package invoke

import (
	"github.com/wippyai/isolator/marshal"
	"github.com/wippyai/isolator/reftable"
	"github.com/wippyai/isolator/vm"
)

// State is one step of a dispatch. Steps run strictly in order; CaptureException can be
// entered from any of them and ends the dispatch.
type State uint8

const (
	StateDecodeArgs State = iota
	StateResolveVirtualTarget
	StateInvoke
	StateReleaseArgRefs
	StateSerializeResult
	StateDone
	StateCaptureException
)

var stateNames = [...]string{
	StateDecodeArgs:           "decode_args",
	StateResolveVirtualTarget: "resolve_virtual_target",
	StateInvoke:               "invoke",
	StateReleaseArgRefs:       "release_arg_refs",
	StateSerializeResult:      "serialize_result",
	StateDone:                 "done",
	StateCaptureException:     "capture_exception",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Request is one host invocation.
//
// A nil Method makes the request a fetch: the result is the target itself, encoded per
// Mode. Target 0 calls a static method.
type Request struct {
	Method vm.Method
	Args   [][]byte
	Target reftable.Ref
	Mode   marshal.Mode
}
