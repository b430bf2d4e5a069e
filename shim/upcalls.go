package shim

import (
	"go.uber.org/zap"

	"github.com/wippyai/isolator/errors"
	"github.com/wippyai/isolator/vm"
)

// Upcalls are the host services the guest runtime reaches through extern methods. It has
// no threads or timers of its own.
type Upcalls interface {
	// CallHost hands an opaque payload to the host and returns its reply.
	CallHost(payload []byte) ([]byte, error)
	// SetTimeout asks for a timer callback after ms milliseconds. A new request replaces
	// the previous one.
	SetTimeout(ms int32)
	// QueueCallback asks for a thread pool callback.
	QueueCallback()
}

// Host is a runtime that accepts internal call bindings.
type Host interface {
	vm.Runtime
	vm.InternalCalls
	// Throw builds a guest exception of the named class as an error.
	Throw(namespace, name, message string) error
}

// Bind registers up as the implementation of the runtime's upcall externs.
func Bind(rt Host, up Upcalls) {
	log := Logger()

	rt.AddInternalCall(vm.InternalCallHost, func(args []vm.Object) (vm.Object, error) {
		var payload []byte
		if len(args) > 0 && args[0] != nil {
			var ok bool
			if payload, ok = rt.Bytes(args[0]); !ok {
				return nil, rt.Throw("System", "ArgumentException",
					"CallHost expects a byte array, got "+vm.FullName(args[0].Class())+".")
			}
		}
		log.Debug("upcall", zap.String("name", "call_host"), zap.Int("bytes", len(payload)))
		reply, err := up.CallHost(payload)
		if err != nil {
			return nil, err
		}
		if reply == nil {
			return nil, nil
		}
		return rt.NewBytes(reply), nil
	})

	rt.AddInternalCall(vm.InternalSetTimeout, func(args []vm.Object) (vm.Object, error) {
		ms, err := int32Arg(args)
		if err != nil {
			return nil, err
		}
		log.Debug("upcall", zap.String("name", "set_timeout"), zap.Int32("ms", ms))
		up.SetTimeout(ms)
		return nil, nil
	})

	rt.AddInternalCall(vm.InternalQueueCallback, func([]vm.Object) (vm.Object, error) {
		log.Debug("upcall", zap.String("name", "queue_callback"))
		up.QueueCallback()
		return nil, nil
	})
}

func int32Arg(args []vm.Object) (int32, error) {
	if len(args) == 1 {
		if p, ok := args[0].(vm.Primitive); ok {
			if v, ok := p.Value().(int32); ok {
				return v, nil
			}
		}
	}
	return 0, errors.InvalidInput(errors.PhaseHost, "set_timeout expects one Int32 argument")
}
