package managed

import (
	"sort"

	"github.com/wippyai/isolator/vm"
)

// Internal call names the runtime expects the embedder to bind.
const (
	InternalSetTimeout    = vm.InternalSetTimeout
	InternalQueueCallback = vm.InternalQueueCallback
	InternalCallHost      = vm.InternalCallHost
)

type timer struct {
	due int64
	seq int
	fn  func() error
}

// The runtime has no threads of its own. Timers and work items are queued here and the
// host is asked, through extern methods, to come back and run them.
func (r *Runtime) defineThreading() {
	t := &r.types

	timerQueue := r.core.DefineClass("System.Threading", "TimerQueue")
	timerQueue.DefineMethod("SetTimeout", []*Class{t.Int32}, nil, Static(), Extern(InternalSetTimeout))
	timerQueue.DefineMethod("TimeoutCallback", nil, func(c *Call) (*Object, error) {
		return nil, r.runTimers()
	}, Static())

	pool := r.core.DefineClass("System.Threading", "ThreadPool")
	pool.DefineMethod("QueueCallback", nil, nil, Static(), Extern(InternalQueueCallback))
	pool.DefineMethod("Callback", nil, func(c *Call) (*Object, error) {
		return nil, r.runWork()
	}, Static())

	interop := r.core.DefineClass("Isolator.Guest", "Interop")
	interop.DefineMethod("CallHost", []*Class{t.Bytes}, nil, Static(), Extern(InternalCallHost))
}

// SetTimer schedules fn to run delayMs after now on the host's clock. The host is asked
// for a callback at the earliest due time.
func (r *Runtime) SetTimer(delayMs int32, fn func() error) error {
	if delayMs < 0 {
		delayMs = 0
	}
	r.timers = append(r.timers, timer{due: int64(delayMs), seq: len(r.timers), fn: fn})
	earliest := r.timers[0].due
	for _, tm := range r.timers {
		if tm.due < earliest {
			earliest = tm.due
		}
	}
	return r.callStatic("System.Threading.TimerQueue", "SetTimeout", r.NewInt32(int32(earliest)))
}

// QueueWork queues fn and asks the host to call back into the thread pool.
func (r *Runtime) QueueWork(fn func() error) error {
	r.work = append(r.work, fn)
	return r.callStatic("System.Threading.ThreadPool", "QueueCallback")
}

// CallHost sends payload to the host and returns its reply.
func (r *Runtime) CallHost(payload []byte) ([]byte, error) {
	m := r.staticMethod("Isolator.Guest.Interop", "CallHost", 1)
	res, err := r.invoke(m, nil, []*Object{r.NewBytes(payload).(*Object)})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	b, _ := r.Bytes(res)
	return b, nil
}

// PendingTimers returns the number of timers not yet fired.
func (r *Runtime) PendingTimers() int { return len(r.timers) }

// PendingWork returns the number of queued work items.
func (r *Runtime) PendingWork() int { return len(r.work) }

// runTimers fires all pending timers in due order. The host owns the clock, so a
// callback means every requested deadline has passed.
func (r *Runtime) runTimers() error {
	due := r.timers
	r.timers = nil
	sort.SliceStable(due, func(i, j int) bool {
		if due[i].due != due[j].due {
			return due[i].due < due[j].due
		}
		return due[i].seq < due[j].seq
	})
	for _, tm := range due {
		if err := tm.fn(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) runWork() error {
	work := r.work
	r.work = nil
	for _, fn := range work {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) staticMethod(typeName, name string, arity int) *Method {
	c := r.FindClass(typeName)
	if c == nil {
		return nil
	}
	m, _ := c.FindMethod(name, arity).(*Method)
	return m
}

func (r *Runtime) callStatic(typeName, name string, args ...*Object) error {
	m := r.staticMethod(typeName, name, len(args))
	if m == nil {
		return r.Throw("System", "MissingMethodException", typeName+"::"+name)
	}
	_, err := r.invoke(m, nil, args)
	return err
}
