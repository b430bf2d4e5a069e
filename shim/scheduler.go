package shim

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/isolator/errors"
	"github.com/wippyai/isolator/resolve"
	"github.com/wippyai/isolator/vm"
)

// Callbacks re-enter the guest to run what it asked the host to schedule.
type Callbacks interface {
	FireTimers() error
	DrainQueue() error
}

// GuestCallbacks calls the runtime's TimerQueue.TimeoutCallback and ThreadPool.Callback.
type GuestCallbacks struct {
	rt     vm.Runtime
	timers vm.Method
	work   vm.Method
}

// NewGuestCallbacks looks up the callback entry points in the core assembly.
func NewGuestCallbacks(r *resolve.Resolver) (*GuestCallbacks, error) {
	timers, err := staticMethod(r, "System.Threading", "TimerQueue", "TimeoutCallback")
	if err != nil {
		return nil, err
	}
	work, err := staticMethod(r, "System.Threading", "ThreadPool", "Callback")
	if err != nil {
		return nil, err
	}
	return &GuestCallbacks{rt: r.Runtime(), timers: timers, work: work}, nil
}

func staticMethod(r *resolve.Resolver, namespace, typeName, name string) (vm.Method, error) {
	c, err := r.LookupType(vm.CoreAssembly, namespace, typeName)
	if err != nil {
		return nil, err
	}
	return r.LookupMethod(c, name, 0)
}

// FireTimers runs the guest's due timers.
func (g *GuestCallbacks) FireTimers() error {
	_, err := g.rt.Invoke(g.timers, nil, nil)
	return err
}

// DrainQueue runs the guest's queued work items.
func (g *GuestCallbacks) DrainQueue() error {
	_, err := g.rt.Invoke(g.work, nil, nil)
	return err
}

// Scheduler is the host side of the upcalls. It records timer and callback requests and
// runs them only when the host calls RunPending, never while a run is already active.
type Scheduler struct {
	guest   Callbacks
	handler func(payload []byte) ([]byte, error)
	now     func() time.Time
	log     *zap.Logger

	deadline time.Time
	armed    bool
	queued   int
	busy     bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithHostHandler sets the CallHost handler.
func WithHostHandler(fn func(payload []byte) ([]byte, error)) SchedulerOption {
	return func(s *Scheduler) { s.handler = fn }
}

// WithLogger overrides the package logger.
func WithLogger(l *zap.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// NewScheduler creates a scheduler that re-enters the guest through guest.
func NewScheduler(guest Callbacks, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		guest: guest,
		now:   time.Now,
		log:   Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CallHost passes payload to the host handler. Without a handler the reply is empty.
func (s *Scheduler) CallHost(payload []byte) ([]byte, error) {
	if s.handler == nil {
		return nil, nil
	}
	return s.handler(payload)
}

// SetTimeout arms the timer ms milliseconds from now.
func (s *Scheduler) SetTimeout(ms int32) {
	if ms < 0 {
		ms = 0
	}
	s.deadline = s.now().Add(time.Duration(ms) * time.Millisecond)
	s.armed = true
}

// QueueCallback records a thread pool callback request.
func (s *Scheduler) QueueCallback() {
	s.queued++
}

// Pending reports whether any callback is waiting, due or not.
func (s *Scheduler) Pending() bool {
	return s.queued > 0 || s.armed
}

// NextDeadline returns when the armed timer is due.
func (s *Scheduler) NextDeadline() (time.Time, bool) {
	return s.deadline, s.armed
}

// Busy reports whether a run is in progress.
func (s *Scheduler) Busy() bool { return s.busy }

// RunPending runs queued callbacks, then the timer callback if it is due. It returns how
// many guest callbacks ran. Calling it from inside a callback fails with KindReentrant.
func (s *Scheduler) RunPending() (int, error) {
	if s.busy {
		return 0, errors.New(errors.PhaseHost, errors.KindReentrant).
			Detail("scheduler is already running callbacks").
			Build()
	}
	s.busy = true
	defer func() { s.busy = false }()

	ran := 0
	for s.queued > 0 {
		s.queued = 0
		ran++
		if err := s.guest.DrainQueue(); err != nil {
			return ran, errors.Wrap(errors.PhaseHost, errors.KindGuestException, err, "thread pool callback")
		}
	}

	if s.armed && !s.now().Before(s.deadline) {
		s.armed = false
		ran++
		if err := s.guest.FireTimers(); err != nil {
			return ran, errors.Wrap(errors.PhaseHost, errors.KindGuestException, err, "timer callback")
		}
	}

	if ran > 0 {
		s.log.Debug("callbacks ran", zap.Int("count", ran), zap.Bool("timer_armed", s.armed))
	}
	return ran, nil
}

// Run keeps running callbacks until nothing is pending, sleeping until the timer is due
// when that is all that is left.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if _, err := s.RunPending(); err != nil {
			return err
		}
		if s.queued > 0 {
			continue
		}
		if !s.armed {
			return nil
		}
		wait := s.deadline.Sub(s.now())
		if wait <= 0 {
			continue
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
