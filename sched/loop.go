// Package sched provides the cooperative run loop that all strand
// continuations are delivered through.
//
// The loop is a single goroutine draining a FIFO task queue. Deferring
// a task guarantees it runs on a later turn, never inline within the
// call that scheduled it. Channels and engine instances schedule every
// continuation here, which is what makes execution single-threaded
// cooperative: two workflow instances interleave only at these yield
// points, and within one instance steps run in strict resumed order.
package sched

import (
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Task is one unit of deferred work.
type Task func()

// Loop is a single-goroutine cooperative scheduler. It is safe to call
// Defer and DeferAfter from any goroutine; the tasks themselves always
// execute serially on the loop goroutine.
type Loop struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []Task
	stopped bool
	done    chan struct{}
	logger  *slog.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger used for task panic reports.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// New creates a Loop and starts its goroutine immediately.
func New(opts ...Option) *Loop {
	l := &Loop{
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	for _, opt := range opts {
		opt(l)
	}

	go l.run()

	return l
}

// Defer schedules t for a later turn of the loop. It returns false if
// the loop has been stopped, in which case t will never run.
func (l *Loop) Defer(t Task) bool {
	if t == nil {
		return false
	}

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.tasks = append(l.tasks, t)
	l.mu.Unlock()

	l.cond.Signal()
	return true
}

// DeferAfter schedules t to run on the loop after d elapses. The
// returned cancel function stops the timer; it reports whether the
// task was cancelled before being scheduled.
func (l *Loop) DeferAfter(d time.Duration, t Task) (cancel func() bool) {
	timer := time.AfterFunc(d, func() {
		l.Defer(t)
	})
	return timer.Stop
}

// Pending returns the number of queued tasks. Intended for tests and
// diagnostics; the value is stale the moment it is returned.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// Stop drains already-queued tasks, then terminates the loop goroutine
// and blocks until it has exited. Tasks deferred after Stop are
// rejected. Stop is idempotent.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()

	l.cond.Broadcast()
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)

	for {
		l.mu.Lock()
		for len(l.tasks) == 0 && !l.stopped {
			l.cond.Wait()
		}
		if len(l.tasks) == 0 && l.stopped {
			l.mu.Unlock()
			return
		}
		t := l.tasks[0]
		l.tasks = l.tasks[1:]
		l.mu.Unlock()

		l.safeRun(t)
	}
}

// safeRun is the last-resort guard: a panicking task must not kill the
// loop, since every instance and channel in the process depends on it.
func (l *Loop) safeRun(t Task) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("scheduled task panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	t()
}
