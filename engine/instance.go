package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/strandio/strand"
	"github.com/strandio/strand/backoff"
	"github.com/strandio/strand/channel"
	"github.com/strandio/strand/id"
	"github.com/strandio/strand/middleware"
	"github.com/strandio/strand/sched"
)

// Instance is one run of a compiled program. All instance state is
// confined to the scheduler loop: step bodies execute on the loop, and
// every resume continuation defers onto it, so no locking is needed.
// Methods on Instance must be called from step bodies (or from
// continuations the instance handed out, which re-enter the loop on
// their own).
type Instance struct {
	id      id.InstanceID
	loop    *sched.Loop
	program *Program
	logger  *slog.Logger
	ctx     context.Context

	step int
	vars map[string]any

	frames       []frame
	caught       *frame // handler that most recently accepted an error
	cleanupStops []int  // end sentinels of cleanup bodies being unwound

	unwinding  bool
	pendingErr error
	results    []any

	// gen is the suspension generation. Every issued resume
	// continuation captures it and every accepted resumption bumps it,
	// so a late completion from a losing race branch is dropped instead
	// of corrupting a since-reused step slot.
	gen uint64

	done     strand.Continuation
	finished bool

	tables map[int]*JumpTable
	chain  middleware.Middleware
	mws    []middleware.Middleware
	retry  backoff.Strategy
}

// Option configures an Instance.
type Option func(*Instance)

// WithLogger sets the instance logger.
func WithLogger(logger *slog.Logger) Option {
	return func(in *Instance) { in.logger = logger }
}

// WithContext sets the context passed through the step middleware chain.
func WithContext(ctx context.Context) Option {
	return func(in *Instance) { in.ctx = ctx }
}

// WithMiddleware installs step middleware inside the engine's own
// recover guard, outermost first.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(in *Instance) { in.mws = append(in.mws, mws...) }
}

// WithRetryBackoff delays each Retry re-entry by the strategy's delay
// for the current attempt. Without it, Retry restarts immediately on
// the next turn.
func WithRetryBackoff(s backoff.Strategy) Option {
	return func(in *Instance) { in.retry = s }
}

// New creates an instance of p on the given loop. It does not run until
// Start is called.
func New(loop *sched.Loop, p *Program, opts ...Option) *Instance {
	in := &Instance{
		id:      id.NewInstanceID(),
		loop:    loop,
		program: p,
		logger:  slog.Default(),
		ctx:     context.Background(),
		vars:    make(map[string]any),
		tables:  make(map[int]*JumpTable),
	}
	for _, opt := range opts {
		opt(in)
	}

	// Panics in step bodies must never escape to the invoker; the
	// recover guard is always the outermost link of the chain.
	links := make([]middleware.Middleware, 0, len(in.mws)+1)
	links = append(links, middleware.Recover(in.logger))
	links = append(links, in.mws...)
	in.chain = middleware.Chain(links...)

	return in
}

// ID returns the instance identity.
func (in *Instance) ID() id.InstanceID { return in.id }

// Step returns the current step id.
func (in *Instance) Step() int { return in.step }

// Program returns the compiled program this instance executes.
func (in *Instance) Program() *Program { return in.program }

// Finished reports whether the terminal continuation has fired.
func (in *Instance) Finished() bool { return in.finished }

// ── Lifecycle ───────────────────────────────────────

// Start schedules step 1 with the given arguments for a later turn of
// the loop; the workflow never runs synchronously within the caller's
// frame. The terminal continuation fires exactly once, also on a later
// turn, with (error, results...).
func (in *Instance) Start(done strand.Continuation, args ...any) {
	in.done = done
	in.logger.Debug("instance started",
		slog.String("instance_id", in.id.String()),
		slog.String("program", in.program.Name),
		slog.String("program_id", in.program.ID().String()),
	)
	in.loop.Defer(func() {
		in.step = 1
		in.runStep(args)
	})
}

// ResumeAt schedules execution from an arbitrary step with the given
// variable bindings, for resuming a previously suspended instance (see
// the registry package).
func (in *Instance) ResumeAt(step int, vars Snapshot, done strand.Continuation) {
	in.done = done
	for k, v := range vars {
		in.vars[k] = v
	}
	in.loop.Defer(func() {
		in.step = step
		in.runStep(nil)
	})
}

// Callback is the single propagation and termination point.
//
// With a non-nil error it starts unwinding: every cleanup frame
// registered after the nearest accepting handler runs in reverse order,
// then control transfers to that handler's resume step with the error
// bound; with no handler left, the terminal continuation receives the
// error. With a nil error it runs all remaining cleanup frames and then
// invokes the terminal continuation with the given values (a single
// true if none were given).
//
// While a cleanup body is running during an unwind, Callback re-enters
// the unwind instead: a nil error marks the body complete, a non-nil
// error replaces the pending outcome and keeps unwinding outward.
func (in *Instance) Callback(err error, values ...any) {
	if in.finished {
		in.logger.Debug("callback after termination dropped",
			slog.String("instance_id", in.id.String()),
		)
		return
	}

	if in.unwinding {
		if err != nil {
			in.pendingErr = err
			in.results = nil
		}
		if n := len(in.cleanupStops); n > 0 {
			in.cleanupStops = in.cleanupStops[:n-1]
		}
		in.continueUnwind()
		return
	}

	in.gen++ // outstanding suspensions are now stale

	if err != nil {
		in.pendingErr = err
		in.results = nil
	} else {
		if len(values) == 0 {
			values = []any{true}
		}
		in.pendingErr = nil
		in.results = values
	}
	in.unwinding = true
	in.continueUnwind()
}

// continueUnwind pops frames until it transfers control (to a cleanup
// body or an accepting handler) or exhausts the stack and terminates.
func (in *Instance) continueUnwind() {
	for len(in.frames) > 0 {
		f := in.frames[len(in.frames)-1]
		in.frames = in.frames[:len(in.frames)-1]

		switch f.kind {
		case frameCleanupCall:
			in.invokeCleanup(f)

		case frameCleanupSteps:
			if f.snapshot != nil {
				in.RestoreStateVars(f.snapshot)
			}
			in.cleanupStops = append(in.cleanupStops, f.stop)
			in.step = f.start
			in.scheduleStep(nil)
			return

		case frameHandler:
			if in.pendingErr == nil {
				continue // success path: handler scope simply dissolves
			}
			if f.filter != nil && !f.filter(in.pendingErr) {
				continue // filter mismatch: skip without running, search outward
			}
			err := in.pendingErr
			in.pendingErr = nil
			in.unwinding = false
			in.cleanupStops = nil
			caught := f
			in.caught = &caught
			in.step = f.resume
			in.scheduleStep([]any{err})
			return
		}
	}

	in.unwinding = false
	in.cleanupStops = nil
	in.finish(in.pendingErr, in.results)
}

// invokeCleanup runs a deferred cleanup call with its captured
// arguments. A panic inside cleanup replaces the pending outcome and
// the unwind continues outward.
func (in *Instance) invokeCleanup(f frame) {
	defer func() {
		if r := recover(); r != nil {
			in.logger.Error("cleanup action panicked",
				slog.String("instance_id", in.id.String()),
				slog.Any("panic", r),
			)
			in.pendingErr = fmt.Errorf("strand: cleanup action panicked: %v", r)
			in.results = nil
		}
	}()
	f.fn(f.args...)
}

// finish fires the terminal continuation exactly once.
func (in *Instance) finish(err error, results []any) {
	if in.finished {
		return
	}
	in.finished = true
	in.gen++

	if err != nil {
		in.logger.Debug("instance failed",
			slog.String("instance_id", in.id.String()),
			slog.String("program", in.program.Name),
			slog.String("error", err.Error()),
		)
	} else {
		in.logger.Debug("instance completed",
			slog.String("instance_id", in.id.String()),
			slog.String("program", in.program.Name),
		)
	}

	done := in.done
	if done == nil {
		return
	}
	in.loop.Defer(func() {
		if err != nil {
			done(err)
			return
		}
		done(nil, results...)
	})
}

// ── Step dispatch ───────────────────────────────────

func (in *Instance) scheduleStep(args []any) {
	in.loop.Defer(func() { in.runStep(args) })
}

func (in *Instance) runStep(args []any) {
	if in.finished {
		return
	}

	// End of a cleanup body reached: resume the unwind instead of
	// executing the step the body falls through to.
	if in.unwinding {
		if n := len(in.cleanupStops); n > 0 && in.step == in.cleanupStops[n-1] {
			in.cleanupStops = in.cleanupStops[:n-1]
			in.continueUnwind()
			return
		}
	}

	fn := in.program.step(in.step)
	if fn == nil {
		in.Callback(fmt.Errorf("%w: step %d of %q", strand.ErrStepOutOfRange, in.step, in.program.Name))
		return
	}

	info := middleware.StepInfo{
		InstanceID: in.id,
		Program:    in.program.Name,
		Step:       in.step,
	}
	err := in.chain(in.ctx, info, func(context.Context) error {
		fn(in, args)
		return nil
	})
	if err != nil {
		in.Callback(err)
	}
}

// Goto transfers to the given step on the next turn: sequential
// advance, branch targets, and loop-back all come through here.
func (in *Instance) Goto(step int) {
	if in.finished {
		return
	}
	in.step = step
	in.scheduleStep(nil)
}

// ── Scoped handlers and cleanup ─────────────────────

// PushErrorStep registers a handler frame. atStep is the registration
// step (the protected region begins at the next step); resume is where
// control transfers with the error bound if this handler accepts. A nil
// filter accepts every error. Handlers declared for the same block must
// be pushed in reverse source order so the first-declared clause is
// found first.
func (in *Instance) PushErrorStep(atStep, resume int, filter ErrorFilter) {
	in.frames = append(in.frames, frame{
		kind:   frameHandler,
		id:     atStep,
		resume: resume,
		filter: filter,
	})
}

// PushCleanupStep registers a cleanup frame whose body is the step
// range [start, resumeAfter). Normal flow bypasses the body by jumping
// straight to resumeAfter; the engine executes it only while unwinding
// (on error, or at successful completion), most-recent-first.
func (in *Instance) PushCleanupStep(start, resumeAfter int) {
	in.frames = append(in.frames, frame{
		kind:  frameCleanupSteps,
		start: start,
		stop:  resumeAfter,
	})
}

// PushCleanupStepVars is PushCleanupStep with a variable snapshot that
// is restored just before the body runs. Use it for cleanup registered
// inside a loop, so each iteration's frame sees the values captured at
// its own registration rather than the final value of the live slot.
func (in *Instance) PushCleanupStepVars(start, resumeAfter int, snap Snapshot) {
	in.frames = append(in.frames, frame{
		kind:     frameCleanupSteps,
		start:    start,
		stop:     resumeAfter,
		snapshot: snap,
	})
}

// PushCleanupAction registers a deferred call with arguments captured
// now and invoked during unwinding.
func (in *Instance) PushCleanupAction(fn CleanupFunc, args ...any) {
	captured := make([]any, len(args))
	copy(captured, args)
	in.frames = append(in.frames, frame{
		kind: frameCleanupCall,
		fn:   fn,
		args: captured,
	})
}

// Phi marks a structural merge point: it retires the most recently
// registered handler frame, ending its scope. The transformer emits one
// Phi per handler declared in the block that is closing; cleanup
// frames deliberately survive their block and run only when unwinding
// passes through them.
func (in *Instance) Phi() {
	for i := len(in.frames) - 1; i >= 0; i-- {
		if in.frames[i].kind == frameHandler {
			in.frames = append(in.frames[:i], in.frames[i+1:]...)
			return
		}
	}
}

// Retry clears the current error and restarts the region protected by
// the handler that most recently accepted: the handler frame is
// re-armed and control returns to the step after its registration. With
// a retry backoff installed, re-entry is delayed by the strategy's
// delay for this attempt.
func (in *Instance) Retry() {
	if in.caught == nil {
		in.Callback(strand.ErrNoActiveHandler)
		return
	}

	in.caught.attempts++
	rearmed := *in.caught
	in.pendingErr = nil
	in.frames = append(in.frames, rearmed)
	in.step = rearmed.id + 1
	in.gen++

	if in.retry != nil {
		delay := in.retry.Delay(rearmed.attempts)
		in.logger.Debug("retrying protected region",
			slog.String("instance_id", in.id.String()),
			slog.Int("attempt", rearmed.attempts),
			slog.Duration("delay", delay),
		)
		in.loop.DeferAfter(delay, func() { in.runStep(nil) })
		return
	}
	in.scheduleStep(nil)
}

// ── Suspension and resumption ───────────────────────

// ThenTo produces the continuation to hand to one external asynchronous
// operation. When invoked it binds the delivered values and transfers
// to step; a delivered error enters normal propagation instead. Late or
// duplicate invocations (a losing race branch, a double-fired callback)
// are dropped via the generation token.
func (in *Instance) ThenTo(step int) strand.Continuation {
	gen := in.gen
	return func(err error, values ...any) {
		in.loop.Defer(func() {
			if in.finished || gen != in.gen {
				in.logger.Debug("stale resume dropped",
					slog.String("instance_id", in.id.String()),
					slog.Int("step", step),
				)
				return
			}
			in.gen++
			if err != nil {
				in.Callback(err)
				return
			}
			in.step = step
			in.runStep(values)
		})
	}
}

// ThenToWithErr is ThenTo for operations whose error the workflow wants
// to inspect: the error is bound as the first ordinary step argument
// instead of triggering propagation.
func (in *Instance) ThenToWithErr(step int) strand.Continuation {
	gen := in.gen
	return func(err error, values ...any) {
		in.loop.Defer(func() {
			if in.finished || gen != in.gen {
				in.logger.Debug("stale resume dropped",
					slog.String("instance_id", in.id.String()),
					slog.Int("step", step),
				)
				return
			}
			in.gen++
			in.step = step
			in.runStep(append([]any{err}, values...))
		})
	}
}

// Await suspends on any value implementing the Awaitable capability and
// resumes at next with the delivered value. Awaiting anything else is
// an engine-raised, catchable error.
func (in *Instance) Await(v any, next int) {
	a, ok := v.(strand.Awaitable)
	if !ok {
		in.Callback(fmt.Errorf("%w: %T", strand.ErrNotAwaitable, v))
		return
	}
	a.Take(in.ThenTo(next))
}

// Channel allocates a channel on the instance's loop, typically for use
// as a data-flow variable.
func (in *Instance) Channel() *channel.Channel {
	return channel.New(in.loop, channel.WithLogger(in.logger))
}

// Ensure checks the operands for unresolved data-flow variables. If all
// are resolved it returns true and the step proceeds with no suspension
// overhead. Otherwise it suspends the current step, re-entering at
// stepID once every unresolved operand has been filled, and returns
// false, in which case the step body must return immediately.
func (in *Instance) Ensure(stepID int, operands ...any) bool {
	var pending []strand.Future
	for _, op := range operands {
		if f, ok := op.(strand.Future); ok && !f.Resolved() {
			pending = append(pending, f)
		}
	}
	if len(pending) == 0 {
		return true
	}

	gen := in.gen
	remaining := len(pending)
	for _, f := range pending {
		// Channel takes deliver on the loop, so the countdown is
		// serialized with all other instance state.
		f.Take(func(error, ...any) {
			remaining--
			if remaining > 0 {
				return
			}
			if in.finished || gen != in.gen {
				return
			}
			in.gen++
			in.step = stepID
			in.runStep(nil)
		})
	}
	return false
}

// ── Variables ───────────────────────────────────────

// SetVar binds a named variable slot.
func (in *Instance) SetVar(name string, v any) { in.vars[name] = v }

// Var reads a named variable slot.
func (in *Instance) Var(name string) any { return in.vars[name] }

// CaptureStateVars copies the named variable slots (all slots if no
// names are given) into a stable snapshot.
func (in *Instance) CaptureStateVars(names ...string) Snapshot {
	snap := make(Snapshot)
	if len(names) == 0 {
		for k, v := range in.vars {
			snap[k] = v
		}
		return snap
	}
	for _, name := range names {
		snap[name] = in.vars[name]
	}
	return snap
}

// RestoreStateVars writes a snapshot's slots back over the live ones.
func (in *Instance) RestoreStateVars(snap Snapshot) {
	for k, v := range snap {
		in.vars[k] = v
	}
}

// Vars returns a copy of all variable slots, for suspension capture.
func (in *Instance) Vars() Snapshot { return in.CaptureStateVars() }
