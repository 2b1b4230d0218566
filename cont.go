package strand

// Continuation delivers one asynchronous outcome. The error is non-nil
// exactly on failure; callers must check it before using the values.
// Every operation a workflow awaits completes through this shape, and
// the engine's own resume continuations conform to it, so any external
// operation obeying the convention can be awaited without adapters.
//
// A Continuation fires at most once per suspension. The engine enforces
// this with a per-suspension generation token: late deliveries from a
// losing race branch are dropped rather than corrupting a since-reused
// step slot.
type Continuation func(err error, values ...any)

// Awaitable is the capability a value must implement for the engine to
// await it. Channels implement it; so does anything else that can
// deliver exactly one (err, value) pair to a reader.
type Awaitable interface {
	// Take registers cont to receive the next value. The continuation
	// is invoked on a later scheduler turn, never inline.
	Take(cont Continuation)
}

// Future is an Awaitable single-assignment source. A data-flow variable
// is a Future: reads before resolution suspend, and once resolved every
// current and future reader receives the same value.
type Future interface {
	Awaitable

	// Resolved reports whether the value has been fixed.
	Resolved() bool

	// Value returns the fixed value. The second result is false until
	// the future resolves.
	Value() (any, bool)
}
