package channel

import (
	"github.com/strandio/strand"
)

// Combinators derive new channels from a source. Their pull loops
// re-enter through the scheduler rather than recursing, so arbitrarily
// long streams run in bounded stack depth. A nil value is the stream
// terminator: transforms emit it when their condition fails, and Merge
// detaches a source that yields it.

// Cond gates a pull loop. A nil Cond means "run forever".
type Cond func(value any) bool

// fault extracts the error carried by a taken value, if any. Errors
// travel either in the continuation's error slot or wrapped in a
// Tagged record produced by a Receive adapter.
func fault(err error, v any) error {
	if err != nil {
		return err
	}
	if tv, ok := v.(Tagged); ok && tv.Err != nil {
		return tv.Err
	}
	return nil
}

// TakeN reads exactly n values in arrival order and delivers them to
// cont as one ordered []any. On any read error it halts immediately and
// signals the error without the partial batch.
func (c *Channel) TakeN(n int, cont strand.Continuation) {
	if n <= 0 {
		c.signal(cont, nil, []any{})
		return
	}

	acc := make([]any, 0, n)
	var step strand.Continuation
	step = func(err error, values ...any) {
		var v any
		if len(values) > 0 {
			v = values[0]
		}
		if ferr := fault(err, v); ferr != nil {
			cont(ferr)
			return
		}
		acc = append(acc, v)
		if len(acc) == n {
			cont(nil, acc)
			return
		}
		c.Take(step)
	}
	c.Take(step)
}

// Group returns a derived channel that buffers every n consecutive
// values from c into one ordered []any.
func (c *Channel) Group(n int) *Channel {
	out := New(c.loop, WithLogger(c.logger))

	var pump func()
	pump = func() {
		c.TakeN(n, func(err error, values ...any) {
			if err != nil {
				out.Put(Tagged{Err: err}, nil)
				return
			}
			out.Put(values[0], func(error, ...any) { pump() })
		})
	}
	c.loop.Defer(pump)

	return out
}

// Map returns a derived channel carrying f(v) for every v taken from c
// while cond holds. When cond fails (or a read error arrives) the
// derived channel receives a nil terminator and the pull loop stops.
func (c *Channel) Map(cond Cond, f func(any) any) *Channel {
	out := New(c.loop, WithLogger(c.logger))

	var pump func()
	pump = func() {
		c.Take(func(err error, values ...any) {
			var v any
			if len(values) > 0 {
				v = values[0]
			}
			if fault(err, v) != nil || (cond != nil && !cond(v)) {
				out.Put(nil, nil)
				return
			}
			out.Put(f(v), func(error, ...any) { c.loop.Defer(pump) })
		})
	}
	c.loop.Defer(pump)

	return out
}

// Filter returns a derived channel carrying the values of c for which
// keep returns true, while cond holds. Terminates like Map.
func (c *Channel) Filter(cond Cond, keep func(any) bool) *Channel {
	out := New(c.loop, WithLogger(c.logger))

	var pump func()
	pump = func() {
		c.Take(func(err error, values ...any) {
			var v any
			if len(values) > 0 {
				v = values[0]
			}
			if fault(err, v) != nil || (cond != nil && !cond(v)) {
				out.Put(nil, nil)
				return
			}
			if !keep(v) {
				c.loop.Defer(pump)
				return
			}
			out.Put(v, func(error, ...any) { c.loop.Defer(pump) })
		})
	}
	c.loop.Defer(pump)

	return out
}

// Reduce folds the values of c with f while cond holds, starting from
// initial. When cond fails, the derived channel receives the fold
// result followed by a nil terminator.
func (c *Channel) Reduce(initial any, cond Cond, f func(acc, v any) any) *Channel {
	out := New(c.loop, WithLogger(c.logger))
	acc := initial

	var pump func()
	pump = func() {
		c.Take(func(err error, values ...any) {
			var v any
			if len(values) > 0 {
				v = values[0]
			}
			if fault(err, v) != nil || (cond != nil && !cond(v)) {
				out.Put(acc, func(error, ...any) {
					out.Put(nil, nil)
				})
				return
			}
			acc = f(acc, v)
			c.loop.Defer(pump)
		})
	}
	c.loop.Defer(pump)

	return out
}

// Stream feeds each element of seq into the channel, backpressured:
// element n+1 is offered only after element n has been accepted. Once
// every element has been accepted, cont (if given) is signaled with the
// element count.
func (c *Channel) Stream(seq []any, cont strand.Continuation) {
	i := 0
	var next func(error, ...any)
	next = func(error, ...any) {
		if i == len(seq) {
			c.signal(cont, nil, len(seq))
			return
		}
		v := seq[i]
		i++
		c.Put(v, next)
	}
	c.loop.Defer(func() { next(nil) })
}
