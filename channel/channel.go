// Package channel implements the asynchronous rendezvous queue strand
// workflows coordinate through, plus the combinators built on top of it
// (map, filter, reduce, group, merge, fanout, buffering and timing
// variants).
//
// A Channel keeps two mutually exclusive queues: buffered values with
// their put-completion continuations, and waiting reader continuations.
// Any pairing opportunity is resolved immediately, so the two queues
// are never simultaneously non-empty. All continuation delivery goes
// through the scheduler loop, never inline; the per-channel mutex only
// guards the O(1) enqueue/pair step.
package channel

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/strandio/strand"
	"github.com/strandio/strand/id"
	"github.com/strandio/strand/sched"
)

// Compile-time capability checks: channels are awaitable futures.
var (
	_ strand.Awaitable = (*Channel)(nil)
	_ strand.Future    = (*Channel)(nil)
)

// Tagged is the record produced by Receive adapters and by Merge: an
// externally delivered (error, value) outcome labeled with the source
// it came from.
type Tagged struct {
	Tag   any
	Err   error
	Value any
}

// overflowPolicy selects what Put does once the buffer window is full.
type overflowPolicy uint8

const (
	overflowBlock  overflowPolicy = iota // completion waits for a reader
	overflowDrop                         // newest put is discarded
	overflowExpire                       // oldest queued values are evicted
)

// putEntry is one queued value awaiting a reader. cont is nil once the
// put's completion continuation has been signaled (or was never given).
type putEntry struct {
	value any
	cont  strand.Continuation
}

// Channel is an asynchronous FIFO rendezvous queue. The zero value is
// not usable; construct with New.
type Channel struct {
	loop   *sched.Loop
	id     id.ChannelID
	logger *slog.Logger

	mu      sync.Mutex
	values  []putEntry
	acked   int // leading values whose put continuations were already signaled
	readers []strand.Continuation

	filled    bool
	fillValue any

	capacity int
	overflow overflowPolicy
	limiter  *rate.Limiter // debounce admission; nil = off
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the channel's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) { c.logger = logger }
}

// WithBuffer lets the first n puts complete immediately; puts beyond a
// backlog of n wait for a reader.
func WithBuffer(n int) Option {
	return func(c *Channel) {
		c.capacity = n
		c.overflow = overflowBlock
	}
}

// WithDroppingBuffer never blocks a put: once the backlog reaches n,
// further puts are silently discarded.
func WithDroppingBuffer(n int) Option {
	return func(c *Channel) {
		c.capacity = n
		c.overflow = overflowDrop
	}
}

// WithExpiringBuffer never blocks a put: once the backlog reaches n,
// the oldest queued values are evicted to make room for the newest.
func WithExpiringBuffer(n int) Option {
	return func(c *Channel) {
		c.capacity = n
		c.overflow = overflowExpire
	}
}

// WithDebounce drops any put arriving within d of the previously
// accepted put.
func WithDebounce(d time.Duration) Option {
	return func(c *Channel) {
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// New creates a rendezvous channel on the given loop. Buffering and
// debounce behaviour are selected with options.
func New(loop *sched.Loop, opts ...Option) *Channel {
	c := &Channel{
		loop:   loop,
		id:     id.NewChannelID(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the channel's identity.
func (c *Channel) ID() id.ChannelID { return c.id }

// Loop returns the scheduler loop this channel delivers on.
func (c *Channel) Loop() *sched.Loop { return c.loop }

// signal delivers (err, values) to cont on a later loop turn.
func (c *Channel) signal(cont strand.Continuation, err error, values ...any) {
	if cont == nil {
		return
	}
	c.loop.Defer(func() { cont(err, values...) })
}

// Take pairs with a queued value if one is present, signaling both the
// original put's completion continuation and cont with that value in
// arrival order. With nothing queued, cont is enqueued as a waiting
// reader.
func (c *Channel) Take(cont strand.Continuation) {
	c.mu.Lock()

	if c.filled {
		v := c.fillValue
		c.mu.Unlock()
		c.signal(cont, nil, v)
		return
	}

	if len(c.values) == 0 {
		c.readers = append(c.readers, cont)
		c.mu.Unlock()
		return
	}

	e := c.values[0]
	c.values = c.values[1:]

	consumedAcked := c.acked > 0
	if consumedAcked {
		c.acked--
	}

	// Taking a value frees one slot of the buffer window: ack puts that
	// just moved inside it.
	var promoted []putEntry
	for c.overflow == overflowBlock && c.acked < c.capacity && c.acked < len(c.values) {
		p := &c.values[c.acked]
		if p.cont != nil {
			promoted = append(promoted, *p)
			p.cont = nil
		}
		c.acked++
	}
	c.mu.Unlock()

	if !consumedAcked {
		c.signal(e.cont, nil, e.value)
	}
	c.signal(cont, nil, e.value)
	for _, p := range promoted {
		c.signal(p.cont, nil, p.value)
	}
}

// Put pairs with a waiting reader if one is present, or else queues the
// value. The optional completion continuation is signaled with the value
// once it is consumed (immediately, for puts accepted inside a buffer
// window or by a never-blocking buffer variant).
func (c *Channel) Put(value any, cont strand.Continuation) {
	c.mu.Lock()

	if c.filled {
		v := c.fillValue
		c.mu.Unlock()
		c.signal(cont, nil, v)
		return
	}

	if c.limiter != nil && !c.limiter.Allow() {
		// Debounced: drop, but still complete the put so no caller hangs.
		c.mu.Unlock()
		c.signal(cont, nil, value)
		return
	}

	if len(c.readers) > 0 {
		r := c.readers[0]
		c.readers = c.readers[1:]
		c.mu.Unlock()
		c.signal(cont, nil, value)
		c.signal(r, nil, value)
		return
	}

	switch c.overflow {
	case overflowDrop:
		if len(c.values) >= c.capacity {
			c.mu.Unlock()
			c.signal(cont, nil, value)
			return
		}
		// Never-blocking variant: complete now, queue without a pending cont.
		c.values = append(c.values, putEntry{value: value})
		c.acked++
		c.mu.Unlock()
		c.signal(cont, nil, value)
		return

	case overflowExpire:
		for c.capacity > 0 && len(c.values) >= c.capacity {
			c.values = c.values[1:]
			c.acked--
		}
		c.values = append(c.values, putEntry{value: value})
		c.acked++
		c.mu.Unlock()
		c.signal(cont, nil, value)
		return
	}

	// Blocking policy: ack immediately while inside the buffer window.
	if len(c.values) < c.capacity {
		c.values = append(c.values, putEntry{value: value})
		c.acked++
		c.mu.Unlock()
		c.signal(cont, nil, value)
		return
	}

	c.values = append(c.values, putEntry{value: value, cont: cont})
	c.mu.Unlock()
}

// Receive returns an adapter continuation that wraps an externally
// produced (error, value) outcome into a Tagged record and puts it on
// the channel. Use it to fan the results of N independent operations
// into one channel.
func (c *Channel) Receive(tag any) strand.Continuation {
	return func(err error, values ...any) {
		var v any
		if len(values) > 0 {
			v = values[0]
		}
		c.Put(Tagged{Tag: tag, Err: err, Value: v}, nil)
	}
}

// Backlog returns the signed count of unmatched traffic: positive for
// unread values, negative for unmet readers. It is never both, since
// pairing happens eagerly.
func (c *Channel) Backlog() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.values) - len(c.readers)
}

// Fill switches the channel to constant-source mode: every current and
// future take receives value immediately, and every put becomes a no-op
// that still signals value to its continuation. This is the resolution
// mechanism for data-flow variables. The first Fill wins; later calls
// return false and change nothing.
func (c *Channel) Fill(value any) bool {
	c.mu.Lock()
	if c.filled {
		c.mu.Unlock()
		return false
	}
	c.filled = true
	c.fillValue = value

	readers := c.readers
	c.readers = nil

	// Pending puts resolve to the fill value too; their queued values
	// are discarded.
	var pending []strand.Continuation
	for i := c.acked; i < len(c.values); i++ {
		if c.values[i].cont != nil {
			pending = append(pending, c.values[i].cont)
		}
	}
	c.values = nil
	c.acked = 0
	c.mu.Unlock()

	for _, r := range readers {
		c.signal(r, nil, value)
	}
	for _, p := range pending {
		c.signal(p, nil, value)
	}
	return true
}

// Resolved reports whether Fill has fixed the channel's value.
func (c *Channel) Resolved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filled
}

// Value returns the fill value; the second result is false until the
// channel is resolved.
func (c *Channel) Value() (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fillValue, c.filled
}
