package channel

import (
	"log/slog"
	"sync"

	"github.com/strandio/strand/id"
	"github.com/strandio/strand/sched"
)

// Merge returns a channel relaying every value from any source, wrapped
// in a Tagged record whose Tag is the source's index. Per-source order
// is preserved (each source is pulled again only after its previous
// value was consumed downstream); cross-source interleaving is
// first-ready-wins. A source is detached once it yields a nil
// terminator; a source read error is relayed as a Tagged record with
// Err set and the source is then detached.
func Merge(loop *sched.Loop, sources ...*Channel) *Channel {
	out := New(loop)

	for i, src := range sources {
		idx, ch := i, src
		var pump func()
		pump = func() {
			ch.Take(func(err error, values ...any) {
				var v any
				if len(values) > 0 {
					v = values[0]
				}
				if ferr := fault(err, v); ferr != nil {
					out.Put(Tagged{Tag: idx, Err: ferr}, nil)
					return
				}
				if v == nil {
					return
				}
				out.Put(Tagged{Tag: idx, Value: v}, func(error, ...any) {
					loop.Defer(pump)
				})
			})
		}
		loop.Defer(pump)
	}

	return out
}

// Fanout continuously copies every value taken from a source channel to
// all currently connected subscriber channels. There is no
// per-subscriber buffering beyond the subscriber channel's own policy:
// late subscribers miss earlier values.
type Fanout struct {
	loop   *sched.Loop
	src    *Channel
	logger *slog.Logger

	mu      sync.Mutex
	subs    map[string]*Channel
	running bool
}

// Fanout creates a fanout over the channel. Call Start to begin copying.
func (c *Channel) Fanout() *Fanout {
	return &Fanout{
		loop:   c.loop,
		src:    c,
		logger: c.logger,
		subs:   make(map[string]*Channel),
	}
}

// Subscribe creates a new subscriber channel with the given options,
// connects it, and returns it along with its subscriber ID.
func (f *Fanout) Subscribe(opts ...Option) (id.SubscriberID, *Channel) {
	ch := New(f.loop, opts...)
	sid := id.NewSubscriberID()

	f.mu.Lock()
	f.subs[sid.String()] = ch
	f.mu.Unlock()

	return sid, ch
}

// Connect attaches an existing channel as a subscriber.
func (f *Fanout) Connect(ch *Channel) id.SubscriberID {
	sid := id.NewSubscriberID()
	f.mu.Lock()
	f.subs[sid.String()] = ch
	f.mu.Unlock()
	return sid
}

// Unsubscribe disconnects a subscriber. Values already queued on its
// channel remain takeable.
func (f *Fanout) Unsubscribe(sid id.SubscriberID) {
	f.mu.Lock()
	delete(f.subs, sid.String())
	f.mu.Unlock()
}

// Subscribers returns the current subscriber count.
func (f *Fanout) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Start begins the copy loop: each value taken from the source is put
// on every connected subscriber channel. Idempotent while running.
func (f *Fanout) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.mu.Unlock()

	f.loop.Defer(f.pump)
}

// Stop halts the copy loop after the in-flight take, if any, completes.
// The fanout can be started again later; values arriving while stopped
// queue on the source.
func (f *Fanout) Stop() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
}

func (f *Fanout) pump() {
	f.src.Take(func(err error, values ...any) {
		var v any
		if len(values) > 0 {
			v = values[0]
		}

		f.mu.Lock()
		running := f.running
		targets := make([]*Channel, 0, len(f.subs))
		for _, ch := range f.subs {
			targets = append(targets, ch)
		}
		f.mu.Unlock()

		if !running {
			// Raced with Stop: the taken value is redelivered to the
			// source so a later Start sees it.
			f.src.Put(v, nil)
			return
		}

		if ferr := fault(err, v); ferr != nil {
			f.logger.Debug("fanout source error",
				slog.String("channel_id", f.src.ID().String()),
				slog.String("error", ferr.Error()),
			)
			f.Stop()
			return
		}

		for _, ch := range targets {
			ch.Put(v, nil)
		}
		f.loop.Defer(f.pump)
	})
}
