package channel

import (
	"sync"
	"time"

	"github.com/strandio/strand/sched"
)

// Timeout returns a channel that delivers value exactly once, after d
// elapses. Merge it with a real operation's channel to race the two;
// note the losing branch is not cancelled: consumers of merged races
// are expected to guard against the late completion (the engine does
// this with per-suspension generation tokens).
func Timeout(loop *sched.Loop, d time.Duration, value any) *Channel {
	ch := New(loop)
	loop.DeferAfter(d, func() {
		ch.Put(value, nil)
	})
	return ch
}

// Clock delivers increasing integers on its channel at a fixed
// interval, once started. Stopping pauses the tick stream; a later
// Start resumes the count where it left off.
type Clock struct {
	loop     *sched.Loop
	interval time.Duration
	ch       *Channel

	mu      sync.Mutex
	running bool
	tick    int
	cancel  func() bool
}

// NewClock creates a stopped clock ticking every interval.
func NewClock(loop *sched.Loop, interval time.Duration, opts ...Option) *Clock {
	return &Clock{
		loop:     loop,
		interval: interval,
		ch:       New(loop, opts...),
	}
}

// Chan returns the channel ticks are delivered on.
func (k *Clock) Chan() *Channel { return k.ch }

// Start begins (or resumes) ticking. Idempotent while running.
func (k *Clock) Start() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.running {
		return
	}
	k.running = true
	k.schedule()
}

// Stop pauses ticking. The tick counter is retained for restart.
func (k *Clock) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.running {
		return
	}
	k.running = false
	if k.cancel != nil {
		k.cancel()
		k.cancel = nil
	}
}

// Ticks returns the number of ticks delivered so far.
func (k *Clock) Ticks() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.tick
}

// schedule arms the next tick. Caller holds k.mu.
func (k *Clock) schedule() {
	k.cancel = k.loop.DeferAfter(k.interval, func() {
		k.mu.Lock()
		if !k.running {
			k.mu.Unlock()
			return
		}
		k.tick++
		n := k.tick
		k.schedule()
		k.mu.Unlock()

		k.ch.Put(n, nil)
	})
}
