package channel_test

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/strandio/strand/channel"
	"github.com/strandio/strand/sched"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLoop(t *testing.T) *sched.Loop {
	t.Helper()
	loop := sched.New(sched.WithLogger(testLogger()))
	t.Cleanup(loop.Stop)
	return loop
}

// takeValue performs one take and waits for its delivery.
func takeValue(t *testing.T, c *channel.Channel) any {
	t.Helper()
	got := make(chan any, 1)
	c.Take(func(err error, values ...any) {
		if err != nil {
			t.Errorf("take failed: %v", err)
			got <- nil
			return
		}
		got <- values[0]
	})
	select {
	case v := <-got:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("take never delivered")
		return nil
	}
}

// takeAll takes n values and returns them in delivery order.
func takeAll(t *testing.T, c *channel.Channel, n int) []any {
	t.Helper()
	out := make([]any, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, takeValue(t, c))
	}
	return out
}

func TestPutThenTake_FIFO(t *testing.T) {
	loop := newLoop(t)
	c := channel.New(loop, channel.WithLogger(testLogger()))

	seq := []any{4, 5, 6, 3, 5, 23, 24, 1000, 73, 42}
	c.Stream(seq, nil)

	got := takeAll(t, c, len(seq))
	for i, v := range seq {
		if got[i] != v {
			t.Fatalf("got = %v, want %v", got, seq)
		}
	}
}

func TestTakeThenPut_PairsWithWaitingReader(t *testing.T) {
	loop := newLoop(t)
	c := channel.New(loop, channel.WithLogger(testLogger()))

	got := make(chan any, 1)
	c.Take(func(_ error, values ...any) { got <- values[0] })

	if b := c.Backlog(); b != -1 {
		t.Fatalf("backlog = %d with one waiting reader, want -1", b)
	}

	c.Put("hello", nil)
	select {
	case v := <-got:
		if v != "hello" {
			t.Fatalf("v = %v, want hello", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader never resumed")
	}
	if b := c.Backlog(); b != 0 {
		t.Fatalf("backlog = %d after pairing, want 0", b)
	}
}

func TestPut_CompletionWaitsForReader(t *testing.T) {
	loop := newLoop(t)
	c := channel.New(loop, channel.WithLogger(testLogger()))

	completed := make(chan struct{})
	c.Put("v", func(error, ...any) { close(completed) })

	select {
	case <-completed:
		t.Fatal("rendezvous put completed with no reader")
	case <-time.After(20 * time.Millisecond):
	}

	if v := takeValue(t, c); v != "v" {
		t.Fatalf("v = %v, want v", v)
	}
	select {
	case <-completed:
	case <-time.After(2 * time.Second):
		t.Fatal("put completion never signaled after take")
	}
}

func TestBuffer_AcksWithinWindow(t *testing.T) {
	loop := newLoop(t)
	c := channel.New(loop, channel.WithBuffer(2), channel.WithLogger(testLogger()))

	acked := make(chan int, 3)
	for i := 1; i <= 3; i++ {
		i := i
		c.Put(i, func(error, ...any) { acked <- i })
	}

	// The first two puts complete immediately; the third waits.
	for want := 1; want <= 2; want++ {
		select {
		case got := <-acked:
			if got != want {
				t.Fatalf("ack order: got %d, want %d", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("put %d never completed inside the buffer window", want)
		}
	}
	select {
	case got := <-acked:
		t.Fatalf("put %d completed beyond the buffer window", got)
	case <-time.After(20 * time.Millisecond):
	}

	// Taking one value frees a slot and completes the third put.
	if v := takeValue(t, c); v != 1 {
		t.Fatalf("v = %v, want 1", v)
	}
	select {
	case got := <-acked:
		if got != 3 {
			t.Fatalf("ack = %d, want 3", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("third put never completed after a take")
	}

	if got := takeAll(t, c, 2); got[0] != 2 || got[1] != 3 {
		t.Fatalf("remaining = %v, want [2 3]", got)
	}
}

func TestDroppingBuffer_DiscardsNewest(t *testing.T) {
	loop := newLoop(t)
	c := channel.New(loop, channel.WithDroppingBuffer(4), channel.WithLogger(testLogger()))

	for i := 1; i <= 6; i++ {
		completed := make(chan struct{})
		c.Put(i, func(error, ...any) { close(completed) })
		// Every put completes, including the dropped ones.
		select {
		case <-completed:
		case <-time.After(2 * time.Second):
			t.Fatalf("put %d never completed", i)
		}
	}

	if got := takeAll(t, c, 4); got[0] != 1 || got[1] != 2 || got[2] != 3 || got[3] != 4 {
		t.Fatalf("got = %v, want [1 2 3 4]", got)
	}
	if b := c.Backlog(); b != 0 {
		t.Fatalf("backlog = %d after drain, want 0", b)
	}

	// Room again: later puts are kept.
	c.Put(7, nil)
	c.Put(8, nil)
	if got := takeAll(t, c, 2); got[0] != 7 || got[1] != 8 {
		t.Fatalf("got = %v, want [7 8]", got)
	}
}

func TestExpiringBuffer_EvictsOldest(t *testing.T) {
	loop := newLoop(t)
	c := channel.New(loop, channel.WithExpiringBuffer(4), channel.WithLogger(testLogger()))

	for i := 1; i <= 6; i++ {
		c.Put(i, nil)
	}

	if got := takeAll(t, c, 4); got[0] != 3 || got[1] != 4 || got[2] != 5 || got[3] != 6 {
		t.Fatalf("got = %v, want [3 4 5 6]", got)
	}
}

func TestDebounce_DropsBurst(t *testing.T) {
	loop := newLoop(t)
	c := channel.New(loop, channel.WithDebounce(100*time.Millisecond), channel.WithLogger(testLogger()))

	// A burst: only the first put is admitted; the rest still complete.
	for i := 1; i <= 3; i++ {
		completed := make(chan struct{})
		c.Put(i, func(error, ...any) { close(completed) })
		select {
		case <-completed:
		case <-time.After(2 * time.Second):
			t.Fatalf("debounced put %d never completed", i)
		}
	}

	if v := takeValue(t, c); v != 1 {
		t.Fatalf("v = %v, want 1", v)
	}
	if b := c.Backlog(); b != 0 {
		t.Fatalf("backlog = %d, want 0 (burst dropped)", b)
	}
}

func TestFill_ResolvesAllReadersAndPuts(t *testing.T) {
	loop := newLoop(t)
	c := channel.New(loop, channel.WithLogger(testLogger()))

	early := make(chan any, 1)
	c.Take(func(_ error, values ...any) { early <- values[0] })

	pending := make(chan any, 1)
	c.Put("queued", func(_ error, values ...any) { pending <- values[0] })

	// The queued value pairs with the early reader; fill afterwards.
	select {
	case v := <-early:
		if v != "queued" {
			t.Fatalf("early = %v, want queued", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("early reader never resumed")
	}

	if !c.Fill("fixed") {
		t.Fatal("first Fill returned false")
	}
	if c.Fill("other") {
		t.Fatal("second Fill succeeded")
	}
	if v, ok := c.Value(); !ok || v != "fixed" {
		t.Fatalf("Value() = %v/%v, want fixed/true", v, ok)
	}

	// Every take from now on sees the fill value.
	if v := takeValue(t, c); v != "fixed" {
		t.Fatalf("v = %v, want fixed", v)
	}
	if v := takeValue(t, c); v != "fixed" {
		t.Fatalf("repeat v = %v, want fixed", v)
	}

	// Puts become no-ops but still complete, with the fill value.
	after := make(chan any, 1)
	c.Put("dropped", func(_ error, values ...any) { after <- values[0] })
	select {
	case v := <-after:
		if v != "fixed" {
			t.Fatalf("post-fill put completed with %v, want fixed", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("post-fill put never completed")
	}
}

func TestFill_ReleasesPendingPutContinuations(t *testing.T) {
	loop := newLoop(t)
	c := channel.New(loop, channel.WithLogger(testLogger()))

	pending := make(chan any, 1)
	c.Put("stuck", func(_ error, values ...any) { pending <- values[0] })

	c.Fill("fixed")
	select {
	case v := <-pending:
		if v != "fixed" {
			t.Fatalf("pending put resolved with %v, want fixed", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending put never resolved by Fill")
	}
}

func TestReceive_WrapsOutcome(t *testing.T) {
	loop := newLoop(t)
	c := channel.New(loop, channel.WithLogger(testLogger()))

	c.Receive("read")(nil, "data")
	v := takeValue(t, c)
	tv, ok := v.(channel.Tagged)
	if !ok {
		t.Fatalf("v = %T, want Tagged", v)
	}
	if tv.Tag != "read" || tv.Value != "data" || tv.Err != nil {
		t.Fatalf("tagged = %+v", tv)
	}

	boom := errors.New("boom")
	c.Receive("write")(boom)
	tv = takeValue(t, c).(channel.Tagged)
	if tv.Tag != "write" || !errors.Is(tv.Err, boom) {
		t.Fatalf("tagged = %+v, want write/boom", tv)
	}
}

func TestConcurrentPuts_AllDelivered(t *testing.T) {
	loop := newLoop(t)
	const n = 64
	c := channel.New(loop, channel.WithBuffer(n), channel.WithLogger(testLogger()))

	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			done := make(chan struct{})
			c.Put(i, func(error, ...any) { close(done) })
			select {
			case <-done:
				return nil
			case <-time.After(2 * time.Second):
				return errors.New("put never completed")
			}
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent puts failed: %v", err)
	}

	seen := make(map[int]bool, n)
	for _, v := range takeAll(t, c, n) {
		seen[v.(int)] = true
	}
	if len(seen) != n {
		t.Fatalf("delivered %d distinct values, want %d", len(seen), n)
	}
}
