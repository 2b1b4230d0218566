package channel_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandio/strand/channel"
)

// drain takes values until the nil stream terminator arrives.
func drain(t *testing.T, c *channel.Channel) []any {
	t.Helper()
	var out []any
	for {
		v := takeValue(t, c)
		if v == nil {
			return out
		}
		out = append(out, v)
		if len(out) > 1000 {
			t.Fatal("no terminator after 1000 values")
		}
	}
}

func notNil(v any) bool { return v != nil }

func TestTakeN_OrderedBatch(t *testing.T) {
	loop := newLoop(t)
	c := channel.New(loop, channel.WithLogger(testLogger()))
	c.Stream([]any{"a", "b", "c"}, nil)

	got := make(chan []any, 1)
	c.TakeN(3, func(err error, values ...any) {
		require.NoError(t, err)
		got <- values[0].([]any)
	})

	select {
	case batch := <-got:
		assert.Equal(t, []any{"a", "b", "c"}, batch)
	case <-time.After(2 * time.Second):
		t.Fatal("TakeN never delivered")
	}
}

func TestTakeN_Zero(t *testing.T) {
	loop := newLoop(t)
	c := channel.New(loop, channel.WithLogger(testLogger()))

	got := make(chan []any, 1)
	c.TakeN(0, func(err error, values ...any) {
		require.NoError(t, err)
		got <- values[0].([]any)
	})

	select {
	case batch := <-got:
		assert.Empty(t, batch)
	case <-time.After(2 * time.Second):
		t.Fatal("TakeN(0) never delivered")
	}
}

func TestTakeN_FailsFastOnError(t *testing.T) {
	loop := newLoop(t)
	c := channel.New(loop, channel.WithLogger(testLogger()))
	boom := errors.New("boom")

	c.Put(1, nil)
	c.Receive("op")(boom) // tagged error in the middle of the stream
	c.Put(3, nil)

	got := make(chan error, 1)
	c.TakeN(3, func(err error, _ ...any) { got <- err })

	select {
	case err := <-got:
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
	case <-time.After(2 * time.Second):
		t.Fatal("TakeN never signaled")
	}
}

func TestGroup_Batches(t *testing.T) {
	loop := newLoop(t)
	c := channel.New(loop, channel.WithLogger(testLogger()))
	c.Stream([]any{1, 2, 3, 4, 5, 6}, nil)

	g := c.Group(2)
	assert.Equal(t, []any{1, 2}, takeValue(t, g))
	assert.Equal(t, []any{3, 4}, takeValue(t, g))
	assert.Equal(t, []any{5, 6}, takeValue(t, g))
}

func TestMap_TransformsUntilTerminator(t *testing.T) {
	loop := newLoop(t)
	c := channel.New(loop, channel.WithLogger(testLogger()))
	c.Stream([]any{1, 2, 3, nil}, nil)

	m := c.Map(notNil, func(v any) any { return v.(int) * 10 })
	assert.Equal(t, []any{10, 20, 30}, drain(t, m))
}

func TestFilter_KeepsMatching(t *testing.T) {
	loop := newLoop(t)
	c := channel.New(loop, channel.WithLogger(testLogger()))
	c.Stream([]any{1, 2, 3, 4, 5, 6, nil}, nil)

	f := c.Filter(notNil, func(v any) bool { return v.(int)%2 == 0 })
	assert.Equal(t, []any{2, 4, 6}, drain(t, f))
}

func TestReduce_EmitsFoldThenTerminator(t *testing.T) {
	loop := newLoop(t)
	c := channel.New(loop, channel.WithLogger(testLogger()))
	c.Stream([]any{1, 2, 3, 4, nil}, nil)

	r := c.Reduce(0, notNil, func(acc, v any) any { return acc.(int) + v.(int) })
	assert.Equal(t, []any{10}, drain(t, r))
}

func TestMap_SourceErrorTerminates(t *testing.T) {
	loop := newLoop(t)
	c := channel.New(loop, channel.WithLogger(testLogger()))

	c.Put(1, nil)
	c.Receive("src")(errors.New("boom"))

	m := c.Map(notNil, func(v any) any { return v })
	assert.Equal(t, []any{1}, drain(t, m))
}

func TestStream_BackpressuredAndCounted(t *testing.T) {
	loop := newLoop(t)
	c := channel.New(loop, channel.WithLogger(testLogger()))

	seq := []any{"x", "y", "z"}
	counted := make(chan int, 1)
	c.Stream(seq, func(err error, values ...any) {
		require.NoError(t, err)
		counted <- values[0].(int)
	})

	// Rendezvous channel: nothing is accepted until takes arrive, and
	// the completion count fires only after the last acceptance.
	select {
	case <-counted:
		t.Fatal("stream completed before any take")
	case <-time.After(20 * time.Millisecond):
	}

	got := takeAll(t, c, 3)
	assert.Equal(t, seq, got)

	select {
	case n := <-counted:
		assert.Equal(t, 3, n)
	case <-time.After(2 * time.Second):
		t.Fatal("stream completion never signaled")
	}
}
