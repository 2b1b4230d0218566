package engine_test

import (
	"errors"
	"testing"

	"github.com/strandio/strand"
	"github.com/strandio/strand/engine"
)

// dispatchProgram selects a branch from its first argument: "a" and
// "aa" share one case, 7 selects another.
func dispatchProgram() *engine.Program {
	return engine.NewProgram("dispatch",
		func(in *engine.Instance, args []any) {
			jt := in.JumpTable(1, [][]any{{"a", "aa"}, {7}}, []int{1, 2})
			jt.JumpToCase(in, args[0])
		},
		func(in *engine.Instance, _ []any) { in.Callback(nil, "strings") },
		func(in *engine.Instance, _ []any) { in.Callback(nil, "seven") },
	)
}

func TestJumpTable_SelectsCase(t *testing.T) {
	loop := newLoop(t)

	cases := []struct {
		value any
		want  string
	}{
		{"a", "strings"},
		{"aa", "strings"},
		{7, "seven"},
	}
	for _, c := range cases {
		o := runProgram(t, loop, dispatchProgram(), c.value)
		if o.err != nil {
			t.Fatalf("dispatch(%v) failed: %v", c.value, o.err)
		}
		if o.values[0] != c.want {
			t.Errorf("dispatch(%v) = %v, want %v", c.value, o.values[0], c.want)
		}
	}
}

func TestJumpTable_UnhandledValueRaises(t *testing.T) {
	loop := newLoop(t)
	o := runProgram(t, loop, dispatchProgram(), "nope")
	if !errors.Is(o.err, strand.ErrUnhandledCase) {
		t.Fatalf("err = %v, want ErrUnhandledCase", o.err)
	}
}

func TestJumpTable_UnhandledValueCatchable(t *testing.T) {
	loop := newLoop(t)
	p := engine.NewProgram("guarded-dispatch",
		func(in *engine.Instance, _ []any) {
			in.PushErrorStep(1, 4, nil)
			in.Goto(2)
		},
		func(in *engine.Instance, _ []any) {
			jt := in.JumpTable(2, [][]any{{"known"}}, []int{1})
			jt.JumpToCase(in, "unknown")
		},
		func(in *engine.Instance, _ []any) { in.Callback(nil, "matched") },
		func(in *engine.Instance, args []any) {
			in.Callback(nil, "recovered", args[0])
		},
	)

	o := runProgram(t, loop, p)
	if o.err != nil {
		t.Fatalf("unexpected error: %v", o.err)
	}
	if o.values[0] != "recovered" || !errors.Is(o.values[1].(error), strand.ErrUnhandledCase) {
		t.Fatalf("values = %v, want [recovered ErrUnhandledCase]", o.values)
	}
}

func TestJumpTable_CachedPerSite(t *testing.T) {
	loop := newLoop(t)
	in := engine.New(loop, dispatchProgram(), engine.WithLogger(testLogger()))

	first := in.JumpTable(1, [][]any{{"a", "aa"}, {7}}, []int{1, 2})
	second := in.JumpTable(1, nil, nil) // cached: arguments ignored
	if first != second {
		t.Error("expected the same table for repeated lookups of one site")
	}
}

func TestJumpTable_OverlappingLabelsPanic(t *testing.T) {
	loop := newLoop(t)
	in := engine.New(loop, dispatchProgram(), engine.WithLogger(testLogger()))

	defer func() {
		if recover() == nil {
			t.Error("expected panic for overlapping label sets")
		}
	}()
	in.JumpTable(9, [][]any{{"x"}, {"x"}}, []int{1, 2})
}

func TestJumpTable_LengthMismatchPanics(t *testing.T) {
	loop := newLoop(t)
	in := engine.New(loop, dispatchProgram(), engine.WithLogger(testLogger()))

	defer func() {
		if recover() == nil {
			t.Error("expected panic for label set / offset length mismatch")
		}
	}()
	in.JumpTable(9, [][]any{{"x"}}, []int{1, 2})
}
