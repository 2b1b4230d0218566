package engine

import (
	"fmt"
	"log/slog"

	"github.com/strandio/strand"
	"github.com/strandio/strand/channel"
)

// A data-flow variable is a channel switched into fill mode on first
// resolution: all prior and future takers receive the same value
// immediately. Before resolution, reads suspend via Ensure.

// Deref returns the fixed value of a resolved future, or v itself for
// anything else (including an unresolved future).
func Deref(v any) any {
	if f, ok := v.(strand.Future); ok {
		if val, resolved := f.Value(); resolved {
			return val
		}
	}
	return v
}

// DFBind resolves target with value, single-assignment.
//
// If value is itself an unresolved future, the binding propagates once
// it completes. If target is a compound structure (an []any sequence
// or a map[string]any mapping) containing unresolved slots, the slots
// resolve element-wise from the corresponding elements of value, and
// elements of value that are still futures bind late, when they
// resolve.
//
// The first successful bind wins: binding an already-resolved target
// returns ErrAlreadyBound and changes nothing.
func (in *Instance) DFBind(target, value any) error {
	switch t := target.(type) {
	case *channel.Channel:
		if src, ok := value.(strand.Future); ok && !src.Resolved() {
			src.Take(func(_ error, values ...any) {
				var v any
				if len(values) > 0 {
					v = values[0]
				}
				if err := in.DFBind(t, v); err != nil {
					in.logger.Debug("late dataflow bind dropped",
						slog.String("channel_id", t.ID().String()),
						slog.String("error", err.Error()),
					)
				}
			})
			return nil
		}
		if !t.Fill(Deref(value)) {
			return strand.ErrAlreadyBound
		}
		return nil

	case []any:
		values, ok := value.([]any)
		if !ok {
			return fmt.Errorf("%w: sequence target needs a sequence value, got %T",
				strand.ErrNotBindable, value)
		}
		for i, slot := range t {
			ch, isVar := slot.(*channel.Channel)
			if !isVar || ch.Resolved() || i >= len(values) {
				continue
			}
			if err := in.DFBind(ch, values[i]); err != nil {
				return err
			}
		}
		return nil

	case map[string]any:
		values, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: mapping target needs a mapping value, got %T",
				strand.ErrNotBindable, value)
		}
		for key, slot := range t {
			ch, isVar := slot.(*channel.Channel)
			if !isVar || ch.Resolved() {
				continue
			}
			v, present := values[key]
			if !present {
				continue
			}
			if err := in.DFBind(ch, v); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("%w: %T", strand.ErrNotBindable, target)
	}
}
