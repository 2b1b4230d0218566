package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Recover returns middleware that recovers from panics in the handler
// chain. Panics are converted to errors and logged with a stack trace;
// the engine funnels the error into normal propagation, so a panicking
// step never escapes to the caller of the compiled workflow.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, step StepInfo, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("step panicked",
					slog.String("instance_id", step.InstanceID.String()),
					slog.String("program", step.Program),
					slog.Int("step", step.Step),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic in %s step %d: %v", step.Program, step.Step, r)
			}
		}()
		return next(ctx)
	}
}
