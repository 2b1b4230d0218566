package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging returns middleware that logs step entry and completion at
// debug level (a workflow can run thousands of steps) and failures at
// error level.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, step StepInfo, next Handler) error {
		logger.Debug("step entered",
			slog.String("instance_id", step.InstanceID.String()),
			slog.String("program", step.Program),
			slog.Int("step", step.Step),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("step failed",
				slog.String("instance_id", step.InstanceID.String()),
				slog.String("program", step.Program),
				slog.Int("step", step.Step),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Debug("step completed",
				slog.String("instance_id", step.InstanceID.String()),
				slog.String("program", step.Program),
				slog.Int("step", step.Step),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
