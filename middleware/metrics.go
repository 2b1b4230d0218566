package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for strand metrics.
const meterName = "github.com/strandio/strand"

// Metrics returns middleware that records step execution metrics using
// the global OpenTelemetry MeterProvider. Two instruments are recorded:
//
//   - strand.step.duration: histogram of step execution time in seconds
//   - strand.step.executions: counter of step executions
//
// Both carry strand.program and strand.status ("ok" or "error")
// attributes.
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// Instrument creation errors are ignored and the affected instrument is
// simply not recorded, so a misconfigured provider never blocks step
// execution.
func MetricsWithMeter(meter metric.Meter) Middleware {
	duration, _ := meter.Float64Histogram(
		"strand.step.duration",
		metric.WithDescription("Duration of step execution"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"strand.step.executions",
		metric.WithDescription("Number of step executions"),
	)

	return func(ctx context.Context, step StepInfo, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("strand.program", step.Program),
			attribute.String("strand.status", status),
		)
		if duration != nil {
			duration.Record(ctx, elapsed, attrs)
		}
		if executions != nil {
			executions.Add(ctx, 1, attrs)
		}

		return err
	}
}
