package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span attributes must stay low cardinality: operation, component, backend
// and status are fine. URLs, file names and error messages go to logs and
// span status instead.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation instruments a generic operation with telemetry.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentStoreOperation instruments progress store operations.
func (t *Telemetry) InstrumentStoreOperation(ctx context.Context, backend, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "store_"+operation, "storage", fn)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordStoreOperation(backend, operation, status, time.Since(start))

	return err
}

// InstrumentDownload instruments the processing of one catalog record. The
// function returns the outcome label recorded with the download metrics.
func (t *Telemetry) InstrumentDownload(ctx context.Context, fn func(ctx context.Context) string) string {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()

	t.IncrementActiveDownloads()
	defer t.DecrementActiveDownloads()

	var outcome string

	_ = t.InstrumentOperation(ctx, "download", "downloader", func(ctx context.Context) error {
		outcome = fn(ctx)

		return nil
	})

	t.RecordDownload(outcome, time.Since(start))

	return outcome
}
