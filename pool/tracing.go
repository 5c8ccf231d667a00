package pool

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/utkarsh5026/procpool/pool"

// startJobSpan opens the span covering one job. Without a configured
// tracer provider this is a no-op span.
func startJobSpan(ctx context.Context, info JobInfo) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "procpool.job",
		trace.WithAttributes(
			attribute.String("procpool.job.id", info.ID),
			attribute.String("procpool.mode", info.Mode.String()),
			attribute.Int("procpool.workers", info.Workers),
			attribute.Int("procpool.elements", info.Elements),
			attribute.Int("procpool.chunk_size", info.ChunkSize),
			attribute.Int("procpool.max_active", info.MaxActive),
		),
	)
}

// recordDeath adds a span event for a worker that died mid-chunk.
func recordDeath(span trace.Span, err *DeathError) {
	attrs := []attribute.KeyValue{
		attribute.Int("procpool.chunk", err.Chunk),
		attribute.Int("procpool.worker.pid", err.PID),
		attribute.String("procpool.worker.id", err.WorkerID),
		attribute.Int("procpool.worker.exit_code", err.ExitCode),
	}
	if err.Signal != "" {
		attrs = append(attrs, attribute.String("procpool.worker.signal", err.Signal))
	}
	span.AddEvent("worker.death", trace.WithAttributes(attrs...))
}

// endJobSpan records the job's outcome and closes its span.
func endJobSpan(span trace.Span, stats JobStats, err error) {
	span.SetAttributes(
		attribute.Int("procpool.chunks", stats.Dispatched),
		attribute.Int("procpool.peak_in_flight", stats.PeakInFlight),
	)
	if err != nil {
		span.RecordError(err)
		var ce *CancelledError
		if !errors.As(err, &ce) {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}
