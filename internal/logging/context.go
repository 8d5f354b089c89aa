package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if trigger := TriggerFromContext(ctx); trigger != "" {
		fields = append(fields, zap.String("save.trigger", trigger))
	}
	if attempt := AttemptFromContext(ctx); attempt > 0 {
		fields = append(fields, zap.Int("save.attempt", attempt))
	}

	return fields
}

type triggerCtxKey struct{}
type attemptCtxKey struct{}

// WithTrigger records which lifecycle signal initiated the operation
// (debounce, focus-lost, tick, teardown, ...).
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerCtxKey{}, trigger)
}

// TriggerFromContext extracts the save trigger, or "".
func TriggerFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(triggerCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithAttempt records the save attempt number for retry correlation.
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptCtxKey{}, attempt)
}

// AttemptFromContext extracts the attempt number, or 0.
func AttemptFromContext(ctx context.Context) int {
	if n, ok := ctx.Value(attemptCtxKey{}).(int); ok {
		return n
	}
	return 0
}
