package logging

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	workUnitKey struct{}
	phaseKey    struct{}
	planDateKey struct{}
	loggerKey   struct{}
)

// ContextFields returns the correlation fields carried by ctx: trace and
// span ids, work_unit.id, day.phase and plan.date.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	var fields []zap.Field
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id, ok := ctx.Value(workUnitKey{}).(string); ok {
		fields = append(fields, zap.String("work_unit.id", id))
	}
	if phase, ok := ctx.Value(phaseKey{}).(string); ok {
		fields = append(fields, zap.String("day.phase", phase))
	}
	if date, ok := ctx.Value(planDateKey{}).(string); ok {
		fields = append(fields, zap.String("plan.date", date))
	}
	return fields
}

// WithWorkUnitID tags ctx with the work unit being executed.
func WithWorkUnitID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, workUnitKey{}, id)
}

// WorkUnitIDFromContext returns the tagged work unit id, if any.
func WorkUnitIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(workUnitKey{}).(string)
	return id
}

// WithPhase tags ctx with a day phase name.
func WithPhase(ctx context.Context, phase string) context.Context {
	if phase == "" {
		return ctx
	}
	return context.WithValue(ctx, phaseKey{}, phase)
}

// WithPlanDate tags ctx with the calendar date being planned.
func WithPlanDate(ctx context.Context, date time.Time) context.Context {
	return context.WithValue(ctx, planDateKey{}, date.Format(time.DateOnly))
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey{}).(*Logger); ok {
		return l
	}
	return wrap(zap.NewNop())
}
