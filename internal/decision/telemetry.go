package decision

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/fyrsmithlabs/cadence/internal/decision"

// Metrics provides OpenTelemetry metrics for the decision engine.
type Metrics struct {
	decisionsTotal metric.Int64Counter
	fallbacksTotal metric.Int64Counter
	viableCount    metric.Int64Histogram
	plannedUnits   metric.Int64Histogram
	oracleDuration metric.Float64Histogram
	initialized    bool
}

// NewMetrics creates decision metrics. A nil meter uses the global provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	m.decisionsTotal, err = meter.Int64Counter(
		"decision.decisions.total",
		metric.WithDescription("Total number of single-pick decisions by outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	m.fallbacksTotal, err = meter.Int64Counter(
		"decision.oracle.fallbacks.total",
		metric.WithDescription("Total number of oracle failures handled by fallback"),
		metric.WithUnit("{fallback}"),
	)
	if err != nil {
		return nil, err
	}

	m.viableCount, err = meter.Int64Histogram(
		"decision.viable.candidates",
		metric.WithDescription("Number of viable candidates per decision"),
		metric.WithUnit("{template}"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 3, 5, 7, 10, 20),
	)
	if err != nil {
		return nil, err
	}

	m.plannedUnits, err = meter.Int64Histogram(
		"decision.plan.units",
		metric.WithDescription("Number of work units in a day plan"),
		metric.WithUnit("{unit}"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 4, 6, 8),
	)
	if err != nil {
		return nil, err
	}

	m.oracleDuration, err = meter.Float64Histogram(
		"decision.oracle.duration.seconds",
		metric.WithDescription("Duration of oracle calls in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, err
	}

	m.initialized = true
	return m, nil
}

func (m *Metrics) recordDecision(ctx context.Context, outcome string, viable int) {
	if m == nil || !m.initialized {
		return
	}
	m.decisionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.viableCount.Record(ctx, int64(viable))
}

func (m *Metrics) recordFallback(ctx context.Context, kind string) {
	if m == nil || !m.initialized {
		return
	}
	m.fallbacksTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) recordPlan(ctx context.Context, units int) {
	if m == nil || !m.initialized {
		return
	}
	m.plannedUnits.Record(ctx, int64(units))
}

func (m *Metrics) recordOracle(ctx context.Context, kind string, seconds float64) {
	if m == nil || !m.initialized {
		return
	}
	m.oracleDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("kind", kind)))
}

// Tracer returns the decision package tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}
