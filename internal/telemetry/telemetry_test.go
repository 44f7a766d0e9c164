package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, NewDefaultConfig().Validate())

	enabled := func(mutate func(*Config)) *Config {
		cfg := NewDefaultConfig()
		cfg.Enabled = true
		mutate(cfg)
		return cfg
	}

	assert.NoError(t, enabled(func(*Config) {}).Validate())
	assert.NoError(t, enabled(func(c *Config) { c.Endpoint = "[::1]:4317" }).Validate())
	assert.NoError(t, enabled(func(c *Config) {
		c.Endpoint = "otel.example.com:4317"
		c.Insecure = false
	}).Validate())

	bad := map[string]*Config{
		"no endpoint":     enabled(func(c *Config) { c.Endpoint = "" }),
		"remote insecure": enabled(func(c *Config) { c.Endpoint = "otel.example.com:4317" }),
		"sample rate":     enabled(func(c *Config) { c.SampleRate = 1.5 }),
		"protocol":        enabled(func(c *Config) { c.Protocol = "carrier" }),
		"interval":        enabled(func(c *Config) { c.ExportInterval = 0 }),
		"shutdown":        enabled(func(c *Config) { c.ShutdownAfter = 0 }),
	}
	for name, cfg := range bad {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestIsLocalEndpoint(t *testing.T) {
	for _, e := range []string{"localhost:4317", "127.0.0.1:4318", "http://localhost:4318", "[::1]:4317"} {
		assert.True(t, isLocalEndpoint(e), e)
	}
	for _, e := range []string{"collector:4317", "10.0.0.5:4317", "https://otel.example.com"} {
		assert.False(t, isLocalEndpoint(e), e)
	}
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, HealthStatus{Healthy: true}, tel.Health())
	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_WithInMemoryExporter(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Metrics = false
	exp := tracetest.NewInMemoryExporter()

	tel, err := New(context.Background(), cfg, nil, WithSpanExporter(exp))
	require.NoError(t, err)
	assert.Equal(t, HealthStatus{Enabled: true, Healthy: true}, tel.Health())

	_, span := tel.Tracer("test").Start(context.Background(), "scheduler.PlanDay")
	span.End()
	require.NoError(t, tel.ForceFlush(context.Background()))

	// The in-memory exporter resets on shutdown, so read spans first.
	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "scheduler.PlanDay", spans[0].Name)

	require.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.Health().Healthy)
}

func TestForceFlush_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig(), nil)
	require.NoError(t, err)
	assert.NoError(t, tel.ForceFlush(context.Background()))

	var nilTel *Telemetry
	assert.NoError(t, nilTel.ForceFlush(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.ServiceName = ""
	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestTestTelemetry(t *testing.T) {
	tt := NewTestTelemetry()

	_, span := tt.Tracer("test").Start(context.Background(), "phasequeue.Dispatch",
		trace.WithAttributes(attribute.String("phase", "morning")))
	span.End()
	assert.Equal(t, "morning", tt.SpanAttribute(t, "phasequeue.Dispatch", "phase").AsString())
	assert.Nil(t, tt.SpanByName("missing"))

	counter, err := tt.Meter("test").Int64Counter("dispatch.total")
	require.NoError(t, err)
	counter.Add(context.Background(), 2)
	counter.Add(context.Background(), 3)
	assert.Equal(t, int64(5), tt.Sum(t, "dispatch.total"))
}
