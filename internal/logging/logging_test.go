package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/cadence/internal/config"
)

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, NewDefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad format", func(c *Config) { c.Format = "xml" }},
		{"no output", func(c *Config) { c.Output.Stdout = false }},
		{"zero tick", func(c *Config) { c.Sampling.Tick = 0 }},
		{"bad pattern", func(c *Config) { c.Redaction.Patterns = []string{"("} }},
		{"empty field", func(c *Config) { c.Fields = map[string]string{"service": ""} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLevelFromString(t *testing.T) {
	l, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, l)

	l, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, l)

	_, err = LevelFromString("loud")
	assert.Error(t, err)
}

func TestContextFields(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))

	ctx := WithWorkUnitID(context.Background(), "wu-1")
	ctx = WithPhase(ctx, "morning")
	ctx = WithPlanDate(ctx, time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC))

	got := map[string]string{}
	for _, f := range ContextFields(ctx) {
		got[f.Key] = f.String
	}
	assert.Equal(t, map[string]string{
		"work_unit.id": "wu-1",
		"day.phase":    "morning",
		"plan.date":    "2026-10-15",
	}, got)
	assert.Equal(t, "wu-1", WorkUnitIDFromContext(ctx))

	// Empty values are not recorded.
	assert.Empty(t, ContextFields(WithPhase(WithWorkUnitID(context.Background(), ""), "")))
}

func TestContextFields_Trace(t *testing.T) {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "dispatch")
	defer span.End()

	keys := map[string]bool{}
	for _, f := range ContextFields(ctx) {
		keys[f.Key] = true
	}
	assert.True(t, keys["trace_id"])
	assert.True(t, keys["span_id"])
}

func TestTestLogger_ContextAwareMethods(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithWorkUnitID(context.Background(), "wu-9")

	tl.Trace(ctx, "tick")
	tl.Info(ctx, "work started", zap.String("template_id", "reflection"))
	tl.Named("scheduler").Warn(ctx, "slow")

	tl.AssertLogged(t, TraceLevel, "tick")
	tl.AssertLogged(t, zapcore.WarnLevel, "slow")
	tl.AssertField(t, "work started", "work_unit.id", "wu-9")
	tl.AssertField(t, "work started", "template_id", "reflection")
	assert.Len(t, tl.All(), 3)
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Info(ctx, "hello")
	assert.Equal(t, 1, tl.FilterMessage("hello").Len())
}

func TestRedactingEncoder(t *testing.T) {
	enc, err := NewRedactingEncoder(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	var buf bytes.Buffer
	core := zapcore.NewCore(enc, zapcore.AddSync(&buf), zapcore.DebugLevel)
	logger := zap.New(core)
	logger.Info("oracle call",
		zap.String("api_key", "sk-live-abcdefghijklmnopqrstu"),
		zap.String("header", "Bearer abc.def"),
		zap.String("model", "claude-sonnet"),
		Secret("key", config.Secret("hunter22")),
	)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "[REDACTED]", entry["api_key"])
	assert.Equal(t, "[REDACTED:pattern]", entry["header"])
	assert.Equal(t, "claude-sonnet", entry["model"])
	assert.Equal(t, "[REDACTED:8]", entry["key"])
}

func TestRedactingEncoder_BoundAndByteFields(t *testing.T) {
	enc, err := NewRedactingEncoder(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := zap.New(zapcore.NewCore(enc, zapcore.AddSync(&buf), zapcore.DebugLevel)).
		With(zap.String("token", "t0ken"), zap.String("phase", "morning"))
	logger.Info("call",
		zap.ByteString("auth", []byte("bearer xyz")),
		zap.Int("attempt", 2),
	)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "[REDACTED]", entry["token"])
	assert.Equal(t, "morning", entry["phase"])
	assert.Equal(t, "[REDACTED:pattern]", entry["auth"])
	assert.EqualValues(t, 2, entry["attempt"])
}

func TestNewRedactingEncoder_RejectsBadPatterns(t *testing.T) {
	base := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	_, err := NewRedactingEncoder(base, RedactionConfig{Enabled: true, Patterns: []string{"[unclosed"}})
	assert.Error(t, err)

	enc, err := NewRedactingEncoder(base, RedactionConfig{Enabled: false, Patterns: []string{"[unclosed"}})
	require.NoError(t, err)
	assert.NotNil(t, enc)
}

func TestSampledCore_NeverDropsErrors(t *testing.T) {
	var buf bytes.Buffer
	base := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(&buf), zapcore.DebugLevel)
	core := newSampledCore(base, SamplingConfig{
		Enabled:    true,
		Tick:       config.Duration(time.Minute),
		Initial:    1,
		Thereafter: 0,
	})
	logger := zap.New(core)
	for i := 0; i < 5; i++ {
		logger.Info("repeat")
		logger.Error("boom")
	}
	lines := bytes.Count(buf.Bytes(), []byte("\n"))
	assert.Equal(t, 6, lines)
}

func TestNewLogger(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "console"
	l, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	assert.True(t, l.Enabled(zapcore.InfoLevel))
	assert.False(t, l.Enabled(zapcore.DebugLevel))
	assert.NotNil(t, l.Underlying())

	cfg = NewDefaultConfig()
	cfg.Output = OutputConfig{OTEL: true}
	_, err = NewLogger(cfg, nil)
	assert.Error(t, err)
}
