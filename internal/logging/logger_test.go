package logging

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/augmentd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)

	cfg = NewDefaultConfig()
	cfg.Output.Stdout = false
	_, err = NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestLogger_Levels(t *testing.T) {
	logger := NewTestLogger()
	ctx := context.Background()

	tests := []struct {
		name  string
		log   func()
		level zapcore.Level
	}{
		{"trace", func() { logger.Trace(ctx, "msg") }, TraceLevel},
		{"debug", func() { logger.Debug(ctx, "msg") }, zapcore.DebugLevel},
		{"info", func() { logger.Info(ctx, "msg") }, zapcore.InfoLevel},
		{"warn", func() { logger.Warn(ctx, "msg") }, zapcore.WarnLevel},
		{"error", func() { logger.Error(ctx, "msg") }, zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger.Reset()
			tt.log()
			entries := logger.All()
			require.Len(t, entries, 1)
			assert.Equal(t, tt.level, entries[0].Level)
		})
	}
}

func TestLogger_ContextFields(t *testing.T) {
	logger := NewTestLogger()

	ctx := WithTaskID(context.Background(), "task-1")
	ctx = WithUserID(ctx, "user-9")
	ctx = WithRequestID(ctx, "req-abc")

	logger.Info(ctx, "retrieved", zap.Int("count", 2))

	logger.AssertField(t, "retrieved", "task_id", "task-1")
	logger.AssertField(t, "retrieved", "user_id", "user-9")
	logger.AssertField(t, "retrieved", "request_id", "req-abc")
	logger.AssertField(t, "retrieved", "count", int64(2))
}

func TestContextFields_Empty(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
	assert.Empty(t, ContextFields(WithTaskID(context.Background(), "")))
}

func TestContextFields_Trace(t *testing.T) {
	tp := trace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	m := map[string]bool{}
	for _, f := range ContextFields(ctx) {
		m[f.Key] = f.String != ""
	}
	assert.True(t, m["trace_id"])
	assert.True(t, m["span_id"])
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	logger := NewTestLogger()
	ctx := WithLogger(context.Background(), logger.Logger)
	assert.Same(t, logger.Logger, FromContext(ctx))
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, lvl)

	lvl, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = LevelFromString("loud")
	assert.Error(t, err)
}

func TestFromAppConfig(t *testing.T) {
	cfg, err := FromAppConfig(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	_, err = FromAppConfig(config.LoggingConfig{Level: "nope"})
	assert.Error(t, err)
}

func TestSampledCore_ErrorsNeverSampled(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	sampled := newSampledCore(core, SamplingConfig{
		Enabled:    true,
		Tick:       config.Duration(time.Minute),
		Initial:    1,
		Thereafter: 0,
	})
	logger := zap.New(sampled)

	for i := 0; i < 5; i++ {
		logger.Info("same")
		logger.Error("boom")
	}

	assert.Equal(t, 1, observed.FilterMessage("same").Len())
	assert.Equal(t, 5, observed.FilterMessage("boom").Len())
}

func encode(t *testing.T, enc zapcore.Encoder, msg string, fields ...zapcore.Field) string {
	t.Helper()
	buf, err := enc.EncodeEntry(zapcore.Entry{Message: msg}, fields)
	require.NoError(t, err)
	defer buf.Free()
	return buf.String()
}

func TestRedactingEncoder(t *testing.T) {
	enc, err := newRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	out := encode(t, enc, "calling backend with Bearer abc123",
		zap.String("api_key", "sk-verysecretvalue"),
		zap.String("header", "Bearer xyz"),
		zap.String("scope", "task"),
	)

	assert.NotContains(t, out, "abc123")
	assert.NotContains(t, out, "sk-verysecretvalue")
	assert.NotContains(t, out, "xyz")
	assert.Contains(t, out, `"scope":"task"`)
}

func TestRedactingEncoder_WithFields(t *testing.T) {
	enc, err := newRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	child := enc.Clone()
	child.AddString("token", "t0k3n")

	out := encode(t, child, "hello")
	assert.NotContains(t, out, "t0k3n")
	assert.Contains(t, out, `"token":"[REDACTED]"`)
}

func TestSecretField(t *testing.T) {
	f := Secret("api_key", config.Secret("sk-123456"))
	assert.Equal(t, "[REDACTED:9]", f.String)
}
