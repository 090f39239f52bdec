package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/augmentd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "augmentd", cfg.ServiceName)
	assert.Equal(t, ProtocolGRPC, cfg.Protocol)
	assert.Equal(t, 1.0, cfg.SampleRate)
	require.NoError(t, cfg.Validate())

	cfg.Enabled = true
	require.NoError(t, cfg.Validate())
}

func TestFromAppConfig(t *testing.T) {
	cfg := FromAppConfig(config.ObservabilityConfig{
		EnableTelemetry: true,
		ServiceName:     "augmentd-staging",
		Endpoint:        "http://127.0.0.1:4318",
		Protocol:        "http",
		Insecure:        true,
		SampleRate:      0.25,
	}, "1.2.3")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "augmentd-staging", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, ProtocolHTTP, cfg.Protocol)
	assert.Equal(t, 0.25, cfg.SampleRate)
	require.NoError(t, cfg.Validate())

	empty := FromAppConfig(config.ObservabilityConfig{}, "")
	assert.Equal(t, "augmentd", empty.ServiceName)
	assert.Equal(t, "dev", empty.ServiceVersion)
	assert.Equal(t, "localhost:4317", empty.Endpoint)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := NewDefaultConfig()
		cfg.Enabled = true
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"disabled skips checks", func(c *Config) { c.Enabled = false; c.Endpoint = "" }, ""},
		{"missing endpoint", func(c *Config) { c.Endpoint = "" }, "endpoint is required"},
		{"missing service name", func(c *Config) { c.ServiceName = "" }, "service name is required"},
		{"bad protocol", func(c *Config) { c.Protocol = "udp" }, "protocol must be"},
		{"insecure remote", func(c *Config) { c.Endpoint = "otel.example.com:4317" }, "not allowed"},
		{"secure remote", func(c *Config) { c.Endpoint = "otel.example.com:4317"; c.Insecure = false }, ""},
		{"sample rate high", func(c *Config) { c.SampleRate = 1.5 }, "sample rate"},
		{"sample rate negative", func(c *Config) { c.SampleRate = -0.1 }, "sample rate"},
		{"zero interval", func(c *Config) { c.ExportInterval = 0 }, "export interval"},
		{"zero interval without metrics", func(c *Config) { c.ExportInterval = 0; c.MetricsEnabled = false }, ""},
		{"zero shutdown timeout", func(c *Config) { c.ShutdownTimeout = 0 }, "shutdown timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestConfig_IsLocalEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		want     bool
	}{
		{"localhost:4317", true},
		{"localhost", true},
		{"127.0.0.1:4317", true},
		{"127.0.0.2:4317", true},
		{"[::1]:4317", true},
		{"::1", true},
		{"http://localhost:4318", true},
		{"10.0.0.5:4317", false},
		{"collector:4317", false},
		{"https://otel.example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			cfg := &Config{Endpoint: tt.endpoint}
			assert.Equal(t, tt.want, cfg.isLocalEndpoint())
		})
	}
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(1).Description(), "root:AlwaysOnSampler")
	assert.Contains(t, sampler(0).Description(), "root:AlwaysOffSampler")
	assert.Contains(t, sampler(0.5).Description(), "root:TraceIDRatioBased")
}

func TestNewResource(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.ServiceVersion = "9.9.9"

	attrs := map[string]string{}
	for _, attr := range newResource(cfg).Attributes() {
		attrs[string(attr.Key)] = attr.Value.AsString()
	}
	assert.Equal(t, "augmentd", attrs["service.name"])
	assert.Equal(t, "9.9.9", attrs["service.version"])
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, tel)

	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.Nil(t, tel.LoggerProvider())
	assert.False(t, tel.IsEnabled())
	assert.Equal(t, HealthStatus{Healthy: true, Problems: []string{}}, tel.Health())
	assert.NoError(t, tel.ForceFlush(context.Background()))

	require.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.Health().Healthy)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.ServiceName = ""

	tel, err := New(context.Background(), cfg)
	assert.Nil(t, tel)
	assert.ErrorContains(t, err, "invalid telemetry config")
}

func TestNew_Enabled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.MetricsEnabled = false

	tel, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, tel.IsEnabled())
	assert.NotNil(t, tel.tracerProvider)
	assert.Nil(t, tel.meterProvider)
	assert.NotNil(t, tel.LoggerProvider())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = tel.Shutdown(ctx)
	assert.False(t, tel.IsEnabled())
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry

	assert.NotPanics(t, func() {
		_ = tel.Tracer("test")
		_ = tel.Meter("test")
		_ = tel.LoggerProvider()
		tel.SetLoggerProvider(nil)
		_ = tel.IsEnabled()
		_ = tel.Shutdown(context.Background())
		_ = tel.ForceFlush(context.Background())
	})
	assert.Equal(t, HealthStatus{Healthy: false, Degraded: true}, tel.Health())
}

func TestTelemetry_Degraded(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	tel.setDegraded(assert.AnError)
	health := tel.Health()
	assert.True(t, health.Degraded)
	assert.Equal(t, []string{assert.AnError.Error()}, health.Problems)
}

func TestTestTelemetry_Spans(t *testing.T) {
	tt := NewTestTelemetry()
	tracer := tt.Tracer("augmentd.rag")

	_, span := tracer.Start(context.Background(), "Pipeline.IndexText")
	span.SetAttributes(
		attribute.Int("chunks", 3),
		attribute.String("document_id", "d1"),
		attribute.Float64("score", 0.5),
		attribute.Bool("partial", false),
	)
	span.End()

	_, span = tracer.Start(context.Background(), "Pipeline.Retrieve")
	span.End()

	assert.Len(t, tt.Spans(), 2)
	assert.Nil(t, tt.SpanByName("missing"))
	tt.AssertSpanExists(t, "Pipeline.IndexText")
	tt.AssertSpanExists(t, "Pipeline.Retrieve")
	tt.AssertSpanAttribute(t, "Pipeline.IndexText", "chunks", int64(3))
	tt.AssertSpanAttribute(t, "Pipeline.IndexText", "document_id", "d1")
	tt.AssertSpanAttribute(t, "Pipeline.IndexText", "score", 0.5)
	tt.AssertSpanAttribute(t, "Pipeline.IndexText", "partial", false)
}

func TestTestTelemetry_Metrics(t *testing.T) {
	tt := NewTestTelemetry()
	counter, err := tt.Meter("augmentd.embeddings").Int64Counter("augmentd.embeddings.requests")
	require.NoError(t, err)
	counter.Add(context.Background(), 2)

	assert.Contains(t, tt.MetricNames(t), "augmentd.embeddings.requests")
}

func TestTestTelemetry_Shutdown(t *testing.T) {
	tt := NewTestTelemetry()
	_, span := tt.Tracer("test").Start(context.Background(), "work")
	span.End()

	require.NoError(t, tt.ForceFlush(context.Background()))
	require.NoError(t, tt.Shutdown(context.Background()))
	assert.False(t, tt.Health().Healthy)
}
