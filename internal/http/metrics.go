package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

const apiInstrumentationName = "github.com/fyrsmithlabs/augmentd/internal/http"

// Outcomes label augmentd.api.requests. Handlers set the domain outcomes;
// anything unset is derived from the status code.
const (
	OutcomeOK              = "ok"
	OutcomeEmpty           = "empty"
	OutcomeSkipped         = "skipped"
	OutcomeMemoryDisabled  = "memory_disabled"
	OutcomeRefused         = "refused"
	OutcomePartial         = "partial"
	OutcomeEmbeddingFailed = "embedding_failed"
	OutcomeInvalid         = "invalid"
	OutcomeError           = "error"
)

const outcomeKey = "augmentd.outcome"

func setOutcome(c echo.Context, outcome string) {
	c.Set(outcomeKey, outcome)
}

// apiMetrics records one data point per API call, labeled by route
// pattern, method, status and outcome.
type apiMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	inflight metric.Int64UpDownCounter
}

// newAPIMetrics falls back to no-op instruments if the provider rejects
// any of them.
func newAPIMetrics(mp metric.MeterProvider, logger *zap.Logger) *apiMetrics {
	m, err := buildAPIMetrics(mp.Meter(apiInstrumentationName))
	if err != nil {
		logger.Warn("api metrics disabled", zap.Error(err))
		m, _ = buildAPIMetrics(noop.NewMeterProvider().Meter(apiInstrumentationName))
	}
	return m
}

func buildAPIMetrics(meter metric.Meter) (*apiMetrics, error) {
	requests, err1 := meter.Int64Counter(
		"augmentd.api.requests",
		metric.WithDescription("API calls by route, method, status and outcome (skipped, empty, refused, partial, embedding_failed, ...)"),
		metric.WithUnit("{request}"),
	)
	duration, err2 := meter.Float64Histogram(
		"augmentd.api.request.duration",
		metric.WithDescription("API call latency, including embedding and memory backend round trips"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1, 1.5, 2.5, 5, 10, 30),
	)
	inflight, err3 := meter.Int64UpDownCounter(
		"augmentd.api.requests.inflight",
		metric.WithDescription("API calls in progress"),
		metric.WithUnit("{request}"),
	)
	if err := errors.Join(err1, err2, err3); err != nil {
		return nil, err
	}
	return &apiMetrics{requests: requests, duration: duration, inflight: inflight}, nil
}

func (m *apiMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()
			route := attribute.String("route", routeLabel(c))
			method := attribute.String("method", c.Request().Method)

			inflightAttrs := metric.WithAttributes(route, method)
			m.inflight.Add(ctx, 1, inflightAttrs)
			defer m.inflight.Add(ctx, -1, inflightAttrs)

			err := next(c)

			status := responseStatus(c, err)
			attrs := metric.WithAttributes(route, method,
				attribute.Int("status", status),
				attribute.String("outcome", outcomeOf(c, status)),
			)
			m.requests.Add(ctx, 1, attrs)
			m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			return err
		}
	}
}

// routeLabel is the registered pattern (/api/v1/memory/:id), so IDs never
// become label values.
func routeLabel(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return "unmatched"
}

// responseStatus covers errors that reach the middleware before echo's
// error handler has written a response.
func responseStatus(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

func outcomeOf(c echo.Context, status int) string {
	if v, ok := c.Get(outcomeKey).(string); ok {
		return v
	}
	switch {
	case status >= http.StatusInternalServerError:
		return OutcomeError
	case status >= http.StatusBadRequest:
		return OutcomeInvalid
	}
	return OutcomeOK
}
