package httpapi

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"pkt.systems/pslog"
)

const meterName = "pkt.systems/booksden/httpapi"

type httpMetrics struct {
	requests metric.Int64Counter
	duration metric.Int64Histogram
}

func newHTTPMetrics(logger pslog.Logger) *httpMetrics {
	meter := otel.Meter(meterName)
	m := &httpMetrics{}
	var err error

	m.requests, err = meter.Int64Counter(
		"booksden.http.requests",
		metric.WithDescription("HTTP requests handled per route"),
	)
	logMetricInitError(logger, "booksden.http.requests", err)

	m.duration, err = meter.Int64Histogram(
		"booksden.http.duration",
		metric.WithDescription("HTTP request latency per route"),
		metric.WithUnit("ms"),
	)
	logMetricInitError(logger, "booksden.http.duration", err)

	return m
}

func (m *httpMetrics) record(ctx context.Context, operation string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("booksden.operation", operation),
		attribute.String("http.response.status_code", strconv.Itoa(status)),
		attribute.String("booksden.result", statusClass(status)),
	)
	if m.requests != nil {
		m.requests.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, elapsed.Milliseconds(), attrs)
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "server_error"
	case status >= 400:
		return "client_error"
	default:
		return "ok"
	}
}

func logMetricInitError(logger pslog.Logger, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("telemetry.metric.init_failed", "name", name, "error", err)
}
