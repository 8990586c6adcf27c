package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/thebtf/clusterd/internal/engine"

// metrics holds the engine's instruments. With no SDK installed the global
// provider is a no-op.
type metrics struct {
	runs      metric.Int64Counter
	created   metric.Int64Counter
	merged    metric.Int64Counter
	sessions  metric.Int64Counter
	durations metric.Float64Histogram
}

func newMetrics(provider metric.MeterProvider) *metrics {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)
	m := &metrics{}

	var err error
	if m.runs, err = meter.Int64Counter("clusterd.runs",
		metric.WithDescription("Completed engine runs by operation and outcome")); err != nil {
		log.Warn().Err(err).Msg("Failed to create runs counter")
	}
	if m.created, err = meter.Int64Counter("clusterd.clusters.created",
		metric.WithDescription("Clusters created by autocluster")); err != nil {
		log.Warn().Err(err).Msg("Failed to create clusters counter")
	}
	if m.merged, err = meter.Int64Counter("clusterd.clusters.merged",
		metric.WithDescription("Clusters merged by autocluster or deduplication")); err != nil {
		log.Warn().Err(err).Msg("Failed to create merge counter")
	}
	if m.sessions, err = meter.Int64Counter("clusterd.sessions.clustered",
		metric.WithDescription("Sessions assigned to clusters")); err != nil {
		log.Warn().Err(err).Msg("Failed to create sessions counter")
	}
	if m.durations, err = meter.Float64Histogram("clusterd.run.duration",
		metric.WithDescription("Engine run duration"), metric.WithUnit("s")); err != nil {
		log.Warn().Err(err).Msg("Failed to create duration histogram")
	}
	return m
}

func (m *metrics) recordRun(ctx context.Context, op string, started time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(attribute.String("operation", op), attribute.String("outcome", outcome))
	if m.runs != nil {
		m.runs.Add(ctx, 1, attrs)
	}
	if m.durations != nil {
		m.durations.Record(ctx, time.Since(started).Seconds(), attrs)
	}
}

func (m *metrics) add(ctx context.Context, c metric.Int64Counter, n int, op string) {
	if c == nil || n == 0 {
		return
	}
	c.Add(ctx, int64(n), metric.WithAttributes(attribute.String("operation", op)))
}
