package project

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/codexd/internal/project"

// resolverMetrics instruments the resolution chain. Without a configured
// meter provider the instruments are no-ops.
type resolverMetrics struct {
	resolutions metric.Int64Counter
	provisions  metric.Int64Counter
	recoveries  metric.Int64Counter
}

func newResolverMetrics(logger *zap.Logger) *resolverMetrics {
	meter := otel.Meter(instrumentationName)
	m := &resolverMetrics{}
	var err error

	m.resolutions, err = meter.Int64Counter(
		"codexd.resolve.total",
		metric.WithDescription("Project resolutions labeled by the tier that produced the result (explicit, config_file, integration, default)."),
		metric.WithUnit("{resolution}"),
	)
	if err != nil {
		logger.Warn("failed to create resolutions counter", zap.Error(err))
	}

	m.provisions, err = meter.Int64Counter(
		"codexd.provision.total",
		metric.WithDescription("Project databases provisioned, including idempotent re-runs."),
		metric.WithUnit("{database}"),
	)
	if err != nil {
		logger.Warn("failed to create provisions counter", zap.Error(err))
	}

	m.recoveries, err = meter.Int64Counter(
		"codexd.recovery.total",
		metric.WithDescription("Orphaned registry rows re-provisioned after their physical database went missing."),
		metric.WithUnit("{recovery}"),
	)
	if err != nil {
		logger.Warn("failed to create recoveries counter", zap.Error(err))
	}

	return m
}

func (m *resolverMetrics) recordResolution(ctx context.Context, tier string) {
	if m.resolutions != nil {
		m.resolutions.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
	}
}

func (m *resolverMetrics) recordProvision(ctx context.Context) {
	if m.provisions != nil {
		m.provisions.Add(ctx, 1)
	}
}

func (m *resolverMetrics) recordRecovery(ctx context.Context) {
	if m.recoveries != nil {
		m.recoveries.Add(ctx, 1)
	}
}
