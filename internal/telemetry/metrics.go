// Package telemetry bootstraps the OpenTelemetry meter provider and owns the
// pipeline's counters. When no OTLP endpoint is configured the global no-op
// meter is used, so instrumented code needs no conditionals.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// InitMeterProvider bootstraps the OpenTelemetry MeterProvider with an
// OTLP/gRPC metric exporter targeting the given endpoint. Metrics are flushed
// periodically via a PeriodicReader. The caller must defer mp.Shutdown(ctx)
// to flush pending metrics.
func InitMeterProvider(ctx context.Context, serviceName, endpoint string) (*sdkmetric.MeterProvider, error) {
	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		)),
	)

	otel.SetMeterProvider(mp)
	return mp, nil
}

// Metrics are the pipeline-wide counters shared by the gateway and stages.
type Metrics struct {
	RecordsConsumed  metric.Int64Counter
	DeadLetters      metric.Int64Counter
	FetchSuccesses   metric.Int64Counter
	FetchFailures    metric.Int64Counter
	RecordsPublished metric.Int64Counter
}

// NewMetrics registers the counters on the global meter provider.
func NewMetrics(serviceName string) (*Metrics, error) {
	meter := otel.Meter(serviceName)
	var (
		m   Metrics
		err error
	)
	if m.RecordsConsumed, err = meter.Int64Counter("scrawler.records.consumed"); err != nil {
		return nil, err
	}
	if m.DeadLetters, err = meter.Int64Counter("scrawler.records.dead_letters"); err != nil {
		return nil, err
	}
	if m.FetchSuccesses, err = meter.Int64Counter("scrawler.fetch.successes"); err != nil {
		return nil, err
	}
	if m.FetchFailures, err = meter.Int64Counter("scrawler.fetch.failures"); err != nil {
		return nil, err
	}
	if m.RecordsPublished, err = meter.Int64Counter("scrawler.records.published"); err != nil {
		return nil, err
	}
	return &m, nil
}
