// Package telemetry owns the OpenTelemetry meter provider and the pipeline
// counters.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"audio-insights-go/internal/logger"
	"audio-insights-go/internal/types"
)

type Config struct {
	ServiceName string
	Environment string
	// Endpoint is the OTLP HTTP host:port. Empty keeps metrics in-process.
	Endpoint string
	Insecure bool
	Interval time.Duration
}

// InitMeter builds a meter provider and installs it globally. The returned
// provider must be shut down on exit.
func InitMeter(ctx context.Context, cfg Config, log *logger.Logger) (*sdkmetric.MeterProvider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.Endpoint != "" {
		expOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			expOpts = append(expOpts, otlpmetrichttp.WithInsecure())
		}
		exporter, err := otlpmetrichttp.New(ctx, expOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating metric exporter: %w", err)
		}
		var readerOpts []sdkmetric.PeriodicReaderOption
		if cfg.Interval > 0 {
			readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.Interval))
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	log.Component("telemetry").WithFields(map[string]any{
		"service":  cfg.ServiceName,
		"endpoint": cfg.Endpoint,
	}).Info("meter initialized")
	return mp, nil
}

// Metrics holds the pipeline counters.
type Metrics struct {
	jobsCompleted    metric.Int64Counter
	jobsUnreconciled metric.Int64Counter
	providerFailures metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	completed, err := meter.Int64Counter("jobs.completed",
		metric.WithDescription("Jobs that reached a terminal state, by status"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating jobs.completed counter: %w", err)
	}
	unreconciled, err := meter.Int64Counter("jobs.unreconciled",
		metric.WithDescription("Jobs whose state could not be persisted"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating jobs.unreconciled counter: %w", err)
	}
	failures, err := meter.Int64Counter("provider.failures",
		metric.WithDescription("Provider failures by step, provider and retryability"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating provider.failures counter: %w", err)
	}
	return &Metrics{jobsCompleted: completed, jobsUnreconciled: unreconciled, providerFailures: failures}, nil
}

// Nop returns counters that record nothing.
func Nop() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter("nop"))
	return m
}

func (m *Metrics) JobCompleted(ctx context.Context, status types.Status) {
	m.jobsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

func (m *Metrics) JobUnreconciled(ctx context.Context) {
	m.jobsUnreconciled.Add(ctx, 1)
}

func (m *Metrics) ProviderFailure(ctx context.Context, step, provider string, retryable bool) {
	m.providerFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step", step),
		attribute.String("provider", provider),
		attribute.Bool("retryable", retryable),
	))
}
