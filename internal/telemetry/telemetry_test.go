package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"audio-insights-go/internal/logger"
	"audio-insights-go/internal/types"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Sum[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := map[string]metricdata.Sum[int64]{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				out[m.Name] = sum
			}
		}
	}
	return out
}

func TestMetricsCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	ctx := context.Background()
	m.JobCompleted(ctx, types.StatusSucceeded)
	m.JobCompleted(ctx, types.StatusSucceeded)
	m.JobCompleted(ctx, types.StatusFailed)
	m.JobUnreconciled(ctx)
	m.ProviderFailure(ctx, "transcription", "groq", true)

	got := collect(t, reader)
	completed := got["jobs.completed"]
	if len(completed.DataPoints) != 2 {
		t.Fatalf("jobs.completed points = %d, want 2", len(completed.DataPoints))
	}
	for _, dp := range completed.DataPoints {
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		want := map[string]int64{"succeeded": 2, "failed": 1}[status.AsString()]
		if dp.Value != want {
			t.Errorf("jobs.completed{status=%s} = %d, want %d", status.AsString(), dp.Value, want)
		}
	}
	if dp := got["jobs.unreconciled"].DataPoints; len(dp) != 1 || dp[0].Value != 1 {
		t.Fatalf("jobs.unreconciled = %+v", dp)
	}
	failures := got["provider.failures"].DataPoints
	if len(failures) != 1 {
		t.Fatalf("provider.failures = %+v", failures)
	}
	if v, _ := failures[0].Attributes.Value("retryable"); !v.AsBool() {
		t.Fatalf("retryable attribute = %v", v)
	}
}

func TestInitMeterWithoutEndpoint(t *testing.T) {
	mp, err := InitMeter(context.Background(), Config{ServiceName: "test"}, logger.NewNop())
	if err != nil {
		t.Fatalf("InitMeter: %v", err)
	}
	if err := mp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestNop(t *testing.T) {
	Nop().JobCompleted(context.Background(), types.StatusFailed)
}
