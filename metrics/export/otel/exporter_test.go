package otel

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/MrEthical07/credpool"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot credpool.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() credpool.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := credpool.MetricsSnapshot{
		Counters:   make(map[credpool.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[credpool.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func findInt64(rm metricdata.ResourceMetrics, name string) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if len(data.DataPoints) > 0 {
					return data.DataPoints[0].Value, true
				}
			case metricdata.Gauge[int64]:
				if len(data.DataPoints) > 0 {
					return data.DataPoints[0].Value, true
				}
			}
		}
	}
	return 0, false
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newTestMeter()
	meter := provider.Meter("credpool-test")

	src := &fakeSource{
		snapshot: credpool.MetricsSnapshot{
			Counters: map[credpool.MetricID]uint64{
				credpool.MetricAccountSelected: 3,
			},
			Histograms: map[credpool.MetricID][]uint64{
				credpool.MetricSignInLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if v, ok := findInt64(rm, "credpool_account_selected_total"); !ok || v != 3 {
		t.Fatalf("expected account_selected 3, got %d (%v)", v, ok)
	}
	if v, ok := findInt64(rm, "credpool_signin_latency_seconds_count"); !ok || v != 8 {
		t.Fatalf("expected histogram count 8, got %d (%v)", v, ok)
	}
	if v, ok := findInt64(rm, "credpool_audit_dropped_total"); !ok || v != 1 {
		t.Fatalf("expected audit dropped 1, got %d (%v)", v, ok)
	}
	if _, ok := findInt64(rm, "credpool_accounts"); ok {
		t.Fatal("occupancy gauges registered for a source without Usage")
	}
}

func TestExporterPoolOccupancy(t *testing.T) {
	reader, provider := newTestMeter()

	cfg := credpool.DefaultConfig()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "accounts.json")
	cfg.Storage.Key = []byte("0123456789abcdef0123456789abcdef")
	pool, err := credpool.New().WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer pool.Close()
	if _, err := pool.AddAccount(context.Background(), credpool.AddAccountInput{Email: "a@example.com", Password: "pw"}); err != nil {
		t.Fatalf("AddAccount failed: %v", err)
	}

	exp, err := NewOTelExporter(provider.Meter("credpool-test"), pool)
	if err != nil {
		t.Fatalf("NewOTelExporter failed: %v", err)
	}
	defer exp.Close()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if v, ok := findInt64(rm, "credpool_accounts_available"); !ok || v != 1 {
		t.Fatalf("expected 1 available account, got %d (%v)", v, ok)
	}
}

func TestExporterRejectsNilSource(t *testing.T) {
	_, provider := newTestMeter()
	meter := provider.Meter("credpool-test")

	if _, err := NewOTelExporterFromSource(meter, nil); err == nil {
		t.Fatal("expected error for nil source")
	}
	if _, err := NewOTelExporter(meter, nil); err == nil {
		t.Fatal("expected error for nil pool")
	}
	if _, err := NewOTelExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newTestMeter()
	meter := provider.Meter("credpool-test")

	src := &fakeSource{
		snapshot: credpool.MetricsSnapshot{
			Counters: map[credpool.MetricID]uint64{
				credpool.MetricAccountSelected: 1,
			},
			Histograms: map[credpool.MetricID][]uint64{
				credpool.MetricSignInLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[credpool.MetricAccountSelected] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
