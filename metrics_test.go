package credpool

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricAccountSelected)

	if got := m.Value(MetricAccountSelected); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatalf("expected empty snapshot, got %d counters", len(snap.Counters))
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 16
	const perG = 2000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricRequestSuccess)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricRequestSuccess); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramsOnlyForLatencyIDs(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	m.Observe(MetricSignInLatency, 3*time.Millisecond)
	m.Observe(MetricSignInLatency, 300*time.Millisecond)
	m.Observe(MetricWaitLatency, 2*time.Second)
	m.Observe(MetricAccountSelected, time.Millisecond)

	snap := m.Snapshot()
	signIn := snap.Histograms[MetricSignInLatency]
	if len(signIn) != 8 || signIn[0] != 1 || signIn[6] != 1 {
		t.Fatalf("unexpected sign-in buckets: %v", signIn)
	}
	if wait := snap.Histograms[MetricWaitLatency]; wait[7] != 1 {
		t.Fatalf("unexpected wait buckets: %v", wait)
	}
	if _, ok := snap.Histograms[MetricAccountSelected]; ok {
		t.Fatal("counter id must not produce a histogram")
	}
}

func TestMetricsLatencyDisabled(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Observe(MetricSignInLatency, time.Millisecond)
	if snap := m.Snapshot(); len(snap.Histograms) != 0 {
		t.Fatalf("expected no histograms, got %v", snap.Histograms)
	}
}
