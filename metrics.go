package credpool

import (
	"time"

	"github.com/MrEthical07/credpool/internal/metrics"
)

// MetricID names one counter or histogram.
type MetricID uint16

const (
	// MetricAccountSelected counts successful selections.
	MetricAccountSelected MetricID = iota
	// MetricNoAvailableAccount counts selections that found nothing eligible.
	MetricNoAvailableAccount
	// MetricAccountRateLimited counts accounts parked after exhausting a window or an upstream rejection.
	MetricAccountRateLimited
	// MetricRequestSuccess counts calls reported successful.
	MetricRequestSuccess
	// MetricRequestFailure counts calls reported failed.
	MetricRequestFailure
	// MetricUpstreamRateLimitHit counts rate or quota rejections from the upstream.
	MetricUpstreamRateLimitHit
	// MetricAuthFailure counts credential rejections during sign-in or calls.
	MetricAuthFailure
	// MetricRetry counts attempts after the first within Do.
	MetricRetry
	// MetricRetryExhausted counts Do calls ending in AllAccountsRateLimitedError.
	MetricRetryExhausted
	// MetricValidationSuccess counts accepted credential checks.
	MetricValidationSuccess
	// MetricValidationFailure counts rejected credential checks.
	MetricValidationFailure
	// MetricValidationTimeout counts credential checks that timed out.
	MetricValidationTimeout
	// MetricTokenCacheHit counts sign-ins avoided by the token cache.
	MetricTokenCacheHit
	// MetricTokenCacheMiss counts sign-ins performed.
	MetricTokenCacheMiss
	// MetricAccountAdded counts accounts added.
	MetricAccountAdded
	// MetricAccountRemoved counts accounts removed.
	MetricAccountRemoved
	// MetricRateLimitReset counts administrative resets.
	MetricRateLimitReset
	metricCounterCount
)

// Histogram ids follow the counters.
const (
	// MetricSignInLatency is the sign-in round trip histogram.
	MetricSignInLatency MetricID = metricCounterCount + iota
	// MetricWaitLatency is the time spent in WaitForAvailableAccount.
	MetricWaitLatency
	metricHistogramEnd
)

const metricHistogramBase = MetricSignInLatency

// Metrics is the pool's in-process metric storage. A nil *Metrics records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	set           *metrics.Set
}

// MetricsSnapshot is a point-in-time copy. Histogram buckets are non-cumulative.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics allocates storage according to cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	m := &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
	histograms := 0
	if m.enableLatency {
		histograms = int(metricHistogramEnd - metricHistogramBase)
	}
	if m.enabled {
		m.set = metrics.New(int(metricCounterCount), histograms)
	}
	return m
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether histograms are recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to a counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricCounterCount {
		return
	}
	m.set.Inc(int(id))
}

// Observe records a latency sample.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id < metricHistogramBase || id >= metricHistogramEnd {
		return
	}
	m.set.Observe(int(id-metricHistogramBase), d)
}

// Value reads a counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricCounterCount {
		return 0
	}
	return m.set.Counter(int(id))
}

// Snapshot copies every counter and histogram.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricCounterCount)),
		Histograms: make(map[MetricID][]uint64, int(metricHistogramEnd-metricHistogramBase)),
	}
	for id := MetricID(0); id < metricCounterCount; id++ {
		s.Counters[id] = m.set.Counter(int(id))
	}
	if m.enableLatency {
		for id := metricHistogramBase; id < metricHistogramEnd; id++ {
			s.Histograms[id] = m.set.Buckets(int(id - metricHistogramBase))
		}
	}
	return s
}
