package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/credpool"
	"github.com/MrEthical07/credpool/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() credpool.MetricsSnapshot
	AuditDropped() uint64
}

// usageSource is optionally implemented by sources that can report pool
// occupancy. *credpool.Pool implements it.
type usageSource interface {
	Usage() (credpool.Usage, error)
}

// PrometheusExporter renders pool metrics in Prometheus text exposition format.
type PrometheusExporter struct {
	source metricsSource
}

// NewPrometheusExporter creates an exporter reading from pool.
func NewPrometheusExporter(pool *credpool.Pool) *PrometheusExporter {
	return &PrometheusExporter{source: pool}
}

// NewPrometheusExporterFromSource creates an exporter from any snapshot source.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler serves Render over HTTP.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render returns the current metrics. It is empty when metrics are disabled
// and nothing else is reportable.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()

	var usage *credpool.Usage
	if us, ok := p.source.(usageSource); ok {
		if u, err := us.Usage(); err == nil {
			usage = &u
		}
	}

	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 && usage == nil {
		return ""
	}

	var b strings.Builder
	b.Grow(8192)

	if len(snapshot.Counters) > 0 {
		for _, def := range internaldefs.CounterDefs {
			writeCounter(&b, def.Name, def.Help, snapshot.Counters[def.ID])
		}
	}

	for _, def := range internaldefs.HistogramDefs {
		raw, ok := snapshot.Histograms[def.ID]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		writeHistogram(&b, def.Name, def.Help, cumulative)
	}

	writeCounter(&b, "credpool_audit_dropped_total", "Audit events dropped due to dispatcher backpressure.", dropped)

	if usage != nil {
		writeGauge(&b, "credpool_accounts", "Accounts in the store.", usage.TotalAccounts)
		writeGauge(&b, "credpool_accounts_available", "Accounts eligible for selection.", usage.AvailableAccounts)
		writeGauge(&b, "credpool_accounts_busy", "Accounts reserved by an in-flight call.", usage.BusyAccounts)
		writeGauge(&b, "credpool_accounts_rate_limited", "Accounts inside an exhausted window.", usage.RateLimitedAccounts)
	}

	return b.String()
}

func writeHeader(b *strings.Builder, name, help, kind string) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(kind)
	b.WriteByte('\n')
}

func writeCounter(b *strings.Builder, name, help string, value uint64) {
	writeHeader(b, name, help, "counter")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}

func writeGauge(b *strings.Builder, name, help string, value int) {
	writeHeader(b, name, help, "gauge")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(value))
	b.WriteByte('\n')
}

func writeHistogram(b *strings.Builder, name, help string, cumulative [8]uint64) {
	writeHeader(b, name, help, "histogram")

	for i, le := range internaldefs.HistogramBounds {
		b.WriteString(name)
		b.WriteString("_bucket{le=\"")
		b.WriteString(le)
		b.WriteString("\"} ")
		b.WriteString(strconv.FormatUint(cumulative[i], 10))
		b.WriteByte('\n')
	}

	b.WriteString(name)
	b.WriteString("_count ")
	b.WriteString(strconv.FormatUint(cumulative[len(cumulative)-1], 10))
	b.WriteByte('\n')

	// Buckets carry no sample sum.
	b.WriteString(name)
	b.WriteString("_sum 0\n")
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}
