package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/credpool"
	"github.com/MrEthical07/credpool/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() credpool.MetricsSnapshot
	AuditDropped() uint64
}

type usageSource interface {
	Usage() (credpool.Usage, error)
}

type observedCounter struct {
	id         credpool.MetricID
	instrument metric.Int64ObservableCounter
}

type observedHistogram struct {
	id      credpool.MetricID
	buckets [8]metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

type occupancyGauges struct {
	total       metric.Int64ObservableGauge
	available   metric.Int64ObservableGauge
	busy        metric.Int64ObservableGauge
	rateLimited metric.Int64ObservableGauge
}

// OTelExporter publishes pool metrics through observable instruments read on
// each collection.
type OTelExporter struct {
	source       metricsSource
	usage        usageSource
	registration metric.Registration
	counters     []observedCounter
	histograms   []observedHistogram
	occupancy    *occupancyGauges
	auditDropped metric.Int64ObservableCounter
}

// NewOTelExporter registers instruments for pool on meter.
func NewOTelExporter(meter metric.Meter, pool *credpool.Pool) (*OTelExporter, error) {
	if pool == nil {
		return nil, ErrNilSource
	}
	return NewOTelExporterFromSource(meter, pool)
}

// NewOTelExporterFromSource registers instruments for any snapshot source.
// Sources that also report Usage get occupancy gauges.
func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &OTelExporter{
		source:     source,
		counters:   make([]observedCounter, 0, len(internaldefs.CounterDefs)),
		histograms: make([]observedHistogram, 0, len(internaldefs.HistogramDefs)),
	}

	observables := make([]metric.Observable, 0, len(internaldefs.CounterDefs)+len(internaldefs.HistogramDefs)*9+5)

	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.Name, err)
		}
		exporter.counters = append(exporter.counters, observedCounter{id: def.ID, instrument: ins})
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		h := observedHistogram{id: def.ID}
		for i := 0; i < len(internaldefs.HistogramBoundSuffix); i++ {
			name := def.Name + "_bucket_le_" + internaldefs.HistogramBoundSuffix[i]
			ins, err := meter.Int64ObservableGauge(name, metric.WithDescription("Cumulative histogram bucket count."))
			if err != nil {
				return nil, fmt.Errorf("create histogram bucket gauge %s: %w", name, err)
			}
			h.buckets[i] = ins
			observables = append(observables, ins)
		}
		countName := def.Name + "_count"
		countIns, err := meter.Int64ObservableGauge(countName, metric.WithDescription("Histogram total sample count."))
		if err != nil {
			return nil, fmt.Errorf("create histogram count gauge %s: %w", countName, err)
		}
		h.count = countIns
		observables = append(observables, countIns)
		exporter.histograms = append(exporter.histograms, h)
	}

	auditDropped, err := meter.Int64ObservableCounter(
		"credpool_audit_dropped_total",
		metric.WithDescription("Audit events dropped due to dispatcher backpressure."),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	exporter.auditDropped = auditDropped
	observables = append(observables, auditDropped)

	if us, ok := source.(usageSource); ok {
		exporter.usage = us
		g := &occupancyGauges{}
		for _, gauge := range []struct {
			dst  *metric.Int64ObservableGauge
			name string
			help string
		}{
			{&g.total, "credpool_accounts", "Accounts in the store."},
			{&g.available, "credpool_accounts_available", "Accounts eligible for selection."},
			{&g.busy, "credpool_accounts_busy", "Accounts reserved by an in-flight call."},
			{&g.rateLimited, "credpool_accounts_rate_limited", "Accounts inside an exhausted window."},
		} {
			ins, err := meter.Int64ObservableGauge(gauge.name, metric.WithDescription(gauge.help))
			if err != nil {
				return nil, fmt.Errorf("create gauge %s: %w", gauge.name, err)
			}
			*gauge.dst = ins
			observables = append(observables, ins)
		}
		exporter.occupancy = g
	}

	registration, err := meter.RegisterCallback(exporter.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	exporter.registration = registration
	return exporter, nil
}

func (e *OTelExporter) observe(_ context.Context, observer metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		observer.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
	}
	for _, h := range e.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[h.id]))
		for i := 0; i < len(cumulative); i++ {
			observer.ObserveInt64(h.buckets[i], int64(cumulative[i]))
		}
		observer.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]))
	}
	observer.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))

	if e.occupancy != nil {
		u, err := e.usage.Usage()
		if err != nil {
			return err
		}
		observer.ObserveInt64(e.occupancy.total, int64(u.TotalAccounts))
		observer.ObserveInt64(e.occupancy.available, int64(u.AvailableAccounts))
		observer.ObserveInt64(e.occupancy.busy, int64(u.BusyAccounts))
		observer.ObserveInt64(e.occupancy.rateLimited, int64(u.RateLimitedAccounts))
	}
	return nil
}

// Close unregisters the callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
