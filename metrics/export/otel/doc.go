// Package otel binds credential pool counters and histograms to OpenTelemetry
// observable instruments.
//
// [NewOTelExporter] registers an Int64ObservableCounter per counter, an
// Int64ObservableGauge per histogram bucket, and occupancy gauges. A single
// callback reads [credpool.Pool.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate pool state.
package otel
