// Package prometheus renders credential pool metrics in Prometheus text
// exposition format.
//
// [NewPrometheusExporter] reads a [credpool.Pool] and exposes an [http.Handler].
// Counters are named credpool_*_total, latency histograms credpool_*_seconds,
// and pool occupancy is published as credpool_accounts* gauges.
//
// # What this package must NOT do
//
//   - Register metrics in a global registry. Callers mount the Handler.
//   - Mutate pool state.
package prometheus
