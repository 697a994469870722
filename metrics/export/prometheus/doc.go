// Package prometheus exposes goAccess engine counters as a Prometheus
// collector.
//
// [NewPrometheusExporter] wraps an engine in a [prometheus.Collector] that
// reads [goAccess.Engine.MetricsSnapshot] on every scrape. Counter names are
// prefixed goaccess_*_total; the single histogram is
// goaccess_session_validate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register in the global Prometheus registry. Callers mount Handler or
//     register the collector themselves.
//   - Mutate engine state.
package prometheus
