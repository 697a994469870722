// Package otel publishes goAccess engine metrics through an OpenTelemetry
// Meter supplied by the host.
//
// Every engine counter becomes an Int64ObservableCounter. Session
// validation latency is a cumulative bucket gauge labelled by "le" with a
// separate sample count, and the registry's live session statistics are
// reported as gauges. One callback does all reads per collection cycle.
package otel
