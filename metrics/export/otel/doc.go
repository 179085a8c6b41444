// Package otel binds openidstore counters and latency histograms to
// OpenTelemetry observable instruments.
//
// [NewOTelExporter] registers an Int64ObservableCounter per store counter and an
// Int64ObservableGauge per histogram bucket. A single callback reads
// [openidstore.Store.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider. Callers supply the Meter.
//   - Mutate store state.
package otel
