// Package otel bridges session metrics into an OpenTelemetry meter.
//
// [NewExporter] registers observable instruments that read the manager's
// counter snapshot on every collection cycle. Histogram buckets are
// published as cumulative gauges, one instrument per bound, because the
// collector stores pre-bucketed counts rather than raw observations.
package otel
