// Package prometheus renders session metrics in Prometheus text
// exposition format.
//
// [NewExporter] accepts a [sessionkit.Manager] and exposes an
// [net/http.Handler] that renders all counters and histograms. Counter
// names are prefixed sessionkit_*_total; the single histogram is
// sessionkit_refresh_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount
//     the Handler.
//   - Mutate manager state.
package prometheus
