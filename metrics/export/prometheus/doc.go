// Package prometheus renders openidstore metrics in Prometheus text
// exposition format.
//
// [NewPrometheusExporter] accepts an [openidstore.Store] and exposes an
// [http.Handler]. Counter names are prefixed openidstore_ and end in _total;
// latency histograms are rendered only when the store has them enabled.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount the Handler.
//   - Mutate store state.
package prometheus
