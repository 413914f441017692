// Package prometheus exposes goToken engine metrics through
// prometheus/client_golang.
//
// [NewCollector] wraps a [goToken.Engine] as a prometheus.Collector. Register it
// with your own registry, or mount [Collector.Handler] which serves it from a
// private one. Counters are named gotoken_*_total; the decode latency
// histogram is gotoken_decode_latency_seconds.
//
// # What this package must NOT do
//
//   - Register with the global Prometheus registry.
//   - Mutate engine state.
package prometheus
