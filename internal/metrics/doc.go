// Package metrics registers the monitor's Prometheus collectors: probe
// outcomes and latencies, skipped ticks, state transitions, delivery
// attempts, and config reloads. The API server exposes them on /metrics.
package metrics
