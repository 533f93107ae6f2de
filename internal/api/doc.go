// Package api serves the operator status surface over HTTP: current state
// per service, transition history, delivery records, an aggregate health
// summary, the WebSocket transition stream, and Prometheus metrics. Optional
// API-key authentication covers everything except /metrics.
package api
