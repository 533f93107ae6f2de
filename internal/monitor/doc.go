// Package monitor assembles the running system: it schedules probes from the
// initial configuration, routes transitions into alert delivery and the
// WebSocket stream, serves the status API, and applies configuration
// hot-reloads as diffs against the running service and notifier sets.
package monitor
