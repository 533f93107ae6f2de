// Package ws streams state transitions to WebSocket clients. Each transition
// is broadcast as it happens; new clients get a short history replay on
// connect. Slow clients are disconnected instead of buffered indefinitely.
package ws
