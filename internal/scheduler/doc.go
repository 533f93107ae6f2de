// Package scheduler owns the per-service probe timers.
//
// Schedule, Unschedule, and Reschedule mutate the live task table; all three
// are safe to call while probes are running, which is what configuration
// hot-reload relies on. Probe failures are contained: they become outcomes
// for the state tracker, never errors out of the scheduler.
package scheduler
