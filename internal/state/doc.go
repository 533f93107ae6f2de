// Package state tracks per-service health and detects transitions.
//
// The Tracker owns the only mutable state table in the process. Update
// converts probe outcomes into Transitions: one is emitted exactly when the
// effective status differs from the recorded one, with optional consecutive-
// failure damping per service. Reads (State, States, History) take a shared
// lock and never block outcome processing.
//
// SaveSnapshot/LoadSnapshot persist the table to a JSON file so a restart can
// resume from the last known statuses instead of re-alerting; the snapshot is
// advisory and a missing or corrupt file simply means a fresh start.
package state
