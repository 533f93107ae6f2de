package state

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pulsewatch/pulsewatch/internal/probe"
)

// uptimeWindow is the number of recent probe outcomes tracked for uptime %.
const uptimeWindow = 20

// Transition is a recorded change in a service's health classification.
// OldStatus is unknown on the first observation of a service. Immutable once
// created; consumed by the dispatcher and kept in the history ring.
type Transition struct {
	Service   string            `json:"service"`
	Kind      string            `json:"kind"`
	OldStatus probe.Status      `json:"old_status"`
	NewStatus probe.Status      `json:"new_status"`
	Timestamp time.Time         `json:"timestamp"`
	Latency   time.Duration     `json:"latency"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ServiceState is a point-in-time copy of one service's tracked state,
// safe for callers to hold after the tracker has moved on.
type ServiceState struct {
	Service     string         `json:"service"`
	Kind        string         `json:"kind"`
	Status      probe.Status   `json:"status"`
	Since       time.Time      `json:"since"`
	LastOutcome *probe.Outcome `json:"last_outcome,omitempty"`
	Checks      int            `json:"checks"`
	UptimePct   float64        `json:"uptime_pct"`
}

// serviceState is the live mutable record behind ServiceState.
type serviceState struct {
	kind        string
	status      probe.Status
	since       time.Time
	lastOutcome *probe.Outcome
	checks      int
	failures    int    // consecutive non-up outcomes
	threshold   int    // non-up outcomes required before a down flip
	window      []bool // recent outcome successes, newest last
}

// Tracker maintains the per-service state table and converts outcomes into
// transitions. A transition is emitted if and only if the effective new state
// differs from the recorded one; the state write and the returned transition
// are produced under one lock acquisition, so callers observe them
// atomically.
//
// First-observation policy: the first reading of a service that is already
// down or degraded emits a transition (old status unknown) so an operator
// hears about services that are broken at startup. The first healthy reading
// records state silently — starting the monitor is not news.
//
// All methods are safe for concurrent use. Reads take a shared lock so they
// never stall outcome processing.
type Tracker struct {
	mu          sync.RWMutex
	states      map[string]*serviceState
	history     []*Transition // oldest first; bounded by historySize
	historySize int
	now         func() time.Time // injectable for deterministic tests
}

// New returns a Tracker whose transition history holds at most historySize
// entries.
func New(historySize int) *Tracker {
	if historySize <= 0 {
		historySize = 1
	}
	return &Tracker{
		states:      make(map[string]*serviceState),
		historySize: historySize,
		now:         time.Now,
	}
}

// SetFailureThreshold sets how many consecutive non-up outcomes service needs
// before it flips to down or degraded. 1 (the default) makes every outcome
// authoritative. Recoveries always flip immediately.
func (t *Tracker) SetFailureThreshold(service string, n int) {
	if n < 1 {
		n = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateFor(service).threshold = n
}

// Update ingests an outcome and returns the transition it caused, or nil when
// the service's state is unchanged. The last outcome, check count, and uptime
// window are updated either way.
func (t *Tracker) Update(out *probe.Outcome) *Transition {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.stateFor(out.Service)
	st.kind = out.Kind
	st.lastOutcome = out
	st.checks++
	st.recordWindow(out.Status == probe.StatusUp)

	if out.Status == probe.StatusUp {
		st.failures = 0
	} else {
		st.failures++
	}

	newStatus := t.effectiveStatus(st, out)
	if newStatus == st.status {
		return nil
	}

	old := st.status
	if old == "" {
		old = probe.StatusUnknown
	}

	// First healthy observation: record silently, no transition.
	if st.status == "" || st.status == probe.StatusUnknown {
		if newStatus == probe.StatusUp {
			st.status = newStatus
			st.since = out.Timestamp
			slog.Info("state: initial reading", "service", out.Service, "status", newStatus)
			return nil
		}
	}

	st.status = newStatus
	st.since = out.Timestamp

	tr := &Transition{
		Service:   out.Service,
		Kind:      out.Kind,
		OldStatus: old,
		NewStatus: newStatus,
		Timestamp: out.Timestamp,
		Latency:   out.Latency,
		Error:     out.Error,
		Metadata:  out.Metadata,
	}
	t.appendHistory(tr)

	slog.Warn("state: transition",
		"service", out.Service,
		"old", tr.OldStatus,
		"new", tr.NewStatus,
		"error", out.Error,
	)
	return tr
}

// effectiveStatus applies flap damping: a non-up outcome only counts once the
// service has failed threshold times in a row. Until then the recorded state
// stands (or up, for a service that has never been observed).
func (t *Tracker) effectiveStatus(st *serviceState, out *probe.Outcome) probe.Status {
	if out.Status == probe.StatusUp {
		return probe.StatusUp
	}

	threshold := st.threshold
	if threshold < 1 {
		threshold = 1
	}
	if st.failures >= threshold {
		return out.Status
	}

	// Below threshold — hold the current state.
	if st.status == "" {
		return probe.StatusUnknown
	}
	return st.status
}

// State returns the current state of one service. The second return is false
// if the service has never been observed.
func (t *Tracker) State(service string) (ServiceState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.states[service]
	if !ok {
		return ServiceState{}, false
	}
	return t.export(service, st), true
}

// States returns a copy of every tracked service's state, sorted by name.
func (t *Tracker) States() []ServiceState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]ServiceState, 0, len(t.states))
	for name, st := range t.states {
		out = append(out, t.export(name, st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// History returns up to limit transitions, most recent first. limit <= 0
// returns the full retained history.
func (t *Tracker) History(limit int) []*Transition {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := len(t.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*Transition, 0, n)
	for i := len(t.history) - 1; i >= len(t.history)-n; i-- {
		out = append(out, t.history[i])
	}
	return out
}

// Forget removes a service's state. Unscheduling alone does not call this —
// the last known state stays queryable until the operator clears it.
func (t *Tracker) Forget(service string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, service)
}

func (t *Tracker) stateFor(service string) *serviceState {
	if st, ok := t.states[service]; ok {
		return st
	}
	st := &serviceState{status: probe.StatusUnknown, threshold: 1}
	t.states[service] = st
	return st
}

func (t *Tracker) appendHistory(tr *Transition) {
	t.history = append(t.history, tr)
	if len(t.history) > t.historySize {
		t.history = t.history[len(t.history)-t.historySize:]
	}
}

func (t *Tracker) export(name string, st *serviceState) ServiceState {
	return ServiceState{
		Service:     name,
		Kind:        st.kind,
		Status:      st.status,
		Since:       st.since,
		LastOutcome: st.lastOutcome,
		Checks:      st.checks,
		UptimePct:   st.uptimePct(),
	}
}

func (st *serviceState) recordWindow(success bool) {
	if len(st.window) >= uptimeWindow {
		st.window = st.window[1:]
	}
	st.window = append(st.window, success)
}

func (st *serviceState) uptimePct() float64 {
	if len(st.window) == 0 {
		return 100 // assume up before first observation
	}
	var ok int
	for _, s := range st.window {
		if s {
			ok++
		}
	}
	return float64(ok) / float64(len(st.window)) * 100
}
