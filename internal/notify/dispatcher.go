package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pulsewatch/pulsewatch/internal/config"
	"github.com/pulsewatch/pulsewatch/internal/state"
)

const (
	// queueDepth bounds pending transitions per service. A full queue evicts
	// its oldest entry so the most recent state is always the one delivered
	// last; on a service flapping faster than its notifiers can deliver,
	// dropping stale news beats unbounded growth.
	queueDepth = 128

	// maxDeliveryRecords bounds the in-memory delivery record ring.
	maxDeliveryRecords = 200
)

// DeliveryRecord is the observable result of one notifier's delivery for one
// transition, after retries.
type DeliveryRecord struct {
	Notifier  string    `json:"notifier"`
	Kind      string    `json:"kind"`
	Service   string    `json:"service"`
	NewStatus string    `json:"new_status"`
	Attempts  int       `json:"attempts"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// target pairs a built notifier with its retry policy and optional delivery
// concurrency gate.
type target struct {
	n    Notifier
	spec *config.NotifierSpec
	sem  chan struct{} // nil = unlimited concurrent deliveries
}

// Dispatcher fans each transition out to every configured notifier.
//
// Ordering: transitions for one service are delivered in the order they were
// generated (one FIFO queue and worker per service); notifiers for one
// transition run concurrently; different services are independent. A notifier
// set is captured when a transition is enqueued, so deliveries started before
// a reload finish with the configuration they started with.
type Dispatcher struct {
	mu      sync.Mutex
	targets []*target
	queues  map[string]chan job
	closed  bool

	recMu   sync.Mutex
	records []DeliveryRecord

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time
}

type job struct {
	tr      *state.Transition
	targets []*target
}

// NewDispatcher returns a Dispatcher with no notifiers configured.
// Dispatching with an empty notifier set is a no-op.
func NewDispatcher() *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		queues: make(map[string]chan job),
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
	}
}

// Configure builds notifiers from specs and atomically replaces the active
// set. If any notifier fails to build, the previous set stays active and the
// error names the offending entry — a broken reload must not half-apply.
func (d *Dispatcher) Configure(specs map[string]*config.NotifierSpec) error {
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	targets := make([]*target, 0, len(specs))
	for _, name := range names {
		spec := specs[name]
		n, err := New(spec)
		if err != nil {
			return fmt.Errorf("notifier %q: %w", name, err)
		}
		t := &target{n: n, spec: spec}
		if spec.MaxConcurrent > 0 {
			t.sem = make(chan struct{}, spec.MaxConcurrent)
		}
		targets = append(targets, t)
	}

	d.mu.Lock()
	d.targets = targets
	d.mu.Unlock()
	return nil
}

// Dispatch enqueues a transition for delivery through the currently
// configured notifiers. It never blocks the caller: when a service's queue is
// full the oldest pending transition is evicted to admit the new one, and the
// drop is logged.
func (d *Dispatcher) Dispatch(tr *state.Transition) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	targets := d.targets
	if len(targets) == 0 {
		return
	}

	q, ok := d.queues[tr.Service]
	if !ok {
		q = make(chan job, queueDepth)
		d.queues[tr.Service] = q
		d.wg.Add(1)
		go d.worker(q)
	}

	select {
	case q <- job{tr: tr, targets: targets}:
	default:
		// Full queue: evict the oldest pending transition to make room. The
		// newest state is the one worth telling anyone about. Only Dispatch
		// adds to q and it holds d.mu, so after one receive the send below
		// cannot race another producer for the freed slot.
		select {
		case old := <-q:
			slog.Error("notify: transition queue full — dropping oldest alert",
				"service", old.tr.Service, "new", old.tr.NewStatus)
		default:
		}
		select {
		case q <- job{tr: tr, targets: targets}:
		default:
		}
	}
}

// Quiesce tears down the queue and worker for a service that is no longer
// monitored. Already-queued transitions still drain; new dispatches for the
// same name lazily create a fresh queue.
func (d *Dispatcher) Quiesce(service string) {
	d.mu.Lock()
	q, ok := d.queues[service]
	if ok {
		delete(d.queues, service)
	}
	d.mu.Unlock()

	if ok {
		close(q)
	}
}

// Records returns up to limit delivery records, most recent first.
// limit <= 0 returns the full retained set.
func (d *Dispatcher) Records(limit int) []DeliveryRecord {
	d.recMu.Lock()
	defer d.recMu.Unlock()

	n := len(d.records)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]DeliveryRecord, 0, n)
	for i := len(d.records) - 1; i >= len(d.records)-n; i-- {
		out = append(out, d.records[i])
	}
	return out
}

// Close stops accepting transitions, lets queued deliveries drain for up to
// grace, then cancels whatever is still in flight.
func (d *Dispatcher) Close(grace time.Duration) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		slog.Warn("notify: grace period elapsed — cancelling in-flight deliveries")
		d.cancel()
		<-done
	}
	d.cancel()
}

// worker drains one service's queue. Per-service serialization is what keeps
// a DOWN alert from being observed after the later UP alert.
func (d *Dispatcher) worker(q chan job) {
	defer d.wg.Done()
	for j := range q {
		d.process(j)
	}
}

// process delivers one transition through every notifier concurrently and
// waits for all of them before the worker moves to the next transition.
func (d *Dispatcher) process(j job) {
	msg := NewMessage(j.tr)

	var wg sync.WaitGroup
	for _, t := range j.targets {
		wg.Add(1)
		go func(t *target) {
			defer wg.Done()
			d.send(t, j.tr, msg)
		}(t)
	}
	wg.Wait()
}

// send runs one notifier's render + retry loop and records the outcome.
// A failed notifier affects nothing but its own record and log line.
func (d *Dispatcher) send(t *target, tr *state.Transition, msg Message) {
	if t.sem != nil {
		select {
		case t.sem <- struct{}{}:
			defer func() { <-t.sem }()
		case <-d.ctx.Done():
			return
		}
	}

	subjectTmpl := t.spec.SubjectTemplate
	if subjectTmpl == "" {
		subjectTmpl = DefaultSubjectTemplate
	}
	bodyTmpl := t.spec.BodyTemplate
	if bodyTmpl == "" {
		bodyTmpl = DefaultBodyTemplate
	}
	subject := Render(subjectTmpl, msg)
	body := Render(bodyTmpl, msg)

	attempts, err := deliver(d.ctx, t.n, subject, body, t.spec.Retry)

	rec := DeliveryRecord{
		Notifier:  t.n.Name(),
		Kind:      t.n.Kind(),
		Service:   tr.Service,
		NewStatus: string(tr.NewStatus),
		Attempts:  attempts,
		Success:   err == nil,
		Timestamp: d.now(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	d.record(rec)

	if err != nil {
		slog.Error("notify: delivery failed",
			"notifier", t.n.Name(),
			"service", tr.Service,
			"attempts", attempts,
			"err", err,
		)
		return
	}
	slog.Info("notify: delivered",
		"notifier", t.n.Name(),
		"service", tr.Service,
		"new", tr.NewStatus,
		"attempts", attempts,
	)
}

func (d *Dispatcher) record(rec DeliveryRecord) {
	d.recMu.Lock()
	defer d.recMu.Unlock()
	d.records = append(d.records, rec)
	if len(d.records) > maxDeliveryRecords {
		d.records = d.records[len(d.records)-maxDeliveryRecords:]
	}
}
