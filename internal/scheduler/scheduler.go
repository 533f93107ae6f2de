package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/pulsewatch/pulsewatch/internal/config"
	"github.com/pulsewatch/pulsewatch/internal/metrics"
	"github.com/pulsewatch/pulsewatch/internal/probe"
	"github.com/pulsewatch/pulsewatch/internal/state"
)

// DuplicateServiceError reports an attempt to schedule a service name that is
// already scheduled.
type DuplicateServiceError struct {
	Name string
}

func (e *DuplicateServiceError) Error() string {
	return fmt.Sprintf("scheduler: service %q is already scheduled", e.Name)
}

// ProberFactory builds a Prober for a service spec. Injectable so tests can
// schedule fake probes without standing up endpoints.
type ProberFactory func(*config.ServiceSpec) (probe.Prober, error)

// Scheduler runs each service's probe on its own cadence.
//
// Concurrency model: one timer goroutine per service; probe invocations run
// in their own goroutines, gated by a global weighted semaphore. A tick that
// finds no free slot waits for one (deferred, never dropped); a tick that
// fires while the same service's previous probe is still outstanding is
// skipped and logged, so a hanging endpoint cannot pile up probes.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[string]*task
	sem    *semaphore.Weighted
	closed bool

	tracker      *state.Tracker
	onTransition func(*state.Transition)
	newProber    ProberFactory

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// task is one scheduled service: its spec, its prober, and the cancel handle
// for its timer loop and in-flight probe.
type task struct {
	spec     *config.ServiceSpec
	prober   probe.Prober
	cancel   context.CancelFunc
	inflight atomic.Bool
}

// New creates a Scheduler feeding outcomes into tracker and transitions into
// onTransition. maxConcurrent bounds in-flight probes across all services.
// factory may be nil, in which case probe.New is used.
func New(maxConcurrent int, tracker *state.Tracker, onTransition func(*state.Transition), factory ProberFactory) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if factory == nil {
		factory = probe.New
	}
	if onTransition == nil {
		onTransition = func(*state.Transition) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		tasks:        make(map[string]*task),
		sem:          semaphore.NewWeighted(int64(maxConcurrent)),
		tracker:      tracker,
		onTransition: onTransition,
		newProber:    factory,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Schedule registers a timer-driven probe task for spec. The first probe runs
// immediately; subsequent probes follow spec.Interval. Scheduling a name that
// is already present returns a DuplicateServiceError.
func (s *Scheduler) Schedule(spec *config.ServiceSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("scheduler: stopped")
	}
	if _, ok := s.tasks[spec.Name]; ok {
		return &DuplicateServiceError{Name: spec.Name}
	}
	return s.startLocked(spec)
}

// Unschedule cancels the service's timer and in-flight probe. A probe result
// that arrives after cancellation is discarded rather than applied to state.
// Unscheduling an absent name is a no-op.
func (s *Scheduler) Unschedule(name string) {
	s.mu.Lock()
	t, ok := s.tasks[name]
	if ok {
		delete(s.tasks, name)
	}
	s.mu.Unlock()

	if ok {
		t.cancel()
		slog.Info("scheduler: unscheduled", "service", name)
	}
}

// Reschedule atomically replaces the cadence and probe configuration of an
// existing service. Its tracked state is untouched, so a cadence-only change
// never produces a spurious transition.
func (s *Scheduler) Reschedule(spec *config.ServiceSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("scheduler: stopped")
	}
	t, ok := s.tasks[spec.Name]
	if !ok {
		return fmt.Errorf("scheduler: service %q is not scheduled", spec.Name)
	}

	t.cancel()
	return s.startLocked(spec)
}

// SetMaxConcurrent replaces the global probe ceiling. Probes already holding
// a slot release it against the semaphore they acquired from.
func (s *Scheduler) SetMaxConcurrent(n int) {
	if n <= 0 {
		n = 1
	}
	s.mu.Lock()
	s.sem = semaphore.NewWeighted(int64(n))
	s.mu.Unlock()
}

// Services returns the names of all currently scheduled services, sorted.
func (s *Scheduler) Services() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Stop cancels all timers and in-flight probes and waits up to grace for
// probe goroutines to finish.
func (s *Scheduler) Stop(grace time.Duration) {
	s.mu.Lock()
	s.closed = true
	s.tasks = make(map[string]*task)
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		slog.Warn("scheduler: grace period elapsed with probes still in flight")
	}
}

// startLocked builds the prober and launches the timer loop. Caller holds s.mu.
func (s *Scheduler) startLocked(spec *config.ServiceSpec) error {
	prober, err := s.newProber(spec)
	if err != nil {
		return fmt.Errorf("scheduler: service %q: %w", spec.Name, err)
	}

	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{spec: spec, prober: prober, cancel: cancel}
	s.tasks[spec.Name] = t
	s.tracker.SetFailureThreshold(spec.Name, spec.FailureThreshold)

	s.wg.Add(1)
	go s.run(ctx, t)

	slog.Info("scheduler: scheduled",
		"service", spec.Name,
		"kind", spec.Kind,
		"interval", spec.Interval,
		"timeout", spec.Timeout,
	)
	return nil
}

// run is the per-service timer loop. The first probe fires immediately.
func (s *Scheduler) run(ctx context.Context, t *task) {
	defer s.wg.Done()

	ticker := time.NewTicker(t.spec.Interval)
	defer ticker.Stop()

	s.tick(ctx, t)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, t)
		}
	}
}

// tick launches one probe if the service has none outstanding. Waiting for a
// global slot defers the tick; an outstanding probe for the same service
// skips it.
func (s *Scheduler) tick(ctx context.Context, t *task) {
	if !t.inflight.CompareAndSwap(false, true) {
		metrics.TicksSkipped.WithLabelValues(t.spec.Name).Inc()
		slog.Warn("scheduler: tick skipped — previous probe still in flight",
			"service", t.spec.Name)
		return
	}

	s.mu.Lock()
	sem := s.sem
	s.mu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		t.inflight.Store(false)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer sem.Release(1)
		defer t.inflight.Store(false)
		s.probe(ctx, t)
	}()
}

// probe runs one bounded probe invocation and feeds the outcome forward.
func (s *Scheduler) probe(ctx context.Context, t *task) {
	probeCtx, cancel := context.WithTimeout(ctx, t.spec.Timeout)
	defer cancel()

	out := t.prober.Check(probeCtx)

	if errors.Is(probeCtx.Err(), context.DeadlineExceeded) {
		out.Status = probe.StatusDown
		out.Error = "timeout"
	}

	// The service may have been unscheduled while the probe was running —
	// a late result must not touch state it no longer owns.
	if ctx.Err() != nil {
		slog.Debug("scheduler: discarding late probe result", "service", t.spec.Name)
		return
	}

	metrics.ProbesTotal.WithLabelValues(out.Service, string(out.Status)).Inc()
	metrics.ProbeDuration.WithLabelValues(out.Service).Observe(out.Latency.Seconds())

	slog.Debug("scheduler: probe complete",
		"service", out.Service,
		"status", out.Status,
		"latency", out.Latency,
	)

	if tr := s.tracker.Update(out); tr != nil {
		metrics.TransitionsTotal.WithLabelValues(tr.Service, string(tr.NewStatus)).Inc()
		s.onTransition(tr)
	}
}
