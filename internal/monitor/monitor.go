package monitor

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/pulsewatch/pulsewatch/internal/api"
	"github.com/pulsewatch/pulsewatch/internal/config"
	"github.com/pulsewatch/pulsewatch/internal/metrics"
	"github.com/pulsewatch/pulsewatch/internal/notify"
	"github.com/pulsewatch/pulsewatch/internal/scheduler"
	"github.com/pulsewatch/pulsewatch/internal/state"
	"github.com/pulsewatch/pulsewatch/internal/ws"
)

// shutdownGrace bounds how long in-flight probes and deliveries may run
// after shutdown begins.
const shutdownGrace = 10 * time.Second

// Monitor wires the scheduler, state tracker, dispatcher, status API, and
// configuration hot-reload into one running system.
type Monitor struct {
	mu  sync.Mutex // serializes Apply — reloads never run concurrently
	cfg *config.Config

	tracker    *state.Tracker
	dispatcher *notify.Dispatcher
	sched      *scheduler.Scheduler
	hub        *ws.Hub

	snapMu sync.Mutex
}

// New builds a Monitor from the initial configuration and schedules every
// configured service. The first probes start immediately.
func New(cfg *config.Config) (*Monitor, error) {
	tracker := state.New(cfg.Global.HistorySize)
	if cfg.Global.SnapshotPath != "" {
		if err := tracker.LoadSnapshot(cfg.Global.SnapshotPath); err != nil {
			slog.Warn("monitor: snapshot not restored — starting fresh", "err", err)
		}
	}

	dispatcher := notify.NewDispatcher()
	if err := dispatcher.Configure(cfg.Notifiers); err != nil {
		return nil, err
	}

	m := &Monitor{
		cfg:        cfg,
		tracker:    tracker,
		dispatcher: dispatcher,
		hub:        ws.New(tracker),
	}
	m.sched = scheduler.New(cfg.Global.MaxConcurrentProbes, tracker, m.onTransition, nil)

	for _, name := range serviceNames(cfg) {
		if err := m.sched.Schedule(cfg.Services[name]); err != nil {
			m.sched.Stop(0)
			return nil, err
		}
	}
	return m, nil
}

// Tracker exposes the state table for read-only consumers.
func (m *Monitor) Tracker() *state.Tracker { return m.tracker }

// Apply installs a new, already-validated configuration. The diff against the
// running config is translated into scheduler and dispatcher mutations;
// services whose specs are unchanged keep their cadence and state. Reloads
// are serialized — two concurrent Apply calls never interleave.
func (m *Monitor) Apply(newCfg *config.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := config.Compute(m.cfg, newCfg)
	if d.Empty() {
		slog.Debug("monitor: reload is a no-op")
		m.cfg = newCfg
		return nil
	}

	// Notifiers first, and atomically: if the new set cannot be built, the
	// whole reload is rejected before any service is touched.
	if len(d.AddedNotifiers) > 0 || len(d.RemovedNotifiers) > 0 || len(d.UpdatedNotifiers) > 0 {
		if err := m.dispatcher.Configure(newCfg.Notifiers); err != nil {
			metrics.ReloadsTotal.WithLabelValues("rejected").Inc()
			return err
		}
	}

	if d.GlobalChanged {
		m.sched.SetMaxConcurrent(newCfg.Global.MaxConcurrentProbes)
	}

	var errs []error
	for _, name := range d.RemovedServices {
		m.sched.Unschedule(name)
		m.dispatcher.Quiesce(name)
	}
	for _, spec := range d.AddedServices {
		if err := m.sched.Schedule(spec); err != nil {
			errs = append(errs, err)
		}
	}
	for _, spec := range d.UpdatedServices {
		if err := m.sched.Reschedule(spec); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		// The running config stays as-is: diffing the next reload against it
		// will retry the mutations that failed here.
		metrics.ReloadsTotal.WithLabelValues("rejected").Inc()
		return errors.Join(errs...)
	}

	m.cfg = newCfg
	metrics.ReloadsTotal.WithLabelValues("applied").Inc()
	slog.Info("monitor: reload applied",
		"services_added", len(d.AddedServices),
		"services_removed", len(d.RemovedServices),
		"services_updated", len(d.UpdatedServices),
		"notifiers", len(newCfg.Notifiers),
	)
	return nil
}

// Run starts the status API, the transition stream, and the config watcher,
// then blocks until ctx is cancelled. Shutdown cancels all timers and gives
// in-flight probes and deliveries a bounded grace period.
func (m *Monitor) Run(ctx context.Context, configPath string) error {
	handler := api.New(m.tracker, m.dispatcher, m.hub, func() string {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.cfg.Global.APIKey()
	})

	server := &http.Server{
		Addr:    m.cfg.Global.ListenAddr,
		Handler: handler,
	}

	go m.hub.Run(ctx)

	go func() {
		slog.Info("monitor: status api listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("monitor: status api failed", "err", err)
		}
	}()

	go func() {
		if err := config.Watch(ctx, configPath, func(cfg *config.Config) {
			if err := m.Apply(cfg); err != nil {
				slog.Error("monitor: reload not fully applied", "err", err)
			}
		}); err != nil {
			slog.Error("monitor: config watcher stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("monitor: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	m.sched.Stop(shutdownGrace)
	m.dispatcher.Close(shutdownGrace)
	m.saveSnapshot()
	return nil
}

// onTransition is the scheduler's transition sink: deliver alerts, stream to
// dashboards, and persist the new state table.
func (m *Monitor) onTransition(tr *state.Transition) {
	m.dispatcher.Dispatch(tr)
	m.hub.Broadcast(tr)
	go m.saveSnapshot()
}

func (m *Monitor) saveSnapshot() {
	m.mu.Lock()
	path := m.cfg.Global.SnapshotPath
	m.mu.Unlock()
	if path == "" {
		return
	}

	m.snapMu.Lock()
	defer m.snapMu.Unlock()
	if err := m.tracker.SaveSnapshot(path); err != nil {
		slog.Error("monitor: snapshot save failed", "path", path, "err", err)
	}
}

func serviceNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Services))
	for name := range cfg.Services {
		names = append(names, name)
	}
	return names
}
