package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors for the monitor's own observability, exposed on /metrics.
var (
	ProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsewatch_probes_total",
		Help: "Probe outcomes by service and resulting status.",
	}, []string{"service", "status"})

	ProbeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pulsewatch_probe_duration_seconds",
		Help:    "Probe latency by service.",
		Buckets: prometheus.DefBuckets,
	}, []string{"service"})

	TicksSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsewatch_ticks_skipped_total",
		Help: "Ticks skipped because the service's previous probe was still in flight.",
	}, []string{"service"})

	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsewatch_transitions_total",
		Help: "State transitions by service and new status.",
	}, []string{"service", "new_status"})

	DeliveryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsewatch_delivery_attempts_total",
		Help: "Alert delivery attempts by notifier and result.",
	}, []string{"notifier", "result"})

	ReloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsewatch_config_reloads_total",
		Help: "Configuration reloads by result (applied or rejected).",
	}, []string{"result"})
)
