package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nfrund/turnstile/internal/worker"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	Registry         *prometheus.Registry
	StepsCompleted   *prometheus.CounterVec
	CyclesCompleted  *prometheus.CounterVec
	CallbacksSkipped *prometheus.CounterVec
	FatalErrors      *prometheus.CounterVec
	WorkersRunning   prometheus.Gauge
}

// New creates all metrics on a dedicated registry, alongside the Go and
// process collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		StepsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "turnstile_steps_completed_total",
			Help: "Total number of subscription steps executed",
		}, []string{"topic"}),
		CyclesCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "turnstile_cycles_completed_total",
			Help: "Total number of completed subscription cycles",
		}, []string{"topic"}),
		CallbacksSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "turnstile_callbacks_skipped_total",
			Help: "Total number of blank completion callbacks skipped",
		}, []string{"topic"}),
		FatalErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "turnstile_worker_fatal_errors_total",
			Help: "Total number of workers stopped by a fatal error",
		}, []string{"topic", "phase"}),
		WorkersRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "turnstile_workers_running",
			Help: "Number of workers currently running",
		}),
	}
}

// Observe implements worker.Observer
func (m *Metrics) Observe(e worker.Event) {
	switch e.Type {
	case worker.EventWorkerStarted:
		m.WorkersRunning.Inc()
	case worker.EventStepCompleted:
		m.StepsCompleted.WithLabelValues(e.Topic).Inc()
	case worker.EventCycleCompleted:
		m.CyclesCompleted.WithLabelValues(e.Topic).Inc()
	case worker.EventCallbackSkipped:
		m.CallbacksSkipped.WithLabelValues(e.Topic).Inc()
	case worker.EventWorkerFailed:
		m.WorkersRunning.Dec()
		m.FatalErrors.WithLabelValues(e.Topic, string(e.Phase)).Inc()
	case worker.EventWorkerStopped:
		m.WorkersRunning.Dec()
	}
}
