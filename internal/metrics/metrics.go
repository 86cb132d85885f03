package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	processQueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pdfpipe",
			Subsystem: "process",
			Name:      "queued_total",
			Help:      "Number of invocations accepted into the queue.",
		},
	)
	processStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pdfpipe",
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of successful process spawns.",
		},
	)
	processTerminal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdfpipe",
			Subsystem: "process",
			Name:      "terminal_total",
			Help:      "Number of terminal transitions by final state.",
		}, []string{"state"},
	)
	spawnFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pdfpipe",
			Subsystem: "process",
			Name:      "spawn_failures_total",
			Help:      "Number of invocations that failed to spawn.",
		},
	)
	queueLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pdfpipe",
			Subsystem: "supervisor",
			Name:      "queue_length",
			Help:      "Current number of queued invocations.",
		},
	)
	runningCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pdfpipe",
			Subsystem: "supervisor",
			Name:      "running_processes",
			Help:      "Current number of running processes.",
		},
	)
	stageAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdfpipe",
			Subsystem: "pipeline",
			Name:      "stage_attempts_total",
			Help:      "Number of stage attempts by stage name and outcome.",
		}, []string{"stage", "outcome"},
	)
	entitiesCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pdfpipe",
			Subsystem: "pipeline",
			Name:      "entities_completed_total",
			Help:      "Number of entities that finished every stage.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		processQueued, processStarts, processTerminal, spawnFailures,
		queueLength, runningCount, stageAttempts, entitiesCompleted,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncQueued() {
	if regOK.Load() {
		processQueued.Inc()
	}
}

func IncStart() {
	if regOK.Load() {
		processStarts.Inc()
	}
}

func IncTerminal(state string) {
	if regOK.Load() {
		processTerminal.WithLabelValues(state).Inc()
	}
}

func IncSpawnFailure() {
	if regOK.Load() {
		spawnFailures.Inc()
	}
}

func SetQueueLength(n int) {
	if regOK.Load() {
		queueLength.Set(float64(n))
	}
}

func SetRunning(n int) {
	if regOK.Load() {
		runningCount.Set(float64(n))
	}
}

func IncStageAttempt(stage string, success bool) {
	if regOK.Load() {
		outcome := "failure"
		if success {
			outcome = "success"
		}
		stageAttempts.WithLabelValues(stage, outcome).Inc()
	}
}

func IncEntityCompleted() {
	if regOK.Load() {
		entitiesCompleted.Inc()
	}
}
