// Package metrics declares the Prometheus collectors shared by the
// coordinator and worker binaries.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scrapegrid"

var (
	// Coordinator: jobs

	JobsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "created_total",
		Help:      "Total jobs accepted by the coordinator.",
	})

	JobsAssigned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "assigned_total",
		Help:      "Total successful job assignments.",
	})

	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "finished_total",
		Help:      "Total jobs that reached a terminal status, labelled by status.",
	}, []string{"status"})

	// Coordinator: workers

	WorkersRegistered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "workers",
		Name:      "registered_total",
		Help:      "Total worker registrations.",
	})

	WorkersRemoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "workers",
		Name:      "removed_total",
		Help:      "Total workers removed from the registry, labelled by reason.",
	}, []string{"reason"})

	WorkersByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "workers",
		Name:      "current",
		Help:      "Registered workers by status at the last stats tick.",
	}, []string{"status"})

	// Coordinator: scheduler

	SchedulerTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "tick_duration_seconds",
		Help:      "Time spent pairing pending jobs with idle workers per tick.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	// Coordinator: event bus

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Total events published, labelled by type.",
	}, []string{"type"})

	ObserversDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "observers_dropped_total",
		Help:      "Total observers dropped because their buffer was full.",
	})

	Observers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "observers",
		Help:      "Currently connected event observers.",
	})

	// Worker

	WorkerJobsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "jobs_executed_total",
		Help:      "Total jobs executed by this worker, labelled by outcome.",
	}, []string{"outcome"})

	WorkerItemsScraped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "items_scraped_total",
		Help:      "Total items scraped by this worker.",
	})

	WorkerJobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "job_duration_seconds",
		Help:      "Wall time of a single job execution.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
