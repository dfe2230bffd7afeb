// Package metrics exposes worker counters in the Prometheus format
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "townready"

// Metrics are the worker's collectors, registered on one registry
type Metrics struct {
	Registry        *prometheus.Registry
	Deliveries      *prometheus.CounterVec
	RetriesSched    *prometheus.CounterVec
	RetriesExhaust  *prometheus.CounterVec
	ChainFailures   *prometheus.CounterVec
	HandlerDuration *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Push deliveries handled, by task and outcome.",
		}, []string{"task", "outcome"}),
		RetriesSched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_scheduled_total",
			Help:      "Failed tasks scheduled for another attempt.",
		}, []string{"task"}),
		RetriesExhaust: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_exhausted_total",
			Help:      "Tasks that hit the attempt ceiling and left their job in error.",
		}, []string{"task"}),
		ChainFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_publish_failures_total",
			Help:      "Next-stage publishes that failed.",
		}, []string{"task"}),
		HandlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_handler_duration_seconds",
			Help:      "Stage handler run time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task"}),
	}

	m.Registry.MustRegister(
		m.Deliveries,
		m.RetriesSched,
		m.RetriesExhaust,
		m.ChainFailures,
		m.HandlerDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}
