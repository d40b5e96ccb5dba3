// Package metrics records reconciliation metrics on a private Prometheus registry.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// Namespace is the metrics namespace for eksstack
	Namespace = "eksstack"
)

var (
	// Registry holds every eksstack collector. It is separate from the default
	// registry so CLI runs export only reconciliation metrics.
	Registry = prometheus.NewRegistry()

	// NodeTransitions counts terminal node statuses
	NodeTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "node_transitions_total",
			Help:      "Terminal node statuses reached during reconciliation",
		},
		[]string{"kind", "status"},
	)

	// ProviderCalls counts adapter calls by operation and result
	ProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "provider_calls_total",
			Help:      "Provider adapter calls",
		},
		[]string{"kind", "op", "result"},
	)

	// ProviderRetries counts retried provider calls
	ProviderRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "provider_retries_total",
			Help:      "Provider calls retried after a transient error",
		},
		[]string{"kind"},
	)

	// NodeDuration tracks how long each node took to apply
	NodeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "node_duration_seconds",
			Help:      "Time taken to apply a node",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 18), // 10ms to ~22m
		},
		[]string{"kind", "action"},
	)
)

func init() {
	Registry.MustRegister(NodeTransitions, ProviderCalls, ProviderRetries, NodeDuration)
}

// RecordTransition records a node reaching a terminal status.
func RecordTransition(kind, status string) {
	NodeTransitions.WithLabelValues(kind, status).Inc()
}

// RecordCall records one provider call.
func RecordCall(kind, op string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	ProviderCalls.WithLabelValues(kind, op, result).Inc()
}

// RecordRetry records one retry of a provider call.
func RecordRetry(kind string) {
	ProviderRetries.WithLabelValues(kind).Inc()
}

// ObserveNode records the duration of a node.
func ObserveNode(kind, action string, d time.Duration) {
	NodeDuration.WithLabelValues(kind, action).Observe(d.Seconds())
}

// WriteTextfile writes the registry in the node_exporter textfile format.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
