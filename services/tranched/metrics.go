package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics exposes Prometheus collectors for tranched instrumentation.
type Metrics struct {
	Registry   *prometheus.Registry
	Operations *prometheus.CounterVec
	Settlement *prometheus.CounterVec
}

// NewMetrics builds a registry with process and Go runtime collectors plus
// the daemon's own counters.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tranched",
		Name:      "operations_total",
		Help:      "Engine operations processed, labelled by operation and outcome.",
	}, []string{"operation", "outcome"})
	settlement := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tranched",
		Name:      "settlement_resolutions_total",
		Help:      "Settlement journal acknowledgments, labelled by result.",
	}, []string{"result"})
	registry.MustRegister(operations, settlement)

	return &Metrics{Registry: registry, Operations: operations, Settlement: settlement}
}

// ObserveOperation records the outcome of one engine operation.
func (m *Metrics) ObserveOperation(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Operations.WithLabelValues(operation, outcome).Inc()
}
