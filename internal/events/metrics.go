package events

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSink counts lifecycle events in Prometheus.
type MetricsSink struct {
	events      *prometheus.CounterVec
	deployedUSD *prometheus.CounterVec
	positions   prometheus.Counter
	allocations prometheus.Histogram
}

// NewMetricsSink creates the collectors and registers them with reg.
func NewMetricsSink(reg prometheus.Registerer) *MetricsSink {
	m := &MetricsSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capdeploy",
			Name:      "plan_events_total",
			Help:      "Plan lifecycle events by type.",
		}, []string{"type"}),
		deployedUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capdeploy",
			Name:      "deployed_usd_total",
			Help:      "Capital moved into positions, by asset.",
		}, []string{"asset"}),
		positions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "capdeploy",
			Name:      "positions_created_total",
			Help:      "Positions created by applied plans.",
		}),
		allocations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "capdeploy",
			Name:      "plan_allocations",
			Help:      "Number of allocations per proposed plan.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
	}
	reg.MustRegister(m.events, m.deployedUSD, m.positions, m.allocations)
	return m
}

// Emit implements Sink.
func (m *MetricsSink) Emit(_ context.Context, e Event) {
	m.events.WithLabelValues(string(e.Type)).Inc()
	switch e.Type {
	case PlanProposed:
		if e.Plan != nil {
			m.allocations.Observe(float64(len(e.Plan.Allocations)))
		}
	case PlanApplied:
		asset := "unknown"
		if e.Plan != nil {
			asset = e.Plan.Asset
		}
		m.deployedUSD.WithLabelValues(asset).Add(e.TotalUSD.InexactFloat64())
		m.positions.Add(float64(len(e.Positions)))
	}
}
