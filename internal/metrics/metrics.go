// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MonitorCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil",
		Name:      "monitor_cycles_total",
		Help:      "Completed monitor poll cycles per symbol.",
	}, []string{"symbol"})

	SignalsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil",
		Name:      "signals_detected_total",
		Help:      "Exit signals detected, by category and strength.",
	}, []string{"category", "strength"})

	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil",
		Name:      "decisions_total",
		Help:      "Decision policy outcomes.",
	}, []string{"action"})

	ExitsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil",
		Name:      "exits_submitted_total",
		Help:      "Exit orders submitted, by outcome.",
	}, []string{"outcome"})

	AdvisorCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil",
		Name:      "advisor_calls_total",
		Help:      "Advisor consultations, by outcome.",
	}, []string{"outcome"})

	ReconcileRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil",
		Name:      "reconcile_records_total",
		Help:      "Reconciliation classifications.",
	}, []string{"class"})

	OpenMonitors = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vigil",
		Name:      "open_monitors",
		Help:      "Live position monitors.",
	})

	FetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil",
		Name:      "fetch_failures_total",
		Help:      "Transient collaborator fetch failures.",
	}, []string{"source"})
)
