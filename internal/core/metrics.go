package core

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "act"

// unmappedMitigationLabel is the dispatch_total label for every mitigation
// name outside the closed set, so callers cannot mint new series.
const unmappedMitigationLabel = "unmapped"

var (
	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dispatch_total",
			Help:      "Dispatched events by resolved mitigation",
		},
		[]string{"mitigation"},
	)

	recommenderFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "recommender_failures_total",
			Help:      "Recommender calls that failed and fell back to monitor",
		},
	)

	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "playbook_executions_total",
			Help:      "Playbook executions by playbook and final status",
		},
		[]string{"playbook", "status"},
	)

	executionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "playbook_execution_duration_seconds",
			Help:      "Wall time of playbook executions",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
		[]string{"playbook"},
	)

	acknowledgedAlerts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "acknowledged_alerts",
			Help:      "Distinct alert ids acknowledged by analysts",
		},
	)
)

func init() {
	prometheus.MustRegister(
		dispatchTotal,
		recommenderFailures,
		executionsTotal,
		executionDuration,
		acknowledgedAlerts,
	)
}
