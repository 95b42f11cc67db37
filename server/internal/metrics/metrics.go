package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Engine metrics
	EvaluationPasses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "copperwatch_evaluation_passes_total",
			Help: "Total number of evaluation passes over the rule set",
		},
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "copperwatch_evaluation_duration_seconds",
			Help:    "Duration of one evaluation pass including notifier fan-out",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	RuleOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copperwatch_rule_outcomes_total",
			Help: "Per-rule evaluation outcomes",
		},
		[]string{"kind", "outcome"}, // outcome: fired, suppressed, skipped, quiet, errored
	)

	RulesLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "copperwatch_rules_loaded",
			Help: "Number of rules currently registered",
		},
	)

	// Notifier metrics
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copperwatch_notifier_deliveries_total",
			Help: "Notification delivery attempts by channel and result",
		},
		[]string{"channel", "result"}, // result: success, failed
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "copperwatch_notifier_delivery_duration_seconds",
			Help:    "Latency of a single notifier Send call",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	// Monitoring loop metrics
	ProviderFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copperwatch_provider_fetches_total",
			Help: "Snapshot fetches by result",
		},
		[]string{"result"}, // result: success, failed, stale
	)

	// History metrics
	HistoryAppends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copperwatch_history_appends_total",
			Help: "Alert history appends by result",
		},
		[]string{"result"},
	)

	HistoryPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "copperwatch_history_pruned_total",
			Help: "Alert events removed by retention pruning",
		},
	)
)
