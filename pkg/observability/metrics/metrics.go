package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Fusion Metrics - Prometheus metrics for the adaptive categorization layer
// =============================================================================

var (
	// SourceAccuracy tracks the computed accuracy per prediction source
	SourceAccuracy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tab_fusion_source_accuracy",
			Help: "The computed accuracy per prediction source",
		},
		[]string{"source"},
	)

	// SourceTrustWeight tracks the normalized trust weight per prediction source
	SourceTrustWeight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tab_fusion_source_trust_weight",
			Help: "The normalized trust weight per prediction source",
		},
		[]string{"source"},
	)

	// DecisionCount tracks ensemble decisions by strategy and category
	DecisionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tab_fusion_decisions_total",
			Help: "The total number of ensemble decisions",
		},
		[]string{"strategy", "category"},
	)

	// CorrectionCount tracks user corrections by category transition
	CorrectionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tab_fusion_corrections_total",
			Help: "The total number of user corrections",
		},
		[]string{"transition"},
	)

	// FeedbackCount tracks feedback events by type
	FeedbackCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tab_fusion_feedback_total",
			Help: "The total number of feedback events",
		},
		[]string{"type"},
	)

	// TrainingRunCount tracks incremental training runs by outcome
	TrainingRunCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tab_fusion_training_runs_total",
			Help: "The total number of incremental training runs",
		},
		[]string{"status"},
	)

	// StoreAppendCount tracks performance store appends by backend and outcome
	StoreAppendCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tab_fusion_store_appends_total",
			Help: "The total number of performance store append operations",
		},
		[]string{"backend", "status"},
	)

	// VoteBatchSize tracks the number of items per ensemble vote
	VoteBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tab_fusion_vote_batch_size",
			Help:    "The number of items per ensemble vote",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500},
		},
	)

	// VoteDuration tracks the duration of ensemble votes
	VoteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tab_fusion_vote_duration_seconds",
			Help:    "The duration of ensemble vote batches in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)
)

// RecordSourceAccuracy updates the accuracy gauge for a source.
func RecordSourceAccuracy(source string, accuracy float64) {
	if source == "" {
		source = "unknown"
	}
	SourceAccuracy.WithLabelValues(source).Set(accuracy)
}

// RecordTrustWeight updates the trust weight gauge for a source.
func RecordTrustWeight(source string, weight float64) {
	if source == "" {
		source = "unknown"
	}
	SourceTrustWeight.WithLabelValues(source).Set(weight)
}

// RecordDecision counts one ensemble decision.
func RecordDecision(strategy, category string) {
	if strategy == "" {
		strategy = "unknown"
	}
	if category == "" {
		category = "unknown"
	}
	DecisionCount.WithLabelValues(strategy, category).Inc()
}

// RecordCorrection counts one user correction for a category transition.
func RecordCorrection(transition string) {
	if transition == "" {
		transition = "unknown"
	}
	CorrectionCount.WithLabelValues(transition).Inc()
}

// RecordFeedback counts one feedback event.
func RecordFeedback(feedbackType string) {
	if feedbackType == "" {
		feedbackType = "unknown"
	}
	FeedbackCount.WithLabelValues(feedbackType).Inc()
}

// RecordTrainingRun counts one incremental training run.
func RecordTrainingRun(status string) {
	if status == "" {
		status = "unknown"
	}
	TrainingRunCount.WithLabelValues(status).Inc()
}

// RecordStoreAppend counts one performance store append.
func RecordStoreAppend(backend, status string) {
	if backend == "" {
		backend = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	StoreAppendCount.WithLabelValues(backend, status).Inc()
}

// RecordVoteBatch observes the size and duration of one ensemble vote.
func RecordVoteBatch(size int, seconds float64) {
	VoteBatchSize.Observe(float64(size))
	VoteDuration.Observe(seconds)
}
