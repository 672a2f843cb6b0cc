package tracker

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/aitkn/ai-tab-manager-sub001/pkg/prediction"
)

// Trend describes the direction a source's rolling accuracy is moving.
type Trend string

const (
	// TrendImproving means the recent half of the window beats the
	// older half by more than the trend threshold.
	TrendImproving Trend = "improving"
	// TrendDeclining means the recent half trails the older half.
	TrendDeclining Trend = "declining"
	// TrendStable means the halves sit within the threshold of each
	// other.
	TrendStable Trend = "stable"
	// TrendNeutral is reported while the window is too small to judge.
	TrendNeutral Trend = "neutral"
)

const (
	// trendThreshold is the half-to-half mean shift that counts as a
	// real trend.
	trendThreshold = 0.1
	// minTrendSamples is the window size below which the trend is
	// reported as neutral.
	minTrendSamples = 10
	// varianceScale maps window variance onto the confidence penalty.
	varianceScale = 2.0
	// unestablishedConfidence is reported until a source has enough
	// observations to judge its consistency.
	unestablishedConfidence = 0.3
)

// SourceStats is a read-only snapshot of one source's tracked state.
type SourceStats struct {
	Source             prediction.Source `json:"source"`
	Accuracy           float64           `json:"accuracy"`
	TrustWeight        float64           `json:"trust_weight"`
	TotalPredictions   int               `json:"total_predictions"`
	CorrectPredictions int               `json:"correct_predictions"`
	RecentAccuracy     float64           `json:"recent_accuracy"`
	Trend              Trend             `json:"trend"`
	Confidence         float64           `json:"confidence"`
}

// SystemStats is a consistent snapshot across all sources.
type SystemStats struct {
	Sources     map[prediction.Source]SourceStats `json:"sources"`
	GeneratedAt time.Time                         `json:"generated_at"`
}

// SourceStats returns the snapshot for one source.
func (t *PerformanceTracker) SourceStats(source prediction.Source) (SourceStats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[source]
	if !ok {
		return SourceStats{}, false
	}
	return t.sourceStatsLocked(source, rec, t.trustWeightsLocked()), true
}

// SystemStats returns a snapshot of every source taken under one lock,
// so the weights and accuracies are mutually consistent.
func (t *PerformanceTracker) SystemStats() SystemStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	weights := t.trustWeightsLocked()
	sources := make(map[prediction.Source]SourceStats, len(t.records))
	for source, rec := range t.records {
		sources[source] = t.sourceStatsLocked(source, rec, weights)
	}

	return SystemStats{
		Sources:     sources,
		GeneratedAt: time.Now().UTC(),
	}
}

func (t *PerformanceTracker) sourceStatsLocked(source prediction.Source, rec *performanceRecord, weights map[prediction.Source]float64) SourceStats {
	return SourceStats{
		Source:             source,
		Accuracy:           rec.accuracy,
		TrustWeight:        weights[source],
		TotalPredictions:   rec.totalCount,
		CorrectPredictions: rec.correctCount,
		RecentAccuracy:     windowMean(rec.window),
		Trend:              windowTrend(rec.window),
		Confidence:         t.sourceConfidenceLocked(rec),
	}
}

// sourceConfidenceLocked scores how consistent a source has been: an
// unestablished source reports a flat low confidence, afterwards high
// variance in the rolling window erodes it.
func (t *PerformanceTracker) sourceConfidenceLocked(rec *performanceRecord) float64 {
	if rec.totalCount < t.cfg.MinPredictionsForAdjustment {
		return unestablishedConfidence
	}
	if len(rec.window) == 0 {
		return unestablishedConfidence
	}

	variance := stat.PopVariance(rec.window, nil)
	return 1 - math.Min(1, varianceScale*variance)
}

// windowTrend compares the older and newer halves of the rolling window.
func windowTrend(window []float64) Trend {
	if len(window) < minTrendSamples {
		return TrendNeutral
	}

	half := len(window) / 2
	older := stat.Mean(window[:half], nil)
	newer := stat.Mean(window[half:], nil)

	switch diff := newer - older; {
	case diff > trendThreshold:
		return TrendImproving
	case diff < -trendThreshold:
		return TrendDeclining
	default:
		return TrendStable
	}
}

func windowMean(window []float64) float64 {
	if len(window) == 0 {
		return 0
	}
	return stat.Mean(window, nil)
}
