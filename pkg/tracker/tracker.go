// Package tracker maintains per-source performance records for the
// categorization ensemble: rolling accuracy windows, all-time counters,
// and the trust weights derived from them.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"github.com/aitkn/ai-tab-manager-sub001/pkg/observability/metrics"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/prediction"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/store"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/tab"
)

// Computed accuracy blends the rolling window with the all-time rate,
// favoring recent behavior.
const (
	recentWeight  = 0.7
	allTimeWeight = 0.3
)

// Config configures the performance tracker.
type Config struct {
	// AccuracyWindow bounds the rolling outcome window per source.
	// Default: 100.
	AccuracyWindow int `yaml:"accuracy_window"`

	// MinPredictionsForAdjustment is the observation count below which a
	// source keeps its initial accuracy. Default: 20.
	MinPredictionsForAdjustment int `yaml:"min_predictions_for_adjustment"`

	// MinWeight and MaxWeight clamp accuracies before trust weights are
	// normalized. Defaults: 0.1 and 0.7.
	MinWeight float64 `yaml:"min_weight"`
	MaxWeight float64 `yaml:"max_weight"`

	// CorrectionPenalty is subtracted from a source's accuracy when a
	// user correction proves it wrong. Default: 0.03.
	CorrectionPenalty float64 `yaml:"correction_penalty"`

	// CorrectionBoost is added when a correction proves it right.
	// Default: 0.02.
	CorrectionBoost float64 `yaml:"correction_boost"`

	// InitialAccuracy seeds each source before real observations arrive.
	// Default: 0.5 for every source.
	InitialAccuracy map[prediction.Source]float64 `yaml:"initial_accuracy"`
}

// DefaultConfig returns the tracker defaults.
func DefaultConfig() Config {
	return Config{
		AccuracyWindow:              100,
		MinPredictionsForAdjustment: 20,
		MinWeight:                   0.1,
		MaxWeight:                   0.7,
		CorrectionPenalty:           0.03,
		CorrectionBoost:             0.02,
		InitialAccuracy: map[prediction.Source]float64{
			prediction.SourceRules: 0.5,
			prediction.SourceModel: 0.5,
			prediction.SourceLLM:   0.5,
		},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.AccuracyWindow <= 0 {
		c.AccuracyWindow = d.AccuracyWindow
	}
	if c.MinPredictionsForAdjustment <= 0 {
		c.MinPredictionsForAdjustment = d.MinPredictionsForAdjustment
	}
	if c.MinWeight <= 0 {
		c.MinWeight = d.MinWeight
	}
	if c.MaxWeight <= 0 {
		c.MaxWeight = d.MaxWeight
	}
	if c.CorrectionPenalty <= 0 {
		c.CorrectionPenalty = d.CorrectionPenalty
	}
	if c.CorrectionBoost <= 0 {
		c.CorrectionBoost = d.CorrectionBoost
	}
	if len(c.InitialAccuracy) == 0 {
		c.InitialAccuracy = d.InitialAccuracy
	} else {
		merged := make(map[prediction.Source]float64, len(d.InitialAccuracy))
		for source, v := range d.InitialAccuracy {
			merged[source] = v
		}
		for source, v := range c.InitialAccuracy {
			merged[source] = v
		}
		c.InitialAccuracy = merged
	}
	return c
}

// performanceRecord is the tracked state for one source.
type performanceRecord struct {
	correctCount int
	totalCount   int
	window       []float64
	accuracy     float64
}

// PerformanceTracker maintains the per-source records behind a single
// mutex. Readers receive copies, never internal state.
type PerformanceTracker struct {
	cfg  Config
	sink store.Sink

	mu      sync.Mutex
	records map[prediction.Source]*performanceRecord
}

// New creates a tracker seeded with the configured initial accuracies.
// A nil sink disables persistence.
func New(cfg Config, sink store.Sink) *PerformanceTracker {
	t := &PerformanceTracker{
		cfg:  cfg.withDefaults(),
		sink: sink,
	}
	t.records = t.freshRecords()
	return t
}

func (t *PerformanceTracker) freshRecords() map[prediction.Source]*performanceRecord {
	records := make(map[prediction.Source]*performanceRecord, 3)
	for _, source := range prediction.AllSources() {
		records[source] = &performanceRecord{
			accuracy: t.cfg.InitialAccuracy[source],
		}
	}
	return records
}

// Load seeds the rolling windows from the most recent accuracy snapshots
// in the store and sets each restored source's accuracy to their mean.
// Sources whose history cannot be read keep their configured defaults;
// the combined error reports what failed.
func (t *PerformanceTracker) Load(ctx context.Context, ms store.MetricsStore) error {
	if ms == nil || !ms.IsEnabled() {
		return nil
	}

	var errs []error
	for _, source := range prediction.AllSources() {
		records, err := ms.Query(ctx, store.QueryFilter{
			Source: source,
			Kind:   store.KindAccuracy,
			Limit:  t.cfg.AccuracyWindow,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("load %s history: %w", source, err))
			continue
		}
		if len(records) == 0 {
			continue
		}

		// Query returns newest first; the window is kept oldest first.
		window := make([]float64, 0, len(records))
		for i := len(records) - 1; i >= 0; i-- {
			window = append(window, records[i].Value)
		}

		t.mu.Lock()
		rec := t.records[source]
		rec.window = window
		rec.totalCount = len(window)
		rec.correctCount = int(math.Round(floats.Sum(window)))
		rec.accuracy = windowMean(window)
		t.mu.Unlock()
	}

	t.publishGauges()
	return errors.Join(errs...)
}

// RecordOutcome records one per-source prediction outcome and refreshes
// accuracy, weights, and persisted snapshots.
func (t *PerformanceTracker) RecordOutcome(source prediction.Source, correct bool) {
	t.mu.Lock()
	rec, ok := t.records[source]
	if !ok {
		t.mu.Unlock()
		return
	}

	rec.observe(outcomeValue(correct), t.cfg.AccuracyWindow)
	t.recomputeAccuracyLocked(rec)
	accuracy := rec.accuracy
	t.mu.Unlock()

	t.publishGauges()
	t.enqueue(outcomeSnapshot(source, correct, tab.CategoryUncategorized, nil))
	t.enqueue(accuracySnapshot(source, accuracy))
}

// RecordOutcomes scores a batch of per-source predictions against the
// category that stuck for the item. Each source that predicted is
// counted correct when its category matches the final one; sources
// that stayed silent are untouched.
func (t *PerformanceTracker) RecordOutcomes(preds prediction.Set, final tab.Category) {
	type scored struct {
		source   prediction.Source
		correct  bool
		category tab.Category
		accuracy float64
	}
	var outcomes []scored

	t.mu.Lock()
	for _, source := range prediction.AllSources() {
		p, ok := preds[source]
		if !ok {
			continue
		}
		rec := t.records[source]
		correct := p.Category == final
		rec.observe(outcomeValue(correct), t.cfg.AccuracyWindow)
		t.recomputeAccuracyLocked(rec)
		outcomes = append(outcomes, scored{source, correct, p.Category, rec.accuracy})
	}
	t.mu.Unlock()

	if len(outcomes) == 0 {
		return
	}

	t.publishGauges()
	for _, o := range outcomes {
		t.enqueue(outcomeSnapshot(o.source, o.correct, o.category, nil))
		t.enqueue(accuracySnapshot(o.source, o.accuracy))
	}
}

// ApplyCorrection adjusts source accuracies after a user moved an item
// from oldCategory to newCategory. Sources that predicted the old
// category are penalized, sources that predicted the new one are
// boosted, and both count the outcome in their windows. Uninvolved
// sources are untouched.
func (t *PerformanceTracker) ApplyCorrection(oldCategory, newCategory tab.Category, preds prediction.Set) {
	type adjusted struct {
		source   prediction.Source
		correct  bool
		category tab.Category
		accuracy float64
	}
	var touched []adjusted

	t.mu.Lock()
	for source, p := range preds {
		rec, ok := t.records[source]
		if !ok {
			continue
		}

		switch p.Category {
		case oldCategory:
			rec.accuracy = math.Max(t.cfg.MinWeight, rec.accuracy-t.cfg.CorrectionPenalty)
			rec.observe(0, t.cfg.AccuracyWindow)
			touched = append(touched, adjusted{source, false, p.Category, rec.accuracy})
		case newCategory:
			rec.accuracy = math.Min(t.cfg.MaxWeight, rec.accuracy+t.cfg.CorrectionBoost)
			rec.observe(1, t.cfg.AccuracyWindow)
			touched = append(touched, adjusted{source, true, p.Category, rec.accuracy})
		}
	}
	t.mu.Unlock()

	t.publishGauges()
	for _, a := range touched {
		t.enqueue(outcomeSnapshot(a.source, a.correct, a.category, map[string]string{
			"reason": "correction",
		}))
		t.enqueue(accuracySnapshot(a.source, a.accuracy))
	}
}

// TrustWeights returns the normalized trust weight per source: accuracies
// clamped to [MinWeight, MaxWeight], then scaled to sum to 1.
func (t *PerformanceTracker) TrustWeights() map[prediction.Source]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trustWeightsLocked()
}

func (t *PerformanceTracker) trustWeightsLocked() map[prediction.Source]float64 {
	weights := make(map[prediction.Source]float64, len(t.records))
	sum := 0.0
	for _, source := range prediction.AllSources() {
		w := clamp(t.records[source].accuracy, t.cfg.MinWeight, t.cfg.MaxWeight)
		weights[source] = w
		sum += w
	}
	if sum <= 0 {
		return weights
	}
	for source := range weights {
		weights[source] /= sum
	}
	return weights
}

// SnapshotTrustWeights persists the current trust weight of every source.
func (t *PerformanceTracker) SnapshotTrustWeights() {
	for source, weight := range t.TrustWeights() {
		t.enqueue(store.MetricRecord{
			ID:        uuid.NewString(),
			Source:    source,
			Kind:      store.KindTrustWeight,
			Value:     weight,
			Timestamp: time.Now().UTC(),
		})
	}
}

// Reset restores configured initial accuracies and clears all counters
// and windows. Persisted history is untouched.
func (t *PerformanceTracker) Reset() {
	t.mu.Lock()
	t.records = t.freshRecords()
	t.mu.Unlock()

	t.publishGauges()
}

func (t *PerformanceTracker) recomputeAccuracyLocked(rec *performanceRecord) {
	if rec.totalCount < t.cfg.MinPredictionsForAdjustment {
		// Not enough signal yet: hold the configured baseline unless a
		// correction already nudged it.
		return
	}

	recent := windowMean(rec.window)
	allTime := float64(rec.correctCount) / float64(rec.totalCount)
	rec.accuracy = recentWeight*recent + allTimeWeight*allTime
}

func (t *PerformanceTracker) publishGauges() {
	t.mu.Lock()
	weights := t.trustWeightsLocked()
	accuracies := make(map[prediction.Source]float64, len(t.records))
	for source, rec := range t.records {
		accuracies[source] = rec.accuracy
	}
	t.mu.Unlock()

	for source, acc := range accuracies {
		metrics.RecordSourceAccuracy(string(source), acc)
	}
	for source, w := range weights {
		metrics.RecordTrustWeight(string(source), w)
	}
}

func (t *PerformanceTracker) enqueue(rec store.MetricRecord) {
	if t.sink == nil {
		return
	}
	t.sink.Enqueue(rec)
}

func (r *performanceRecord) observe(value float64, maxWindow int) {
	r.totalCount++
	if value >= 1 {
		r.correctCount++
	}
	r.window = append(r.window, value)
	if len(r.window) > maxWindow {
		r.window = r.window[len(r.window)-maxWindow:]
	}
}

func outcomeValue(correct bool) float64 {
	if correct {
		return 1
	}
	return 0
}

func outcomeSnapshot(source prediction.Source, correct bool, category tab.Category, meta map[string]string) store.MetricRecord {
	c := correct
	return store.MetricRecord{
		ID:        uuid.NewString(),
		Source:    source,
		Kind:      store.KindOutcome,
		Value:     outcomeValue(correct),
		Correct:   &c,
		Category:  category,
		Timestamp: time.Now().UTC(),
		Metadata:  meta,
	}
}

func accuracySnapshot(source prediction.Source, accuracy float64) store.MetricRecord {
	return store.MetricRecord{
		ID:        uuid.NewString(),
		Source:    source,
		Kind:      store.KindAccuracy,
		Value:     accuracy,
		Timestamp: time.Now().UTC(),
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
