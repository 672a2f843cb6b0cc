// Package voter runs the trust manager across a batch of tab predictions
// and aggregates the per-item decisions into a session summary.
package voter

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/aitkn/ai-tab-manager-sub001/pkg/observability/metrics"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/prediction"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/store"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/tab"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/tracker"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/trust"
)

// Config configures the ensemble voter.
type Config struct {
	// HistorySize bounds the in-memory session history. Default: 100.
	HistorySize int `yaml:"history_size"`
}

// DefaultConfig returns the voter defaults.
func DefaultConfig() Config {
	return Config{HistorySize: 100}
}

func (c Config) withDefaults() Config {
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultConfig().HistorySize
	}
	return c
}

// ItemDecision is the fused outcome for one item in a batch.
type ItemDecision struct {
	ItemID string `json:"item_id"`

	Decision trust.Decision `json:"decision"`

	// Agreement measures how aligned the contributing sources were, from
	// 0 (all different) to 1 (all agree or only one source).
	Agreement float64 `json:"agreement"`

	// Sources lists the sources that predicted for this item, in
	// canonical order.
	Sources []prediction.Source `json:"sources"`
}

// SessionSummary aggregates one vote batch for diagnostics.
type SessionSummary struct {
	Timestamp time.Time      `json:"timestamp"`
	Strategy  trust.Strategy `json:"strategy"`
	ItemCount int            `json:"item_count"`

	// Categories counts decisions per final category.
	Categories map[tab.Category]int `json:"categories"`

	// DecisionSources counts decisions by the source tag they carried,
	// either a concrete predictor or one of the fused tags such as
	// weighted_vote, consensus, or default.
	DecisionSources map[string]int `json:"decision_sources"`

	// DominantSource is the decision source seen most often in the
	// batch, empty when the batch was empty.
	DominantSource string `json:"dominant_source,omitempty"`

	MeanConfidence float64 `json:"mean_confidence"`
	MeanAgreement  float64 `json:"mean_agreement"`
}

// Result is the outcome of one vote batch. Every item present in any
// source map appears exactly once in Items.
type Result struct {
	Items   []ItemDecision `json:"items"`
	Summary SessionSummary `json:"summary"`
}

// EnsembleVoter fuses per-source prediction batches into decisions. It
// takes a single tracker snapshot per batch so every item in the batch is
// judged under the same weights and strategy.
type EnsembleVoter struct {
	cfg     Config
	tracker *tracker.PerformanceTracker
	trust   *trust.Manager
	sink    store.Sink

	mu      sync.Mutex
	history []SessionSummary
}

// New creates an ensemble voter. The sink receives one decision audit
// record per item and may be nil.
func New(cfg Config, t *tracker.PerformanceTracker, m *trust.Manager, sink store.Sink) *EnsembleVoter {
	return &EnsembleVoter{
		cfg:     cfg.withDefaults(),
		tracker: t,
		trust:   m,
		sink:    sink,
	}
}

// Vote fuses the batch into one decision per item. Predictions carrying a
// category but no positive confidence are assigned their source default.
func (v *EnsembleVoter) Vote(batch prediction.Batch) Result {
	start := time.Now()

	stats := v.tracker.SystemStats()
	strategy := v.trust.SelectStrategy(stats)

	ids := batch.ItemIDs()
	items := make([]ItemDecision, 0, len(ids))
	summary := SessionSummary{
		Timestamp:       time.Now().UTC(),
		Strategy:        strategy,
		ItemCount:       len(ids),
		Categories:      make(map[tab.Category]int),
		DecisionSources: make(map[string]int),
	}

	confidences := make([]float64, 0, len(ids))
	agreements := make([]float64, 0, len(ids))

	for _, id := range ids {
		preds := normalize(batch.ForItem(id))
		decision := v.trust.Decide(strategy, preds, stats)

		item := ItemDecision{
			ItemID:    id,
			Decision:  decision,
			Agreement: agreement(preds),
			Sources:   preds.Sources(),
		}
		items = append(items, item)

		summary.Categories[decision.Category]++
		summary.DecisionSources[decision.Source]++
		confidences = append(confidences, decision.Confidence)
		agreements = append(agreements, item.Agreement)

		metrics.RecordDecision(string(strategy), decision.Category.String())
		v.audit(item, strategy)
	}

	if len(ids) > 0 {
		summary.MeanConfidence = stat.Mean(confidences, nil)
		summary.MeanAgreement = stat.Mean(agreements, nil)
		summary.DominantSource = dominantSource(summary.DecisionSources)
		v.appendHistory(summary)
	}

	metrics.RecordVoteBatch(len(ids), time.Since(start).Seconds())

	return Result{Items: items, Summary: summary}
}

// History returns a copy of the recorded session summaries, oldest first.
func (v *EnsembleVoter) History() []SessionSummary {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]SessionSummary, len(v.history))
	copy(out, v.history)
	return out
}

func (v *EnsembleVoter) appendHistory(summary SessionSummary) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.history = append(v.history, summary)
	if excess := len(v.history) - v.cfg.HistorySize; excess > 0 {
		v.history = v.history[excess:]
	}
}

// audit persists the decision trail fire-and-forget. The record's source
// column is only set when the decision was adopted from a concrete
// predictor; fused tags ride along in the metadata.
func (v *EnsembleVoter) audit(item ItemDecision, strategy trust.Strategy) {
	if v.sink == nil {
		return
	}

	rec := store.MetricRecord{
		ID:        uuid.NewString(),
		Kind:      store.KindDecision,
		Value:     item.Decision.Confidence,
		Category:  item.Decision.Category,
		Timestamp: time.Now().UTC(),
		Metadata: map[string]string{
			"item_id":   item.ItemID,
			"strategy":  string(strategy),
			"source":    item.Decision.Source,
			"agreement": strconv.FormatFloat(item.Agreement, 'f', 4, 64),
		},
	}
	if source, err := prediction.ParseSource(item.Decision.Source); err == nil {
		rec.Source = source
	}
	v.sink.Enqueue(rec)
}

// normalize fills in source-default confidences for predictions that
// arrived as a bare category.
func normalize(preds prediction.Set) prediction.Set {
	for source, p := range preds {
		if p.Confidence <= 0 {
			p.Confidence = prediction.DefaultConfidence(source)
			preds[source] = p
		}
	}
	return preds
}

// agreement is 1 - (uniqueCategories-1)/(sourceCount-1), and 1.0 when at
// most one source contributed.
func agreement(preds prediction.Set) float64 {
	if len(preds) <= 1 {
		return 1.0
	}

	unique := make(map[tab.Category]struct{}, len(preds))
	for _, p := range preds {
		unique[p.Category] = struct{}{}
	}
	return 1 - float64(len(unique)-1)/float64(len(preds)-1)
}

// dominantSource picks the most frequent decision source; ties resolve to
// the lexicographically smallest tag.
func dominantSource(counts map[string]int) string {
	tags := make([]string, 0, len(counts))
	for tag := range counts {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	var (
		best     string
		bestHits int
	)
	for _, tag := range tags {
		if counts[tag] > bestHits {
			best = tag
			bestHits = counts[tag]
		}
	}
	return best
}
