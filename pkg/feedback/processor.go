// Package feedback turns user actions on categorized tabs into trust
// updates, training data, and mined correction patterns.
package feedback

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aitkn/ai-tab-manager-sub001/pkg/observability/logging"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/observability/metrics"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/prediction"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/store"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/tab"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/tracker"
)

// Training example source tags.
const (
	ExampleSourceFeedback   = "user_feedback"
	ExampleSourceCorrection = "user_correction"
	ExampleSourceClose      = "implicit_close"
	ExampleSourceSave       = "implicit_save"
)

// Feedback entry types.
const (
	FeedbackAcceptance = "acceptance"
	FeedbackCorrection = "correction"
	FeedbackTabClose   = "tab_close"
	FeedbackTabSave    = "tab_save"
)

// Config configures the feedback processor.
type Config struct {
	// MinExamplesPerClass is the learning-queue length that triggers an
	// incremental training run. Default: 10.
	MinExamplesPerClass int `yaml:"min_examples_per_class"`

	// PatternMinCount is the correction count at which a transition
	// surfaces as a pattern. Default: 3.
	PatternMinCount int `yaml:"pattern_min_count"`

	// SystematicMinCount is the correction count at which a pattern
	// surfaces as a systematic-error insight. Default: 5.
	SystematicMinCount int `yaml:"systematic_min_count"`

	// HighCorrectionRate is the corrections/feedback ratio above which
	// an insight is raised. Default: 0.3.
	HighCorrectionRate float64 `yaml:"high_correction_rate"`

	// RecentExampleLimit bounds the recent corrections kept per pattern.
	// Default: 10.
	RecentExampleLimit int `yaml:"recent_example_limit"`

	// TrainEpochs is passed to the trainer. Default: 5.
	TrainEpochs int `yaml:"train_epochs"`

	// TrainPriority is passed to the trainer. Default: "high".
	TrainPriority string `yaml:"train_priority"`

	// TrainTimeoutSeconds bounds one incremental training run.
	// Default: 120.
	TrainTimeoutSeconds int `yaml:"train_timeout_seconds"`
}

// DefaultConfig returns the feedback processor defaults.
func DefaultConfig() Config {
	return Config{
		MinExamplesPerClass: 10,
		PatternMinCount:     3,
		SystematicMinCount:  5,
		HighCorrectionRate:  0.3,
		RecentExampleLimit:  10,
		TrainEpochs:         5,
		TrainPriority:       "high",
		TrainTimeoutSeconds: 120,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinExamplesPerClass <= 0 {
		c.MinExamplesPerClass = d.MinExamplesPerClass
	}
	if c.PatternMinCount <= 0 {
		c.PatternMinCount = d.PatternMinCount
	}
	if c.SystematicMinCount <= 0 {
		c.SystematicMinCount = d.SystematicMinCount
	}
	if c.HighCorrectionRate <= 0 {
		c.HighCorrectionRate = d.HighCorrectionRate
	}
	if c.RecentExampleLimit <= 0 {
		c.RecentExampleLimit = d.RecentExampleLimit
	}
	if c.TrainEpochs <= 0 {
		c.TrainEpochs = d.TrainEpochs
	}
	if c.TrainPriority == "" {
		c.TrainPriority = d.TrainPriority
	}
	if c.TrainTimeoutSeconds <= 0 {
		c.TrainTimeoutSeconds = d.TrainTimeoutSeconds
	}
	return c
}

// Assignment is the final category a categorization run gave one item.
type Assignment struct {
	Category   tab.Category `json:"category"`
	Confidence float64      `json:"confidence"`
}

// CorrectionContext carries the decision metadata a correction refers
// back to. All fields are optional.
type CorrectionContext struct {
	// Predictions are the original per-source predictions for the item,
	// used to adjust source trust immediately.
	Predictions prediction.Set `json:"predictions,omitempty"`

	// OriginalSource is the source tag the corrected decision carried.
	OriginalSource string `json:"original_source,omitempty"`
}

// Processor translates user feedback into training examples and trust
// updates, and mines recurring corrections for rule suggestions.
//
// Writes to the training store and the metrics sink are fire-and-forget
// relative to the caller: the tracker already reflects a correction by
// the time storage is involved, so storage failures are logged and the
// user-facing flow continues.
type Processor struct {
	cfg      Config
	tracker  *tracker.PerformanceTracker
	training store.TrainingStore
	trainer  Trainer
	sink     store.Sink

	mu            sync.Mutex
	queue         []Correction
	patterns      map[string]*patternState
	corrections   int
	feedbackCount int

	wg sync.WaitGroup
}

// New creates a feedback processor. The training store, trainer, and
// sink may each be nil; the corresponding side effects are skipped.
func New(cfg Config, t *tracker.PerformanceTracker, training store.TrainingStore, trainer Trainer, sink store.Sink) *Processor {
	return &Processor{
		cfg:      cfg.withDefaults(),
		tracker:  t,
		training: training,
		trainer:  trainer,
		sink:     sink,
		patterns: make(map[string]*patternState),
	}
}

// ProcessAcceptance records the user keeping the assigned categories.
// Items without an assignment are skipped. Returns the number of items
// accepted.
func (p *Processor) ProcessAcceptance(ctx context.Context, items []tab.Tab, categorization map[string]Assignment) int {
	accepted := 0
	for _, item := range items {
		a, ok := categorization[item.ID]
		if !ok {
			continue
		}
		confidence := a.Confidence
		if confidence <= 0 {
			confidence = 1.0
		}

		p.recordFeedback(FeedbackAcceptance, item, a.Category, confidence)
		p.appendExample(ctx, store.TrainingExample{
			URL:      item.URL,
			Title:    item.Title,
			Category: a.Category,
			Weight:   1,
			Source:   ExampleSourceFeedback,
			Metadata: map[string]string{
				"confidence": strconv.FormatFloat(confidence, 'f', 2, 64),
			},
		})
		accepted++
	}

	if accepted > 0 {
		p.mu.Lock()
		p.feedbackCount += accepted
		p.mu.Unlock()
	}
	return accepted
}

// ProcessCorrection records the user moving an item from oldCategory to
// newCategory. Source trust is adjusted immediately from the original
// predictions; the correction then feeds the training store, the
// pattern map, and the learning queue. A full queue is drained into one
// background training run; the queue is cleared before the hand-off, so
// a failed run is never replayed.
func (p *Processor) ProcessCorrection(ctx context.Context, item tab.Tab, oldCategory, newCategory tab.Category, meta CorrectionContext) {
	now := time.Now().UTC()

	if p.tracker != nil && len(meta.Predictions) > 0 {
		p.tracker.ApplyCorrection(oldCategory, newCategory, meta.Predictions)
	}

	transition := patternKey(oldCategory, newCategory)
	metrics.RecordCorrection(transition)
	p.recordFeedback(FeedbackCorrection, item, newCategory, 1.0)

	exampleMeta := map[string]string{
		"original_category": oldCategory.String(),
		"correction_time":   now.Format(time.RFC3339),
	}
	if meta.OriginalSource != "" {
		exampleMeta["original_source"] = meta.OriginalSource
	}
	p.appendExample(ctx, store.TrainingExample{
		URL:       item.URL,
		Title:     item.Title,
		Category:  newCategory,
		Weight:    1,
		Source:    ExampleSourceCorrection,
		Corrected: true,
		Metadata:  exampleMeta,
		Timestamp: now,
	})

	correction := Correction{
		Item:        item,
		OldCategory: oldCategory,
		NewCategory: newCategory,
		Timestamp:   now,
	}

	var batch []Correction
	p.mu.Lock()
	p.corrections++
	p.feedbackCount++
	p.recordPatternLocked(correction)
	if p.trainer != nil {
		p.queue = append(p.queue, correction)
		if len(p.queue) >= p.cfg.MinExamplesPerClass {
			batch = p.queue
			p.queue = nil
		}
	}
	p.mu.Unlock()

	if len(batch) > 0 {
		p.wg.Add(1)
		go p.train(batch)
	}
}

// ProcessTabClose treats closing an ignore-category tab as implicit
// confirmation. Closing a tab in any other category carries no signal.
// Reports whether the close was counted.
func (p *Processor) ProcessTabClose(ctx context.Context, item tab.Tab, category tab.Category) bool {
	if category != tab.CategoryIgnore {
		return false
	}

	p.recordFeedback(FeedbackTabClose, item, category, 1.0)
	p.appendExample(ctx, store.TrainingExample{
		URL:      item.URL,
		Title:    item.Title,
		Category: category,
		Weight:   1,
		Source:   ExampleSourceClose,
	})

	p.mu.Lock()
	p.feedbackCount++
	p.mu.Unlock()
	return true
}

// ProcessTabSave treats saving a tab as a strong implicit confirmation
// of its category: the training example carries double weight.
func (p *Processor) ProcessTabSave(ctx context.Context, item tab.Tab, category tab.Category) {
	p.recordFeedback(FeedbackTabSave, item, category, 1.0)
	p.appendExample(ctx, store.TrainingExample{
		URL:      item.URL,
		Title:    item.Title,
		Category: category,
		Weight:   2,
		Source:   ExampleSourceSave,
	})

	p.mu.Lock()
	p.feedbackCount++
	p.mu.Unlock()
}

// AnalyzeCorrectionPatterns returns the transitions corrected at least
// PatternMinCount times, sorted by key, each annotated with a rule
// suggestion where one can be derived.
func (p *Processor) AnalyzeCorrectionPatterns() []CorrectionPattern {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []CorrectionPattern
	for _, key := range p.sortedPatternKeysLocked() {
		state := p.patterns[key]
		if state.count < p.cfg.PatternMinCount {
			continue
		}
		out = append(out, CorrectionPattern{
			Key:         key,
			OldCategory: state.oldCategory,
			NewCategory: state.newCategory,
			Count:       state.count,
			Domains:     sortedSet(state.domains),
			Signals:     append([]string(nil), state.signals...),
			Suggestion:  suggestRule(state),
		})
	}
	return out
}

// Insights surfaces systematic errors and an overall excessive
// correction rate.
func (p *Processor) Insights() []Insight {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []Insight
	for _, key := range p.sortedPatternKeysLocked() {
		state := p.patterns[key]
		if state.count < p.cfg.SystematicMinCount {
			continue
		}
		out = append(out, Insight{
			Type:    InsightSystematicError,
			Pattern: key,
			Count:   state.count,
			Message: fmt.Sprintf("items are repeatedly moved from %s to %s (%d times)", state.oldCategory, state.newCategory, state.count),
		})
	}

	if rate := p.correctionRateLocked(); rate > p.cfg.HighCorrectionRate {
		out = append(out, Insight{
			Type:    InsightHighCorrectionRate,
			Rate:    rate,
			Message: fmt.Sprintf("users correct %.0f%% of categorizations", rate*100),
		})
	}
	return out
}

// CorrectionRate is the fraction of all feedback that were corrections.
func (p *Processor) CorrectionRate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.correctionRateLocked()
}

// QueueLength reports the pending learning-queue size.
func (p *Processor) QueueLength() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Close waits for any in-flight training run to finish.
func (p *Processor) Close() {
	p.wg.Wait()
}

func (p *Processor) train(batch []Correction) {
	defer p.wg.Done()

	timeout := time.Duration(p.cfg.TrainTimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result, err := p.trainer.IncrementalTrain(ctx, batch, TrainOptions{
		Epochs:   p.cfg.TrainEpochs,
		Priority: p.cfg.TrainPriority,
	})
	if err != nil {
		metrics.RecordTrainingRun("error")
		logging.Errorf("incremental training on %d corrections failed: %v", len(batch), err)
		return
	}

	metrics.RecordTrainingRun("ok")
	logging.Infof("incremental training on %d corrections: accuracy %.3f, loss %.3f",
		len(batch), result.Accuracy, result.Loss)
}

func (p *Processor) recordPatternLocked(c Correction) {
	key := patternKey(c.OldCategory, c.NewCategory)
	state, ok := p.patterns[key]
	if !ok {
		state = &patternState{
			oldCategory: c.OldCategory,
			newCategory: c.NewCategory,
			domains:     make(map[string]struct{}),
			signalSeen:  make(map[string]struct{}),
		}
		p.patterns[key] = state
	}

	state.count++
	if domain := c.Item.Domain(); domain != "" {
		state.domains[domain] = struct{}{}
	}
	for _, signal := range urlSignals(c.Item.URL) {
		if _, seen := state.signalSeen[signal]; seen {
			continue
		}
		state.signalSeen[signal] = struct{}{}
		state.signals = append(state.signals, signal)
	}
	state.recent = append(state.recent, c)
	if len(state.recent) > p.cfg.RecentExampleLimit {
		state.recent = state.recent[1:]
	}
}

func (p *Processor) sortedPatternKeysLocked() []string {
	keys := make([]string, 0, len(p.patterns))
	for key := range p.patterns {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (p *Processor) correctionRateLocked() float64 {
	if p.feedbackCount == 0 {
		return 0
	}
	return float64(p.corrections) / float64(p.feedbackCount)
}

// recordFeedback persists one feedback entry and bumps the counter.
func (p *Processor) recordFeedback(feedbackType string, item tab.Tab, category tab.Category, confidence float64) {
	metrics.RecordFeedback(feedbackType)
	if p.sink == nil {
		return
	}

	p.sink.Enqueue(store.MetricRecord{
		ID:        uuid.NewString(),
		Kind:      store.KindFeedback,
		Value:     confidence,
		Category:  category,
		Timestamp: time.Now().UTC(),
		Metadata: map[string]string{
			"type":    feedbackType,
			"item_id": item.ID,
		},
	})
}

func (p *Processor) appendExample(ctx context.Context, ex store.TrainingExample) {
	if p.training == nil {
		return
	}
	if ex.ID == "" {
		ex.ID = uuid.NewString()
	}
	if ex.Timestamp.IsZero() {
		ex.Timestamp = time.Now().UTC()
	}

	if err := p.training.Append(ctx, ex); err != nil {
		logging.Warnf("appending training example for %s: %v", ex.URL, err)
	}
}

// suggestRule derives a rule from a pattern: a single shared domain
// makes a high-confidence domain rule, otherwise the first recorded URL
// signal makes a pattern rule.
func suggestRule(state *patternState) *RuleSuggestion {
	if len(state.domains) == 1 {
		for domain := range state.domains {
			return &RuleSuggestion{
				Type:       SuggestionDomain,
				Value:      domain,
				Category:   state.newCategory,
				Confidence: domainRuleConfidence,
			}
		}
	}
	if len(state.signals) > 0 {
		return &RuleSuggestion{
			Type:       SuggestionPattern,
			Value:      state.signals[0],
			Category:   state.newCategory,
			Confidence: patternRuleConfidence,
		}
	}
	return nil
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
