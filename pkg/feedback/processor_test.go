package feedback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aitkn/ai-tab-manager-sub001/pkg/prediction"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/store"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/tab"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/tracker"
)

type fakeTrainer struct {
	mu      sync.Mutex
	batches [][]Correction
	err     error
}

func (f *fakeTrainer) IncrementalTrain(_ context.Context, batch []Correction, _ TrainOptions) (TrainResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]Correction(nil), batch...))
	if f.err != nil {
		return TrainResult{}, f.err
	}
	return TrainResult{Accuracy: 0.82, Loss: 0.41}, nil
}

func (f *fakeTrainer) trainedBatches() [][]Correction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]Correction, len(f.batches))
	copy(out, f.batches)
	return out
}

type captureTrainingStore struct {
	mu       sync.Mutex
	examples []store.TrainingExample
	err      error
}

func (c *captureTrainingStore) Append(_ context.Context, ex store.TrainingExample) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.examples = append(c.examples, ex)
	return nil
}

func (c *captureTrainingStore) Close() error { return nil }

func (c *captureTrainingStore) appended() []store.TrainingExample {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]store.TrainingExample, len(c.examples))
	copy(out, c.examples)
	return out
}

type captureSink struct {
	mu      sync.Mutex
	records []store.MetricRecord
}

func (c *captureSink) Enqueue(rec store.MetricRecord) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
	return true
}

func (c *captureSink) byKind(kind store.RecordKind) []store.MetricRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []store.MetricRecord
	for _, rec := range c.records {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out
}

func newProcessor(t *testing.T) (*Processor, *captureTrainingStore, *fakeTrainer, *captureSink) {
	t.Helper()
	training := &captureTrainingStore{}
	trainer := &fakeTrainer{}
	sink := &captureSink{}
	p := New(DefaultConfig(), tracker.New(tracker.DefaultConfig(), nil), training, trainer, sink)
	return p, training, trainer, sink
}

func TestProcessAcceptanceWritesExamples(t *testing.T) {
	p, training, _, sink := newProcessor(t)

	items := []tab.Tab{
		{ID: "t1", URL: "https://github.com/golang/go/issues", Title: "Issues"},
		{ID: "t2", URL: "https://example.com", Title: "Example"},
	}
	accepted := p.ProcessAcceptance(context.Background(), items, map[string]Assignment{
		"t1": {Category: tab.CategoryImportant},
	})

	assert.Equal(t, 1, accepted)

	examples := training.appended()
	require.Len(t, examples, 1)
	assert.Equal(t, "https://github.com/golang/go/issues", examples[0].URL)
	assert.Equal(t, tab.CategoryImportant, examples[0].Category)
	assert.Equal(t, 1, examples[0].Weight)
	assert.Equal(t, ExampleSourceFeedback, examples[0].Source)
	assert.False(t, examples[0].Corrected)
	assert.Equal(t, "1.00", examples[0].Metadata["confidence"], "missing confidence defaults to 1.0")
	assert.NotEmpty(t, examples[0].ID)
	assert.False(t, examples[0].Timestamp.IsZero())

	entries := sink.byKind(store.KindFeedback)
	require.Len(t, entries, 1)
	assert.Equal(t, FeedbackAcceptance, entries[0].Metadata["type"])
	assert.Equal(t, "t1", entries[0].Metadata["item_id"])
	assert.InDelta(t, 1.0, entries[0].Value, 1e-9)
}

func TestProcessCorrectionAdjustsTrustImmediately(t *testing.T) {
	tr := tracker.New(tracker.DefaultConfig(), nil)
	p := New(DefaultConfig(), tr, nil, nil, nil)

	p.ProcessCorrection(context.Background(),
		tab.Tab{ID: "t1", URL: "https://news.example.com/story"},
		tab.CategoryIgnore, tab.CategoryImportant,
		CorrectionContext{
			Predictions: prediction.Set{
				prediction.SourceRules: {Category: tab.CategoryIgnore, Confidence: 0.9},
				prediction.SourceModel: {Category: tab.CategoryImportant, Confidence: 0.6},
			},
		})

	rules, _ := tr.SourceStats(prediction.SourceRules)
	model, _ := tr.SourceStats(prediction.SourceModel)
	assert.InDelta(t, 0.47, rules.Accuracy, 1e-9, "source behind the wrong category is penalized")
	assert.InDelta(t, 0.52, model.Accuracy, 1e-9, "source that had it right is boosted")
}

func TestProcessCorrectionWritesCorrectedExample(t *testing.T) {
	p, training, _, _ := newProcessor(t)

	p.ProcessCorrection(context.Background(),
		tab.Tab{ID: "t1", URL: "https://docs.example.com/guide", Title: "Guide"},
		tab.CategoryIgnore, tab.CategoryUseful,
		CorrectionContext{OriginalSource: "weighted_vote"})

	examples := training.appended()
	require.Len(t, examples, 1)
	ex := examples[0]
	assert.Equal(t, tab.CategoryUseful, ex.Category)
	assert.Equal(t, ExampleSourceCorrection, ex.Source)
	assert.True(t, ex.Corrected)
	assert.Equal(t, 1, ex.Weight)
	assert.Equal(t, "ignore", ex.Metadata["original_category"])
	assert.Equal(t, "weighted_vote", ex.Metadata["original_source"])
	assert.NotEmpty(t, ex.Metadata["correction_time"])
}

func TestLearningQueueDrainsOnceAtThreshold(t *testing.T) {
	p, _, trainer, _ := newProcessor(t)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		p.ProcessCorrection(ctx, tab.Tab{ID: fmt.Sprintf("t%d", i), URL: "https://example.com"},
			tab.CategoryIgnore, tab.CategoryUseful, CorrectionContext{})
	}
	assert.Equal(t, 9, p.QueueLength())
	assert.Empty(t, trainer.trainedBatches(), "below the threshold nothing trains")

	p.ProcessCorrection(ctx, tab.Tab{ID: "t9", URL: "https://example.com"},
		tab.CategoryIgnore, tab.CategoryUseful, CorrectionContext{})
	p.Close()

	batches := trainer.trainedBatches()
	require.Len(t, batches, 1, "the threshold triggers exactly one run")
	assert.Len(t, batches[0], 10)
	assert.Equal(t, 0, p.QueueLength(), "queue is cleared before the hand-off")

	// The next correction starts a fresh queue rather than re-triggering.
	p.ProcessCorrection(ctx, tab.Tab{ID: "t10", URL: "https://example.com"},
		tab.CategoryIgnore, tab.CategoryUseful, CorrectionContext{})
	p.Close()
	assert.Len(t, trainer.trainedBatches(), 1)
	assert.Equal(t, 1, p.QueueLength())
}

func TestTrainingFailureIsNotReplayed(t *testing.T) {
	p, _, trainer, _ := newProcessor(t)
	trainer.err = errors.New("trainer unavailable")
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		p.ProcessCorrection(ctx, tab.Tab{ID: fmt.Sprintf("t%d", i), URL: "https://example.com"},
			tab.CategoryIgnore, tab.CategoryUseful, CorrectionContext{})
	}
	p.Close()

	require.Len(t, trainer.trainedBatches(), 1)
	assert.Equal(t, 0, p.QueueLength(), "a failed batch is dropped, not requeued")
}

func TestProcessTabCloseOnlyCountsIgnore(t *testing.T) {
	p, training, _, _ := newProcessor(t)
	ctx := context.Background()

	counted := p.ProcessTabClose(ctx, tab.Tab{ID: "t1", URL: "https://example.com"}, tab.CategoryImportant)
	assert.False(t, counted)
	assert.Empty(t, training.appended())

	counted = p.ProcessTabClose(ctx, tab.Tab{ID: "t2", URL: "https://ads.example.com"}, tab.CategoryIgnore)
	assert.True(t, counted)

	examples := training.appended()
	require.Len(t, examples, 1)
	assert.Equal(t, tab.CategoryIgnore, examples[0].Category)
	assert.Equal(t, 1, examples[0].Weight)
	assert.Equal(t, ExampleSourceClose, examples[0].Source)
}

func TestProcessTabSaveCarriesDoubleWeight(t *testing.T) {
	p, training, _, _ := newProcessor(t)

	p.ProcessTabSave(context.Background(), tab.Tab{ID: "t1", URL: "https://paper.example.com"}, tab.CategoryImportant)

	examples := training.appended()
	require.Len(t, examples, 1)
	assert.Equal(t, 2, examples[0].Weight)
	assert.Equal(t, ExampleSourceSave, examples[0].Source)
	assert.Equal(t, tab.CategoryImportant, examples[0].Category)
}

func TestAnalyzeCorrectionPatterns(t *testing.T) {
	p, _, _, _ := newProcessor(t)
	ctx := context.Background()

	// Three corrections from one domain: suggest a domain rule.
	for i := 0; i < 3; i++ {
		p.ProcessCorrection(ctx,
			tab.Tab{ID: fmt.Sprintf("gh%d", i), URL: fmt.Sprintf("https://www.github.com/org/repo%d", i)},
			tab.CategoryIgnore, tab.CategoryImportant, CorrectionContext{})
	}

	// Three corrections from mixed domains that all look like searches:
	// suggest a pattern rule on the first signal.
	for i, u := range []string{
		"https://google.com/search?q=compilers",
		"https://duckduckgo.com/?q=parsers",
		"https://bing.com/search?q=linkers",
	} {
		p.ProcessCorrection(ctx, tab.Tab{ID: fmt.Sprintf("s%d", i), URL: u},
			tab.CategoryUseful, tab.CategoryIgnore, CorrectionContext{})
	}

	// Two corrections only: below the pattern floor.
	for i := 0; i < 2; i++ {
		p.ProcessCorrection(ctx, tab.Tab{ID: fmt.Sprintf("x%d", i), URL: "https://example.com"},
			tab.CategoryImportant, tab.CategoryUseful, CorrectionContext{})
	}

	patterns := p.AnalyzeCorrectionPatterns()
	require.Len(t, patterns, 2)

	domainPattern := patterns[0]
	assert.Equal(t, "ignore->important", domainPattern.Key)
	assert.Equal(t, 3, domainPattern.Count)
	assert.Equal(t, []string{"github.com"}, domainPattern.Domains)
	require.NotNil(t, domainPattern.Suggestion)
	assert.Equal(t, SuggestionDomain, domainPattern.Suggestion.Type)
	assert.Equal(t, "github.com", domainPattern.Suggestion.Value)
	assert.Equal(t, tab.CategoryImportant, domainPattern.Suggestion.Category)
	assert.InDelta(t, 0.9, domainPattern.Suggestion.Confidence, 1e-9)

	searchPattern := patterns[1]
	assert.Equal(t, "useful->ignore", searchPattern.Key)
	require.NotNil(t, searchPattern.Suggestion)
	assert.Equal(t, SuggestionPattern, searchPattern.Suggestion.Type)
	assert.Equal(t, SignalSearch, searchPattern.Suggestion.Value)
	assert.InDelta(t, 0.7, searchPattern.Suggestion.Confidence, 1e-9)
}

func TestInsightsSurfaceSystematicErrors(t *testing.T) {
	p, _, _, _ := newProcessor(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		p.ProcessCorrection(ctx, tab.Tab{ID: fmt.Sprintf("t%d", i), URL: "https://example.com/page"},
			tab.CategoryIgnore, tab.CategoryImportant, CorrectionContext{})
	}

	insights := p.Insights()
	require.Len(t, insights, 2)

	assert.Equal(t, InsightSystematicError, insights[0].Type)
	assert.Equal(t, "ignore->important", insights[0].Pattern)
	assert.Equal(t, 5, insights[0].Count)

	// All feedback so far were corrections, so the rate insight fires too.
	assert.Equal(t, InsightHighCorrectionRate, insights[1].Type)
	assert.InDelta(t, 1.0, insights[1].Rate, 1e-9)
}

func TestCorrectionRateMixesAllFeedback(t *testing.T) {
	p, _, _, _ := newProcessor(t)
	ctx := context.Background()

	p.ProcessCorrection(ctx, tab.Tab{ID: "c1", URL: "https://example.com"},
		tab.CategoryIgnore, tab.CategoryUseful, CorrectionContext{})
	p.ProcessAcceptance(ctx,
		[]tab.Tab{{ID: "a1"}, {ID: "a2"}, {ID: "a3"}},
		map[string]Assignment{
			"a1": {Category: tab.CategoryUseful},
			"a2": {Category: tab.CategoryUseful},
			"a3": {Category: tab.CategoryImportant},
		})

	assert.InDelta(t, 0.25, p.CorrectionRate(), 1e-9)
	assert.Empty(t, p.Insights(), "a quarter of corrections is under the alert rate")
}

func TestStorageFailureDoesNotAbortCorrections(t *testing.T) {
	training := &captureTrainingStore{err: errors.New("disk full")}
	p := New(DefaultConfig(), tracker.New(tracker.DefaultConfig(), nil), training, &fakeTrainer{}, nil)

	p.ProcessCorrection(context.Background(),
		tab.Tab{ID: "t1", URL: "https://example.com"},
		tab.CategoryIgnore, tab.CategoryUseful, CorrectionContext{})

	assert.Equal(t, 1, p.QueueLength(), "the correction still reaches the learning queue")
	assert.InDelta(t, 1.0, p.CorrectionRate(), 1e-9)
	require.Len(t, p.AnalyzeCorrectionPatterns(), 0, "single correction is below the pattern floor")
}
