package prediction

import (
	"fmt"
	"sort"

	"github.com/aitkn/ai-tab-manager-sub001/pkg/tab"
)

// Source identifies one of the categorization engines feeding the fusion
// layer.
type Source string

const (
	// SourceRules is the deterministic URL/title rule engine.
	SourceRules Source = "rules"
	// SourceModel is the locally trained classifier.
	SourceModel Source = "model"
	// SourceLLM is the large-language-model categorizer.
	SourceLLM Source = "llm"
)

// AllSources returns the sources in their canonical order.
func AllSources() []Source {
	return []Source{SourceRules, SourceModel, SourceLLM}
}

// ParseSource validates a raw source name.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceRules, SourceModel, SourceLLM:
		return Source(s), nil
	default:
		return "", fmt.Errorf("unknown prediction source: %q", s)
	}
}

// DefaultConfidence is the confidence assumed when a source reports a bare
// category without one. Rules are deterministic, the model is the least
// trusted while it learns, and the LLM sits in between.
func DefaultConfidence(s Source) float64 {
	switch s {
	case SourceRules:
		return 1.0
	case SourceModel:
		return 0.5
	case SourceLLM:
		return 0.8
	default:
		return 0.5
	}
}

// Prediction is one source's category call for a single item.
type Prediction struct {
	Category   tab.Category `json:"category"`
	Confidence float64      `json:"confidence"`
}

// Set holds the per-source predictions for one item. A missing source is
// meaningful: look up with the two-value form, never rely on zero values.
type Set map[Source]Prediction

// Sources returns the sources present in the set, in canonical order.
func (s Set) Sources() []Source {
	present := make([]Source, 0, len(s))
	for _, src := range AllSources() {
		if _, ok := s[src]; ok {
			present = append(present, src)
		}
	}
	return present
}

// Batch maps each source to its per-item predictions. Sources may cover
// different subsets of items.
type Batch map[Source]map[string]Prediction

// ItemIDs returns the union of item IDs across all sources, sorted for
// deterministic iteration.
func (b Batch) ItemIDs() []string {
	seen := make(map[string]struct{})
	for _, items := range b {
		for id := range items {
			seen[id] = struct{}{}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ForItem collects the predictions every source made for one item.
func (b Batch) ForItem(id string) Set {
	set := make(Set)
	for source, items := range b {
		if p, ok := items[id]; ok {
			set[source] = p
		}
	}
	return set
}
