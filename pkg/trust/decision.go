package trust

import (
	"time"

	"github.com/aitkn/ai-tab-manager-sub001/pkg/prediction"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/tab"
)

// Decision methods beyond the plain source names: how the final category
// was produced when no single source's prediction was adopted verbatim.
const (
	// MethodWeightedVote marks a category chosen by the balanced vote.
	MethodWeightedVote = "weighted_vote"
	// MethodConsensus marks a low-scoring vote rescued by unanimity.
	MethodConsensus = "consensus"
	// MethodDefault marks the fallback when no prediction was usable.
	MethodDefault = "default"
)

// Vote records one source's contribution to a decision. Score is the
// weight-times-confidence mass the source added to its category; Counted
// is false when the source was present but excluded by the active
// strategy.
type Vote struct {
	Source     prediction.Source `json:"source"`
	Category   tab.Category      `json:"category"`
	Confidence float64           `json:"confidence"`
	Weight     float64           `json:"weight"`
	Score      float64           `json:"score"`
	Counted    bool              `json:"counted"`
}

// Decision is the fused category call for one item. Source names the
// prediction source or method that produced the category; Reasoning is
// always populated so every decision can be explained after the fact.
type Decision struct {
	Category   tab.Category `json:"category"`
	Source     string       `json:"source"`
	Confidence float64      `json:"confidence"`
	Strategy   Strategy     `json:"strategy"`
	Reasoning  string       `json:"reasoning"`
	Timestamp  time.Time    `json:"timestamp"`

	// Weights is the per-source weight snapshot the decision was made
	// under, after any strategy adjustment.
	Weights map[prediction.Source]float64 `json:"weights,omitempty"`

	// Votes holds the accumulated score per category for vote-based
	// decisions.
	Votes map[tab.Category]float64 `json:"votes,omitempty"`

	// VoteDetails lists each source's contribution for auditing.
	VoteDetails []Vote `json:"vote_details,omitempty"`
}
