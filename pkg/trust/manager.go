// Package trust selects the fusion strategy for the current tracker
// state and turns per-source predictions into explained decisions.
package trust

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/aitkn/ai-tab-manager-sub001/pkg/observability/logging"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/prediction"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/tab"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/tracker"
)

const (
	// chainConfidence is reported when a strategy's preference chain
	// runs out of predictions and the default category is returned.
	chainConfidence = 0.3

	// noPredictionConfidence is reported when a weighted vote had no
	// predictions at all.
	noPredictionConfidence = 0.2
)

// Config configures strategy selection and decision thresholds.
type Config struct {
	// MinTrainingExamples is the model prediction count below which the
	// ensemble stays in the early stage. Default: 100.
	MinTrainingExamples int `yaml:"min_training_examples"`

	// EstablishedPredictions is the model prediction count at which it
	// leaves the learning stage. Default: 500.
	EstablishedPredictions int `yaml:"established_predictions"`

	// ReliableConfidence is the model consistency score required to
	// leave the learning stage. Default: 0.7.
	ReliableConfidence float64 `yaml:"reliable_confidence"`

	// LowConfidence is the vote confidence below which low-confidence
	// handling kicks in, and the per-prediction confidence the model
	// must exceed to be adopted under the boost strategy. Default: 0.4.
	LowConfidence float64 `yaml:"low_confidence"`

	// MediumConfidence is the per-prediction confidence the model needs
	// to be adopted while learning. Default: 0.6.
	MediumConfidence float64 `yaml:"medium_confidence"`

	// ConsensusConfidence is assigned when a low-confidence vote turns
	// out to be unanimous. Default: 0.8.
	ConsensusConfidence float64 `yaml:"consensus_confidence"`

	// DisagreementPenalty scales the winning source's confidence when a
	// low-confidence vote is contested. Default: 0.8.
	DisagreementPenalty float64 `yaml:"disagreement_penalty"`

	// DominantGap is the lead over the mean accuracy that lets a single
	// source decide alone. Default: 0.15.
	DominantGap float64 `yaml:"dominant_gap"`

	// ModelBoostAccuracy is the model accuracy required for the boost
	// strategy. Default: 0.7.
	ModelBoostAccuracy float64 `yaml:"model_boost_accuracy"`

	// ModelBoostFactor multiplies the model weight under the boost
	// strategy. Default: 1.5.
	ModelBoostFactor float64 `yaml:"model_boost_factor"`

	// WeightCap bounds any single boosted weight before renormalizing.
	// Default: 0.7.
	WeightCap float64 `yaml:"weight_cap"`
}

// DefaultConfig returns the trust manager defaults.
func DefaultConfig() Config {
	return Config{
		MinTrainingExamples:    100,
		EstablishedPredictions: 500,
		ReliableConfidence:     0.7,
		LowConfidence:          0.4,
		MediumConfidence:       0.6,
		ConsensusConfidence:    0.8,
		DisagreementPenalty:    0.8,
		DominantGap:            0.15,
		ModelBoostAccuracy:     0.7,
		ModelBoostFactor:       1.5,
		WeightCap:              0.7,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinTrainingExamples <= 0 {
		c.MinTrainingExamples = d.MinTrainingExamples
	}
	if c.EstablishedPredictions <= 0 {
		c.EstablishedPredictions = d.EstablishedPredictions
	}
	if c.ReliableConfidence <= 0 {
		c.ReliableConfidence = d.ReliableConfidence
	}
	if c.LowConfidence <= 0 {
		c.LowConfidence = d.LowConfidence
	}
	if c.MediumConfidence <= 0 {
		c.MediumConfidence = d.MediumConfidence
	}
	if c.ConsensusConfidence <= 0 {
		c.ConsensusConfidence = d.ConsensusConfidence
	}
	if c.DisagreementPenalty <= 0 {
		c.DisagreementPenalty = d.DisagreementPenalty
	}
	if c.DominantGap <= 0 {
		c.DominantGap = d.DominantGap
	}
	if c.ModelBoostAccuracy <= 0 {
		c.ModelBoostAccuracy = d.ModelBoostAccuracy
	}
	if c.ModelBoostFactor <= 0 {
		c.ModelBoostFactor = d.ModelBoostFactor
	}
	if c.WeightCap <= 0 {
		c.WeightCap = d.WeightCap
	}
	return c
}

// Manager selects and executes fusion strategies. Strategy choice is a
// pure function of the tracker snapshot; the only state kept across
// calls is the last selected strategy, used to log transitions.
type Manager struct {
	cfg Config

	mu   sync.Mutex
	last Strategy
}

// NewManager creates a trust manager.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg.withDefaults()}
}

// SelectStrategy walks the strategy ladder in priority order and logs
// when the selection moves away from the previous one.
func (m *Manager) SelectStrategy(stats tracker.SystemStats) Strategy {
	strategy := m.selectStrategy(stats)

	m.mu.Lock()
	if m.last != "" && m.last != strategy {
		logging.Infof("fusion strategy changed from %s to %s", m.last, strategy)
	}
	m.last = strategy
	m.mu.Unlock()

	return strategy
}

// CurrentStrategy reports the strategy the ladder selects for the
// snapshot without recording a transition. Read-only callers such as
// status endpoints use this so they never trigger transition logging.
func (m *Manager) CurrentStrategy(stats tracker.SystemStats) Strategy {
	return m.selectStrategy(stats)
}

func (m *Manager) selectStrategy(stats tracker.SystemStats) Strategy {
	model := stats.Sources[prediction.SourceModel]

	if model.TotalPredictions < m.cfg.MinTrainingExamples {
		return StrategyEarlyStage
	}
	if model.TotalPredictions < m.cfg.EstablishedPredictions || model.Confidence < m.cfg.ReliableConfidence {
		return StrategyLearning
	}
	if m.dominantSource(stats) != "" {
		return StrategyDominant
	}
	if model.Trend == tracker.TrendImproving && model.Accuracy > m.cfg.ModelBoostAccuracy {
		return StrategyModelBoost
	}
	return StrategyBalanced
}

// dominantSource returns the source whose accuracy leads the mean by more
// than the configured gap, or "" when the field is level.
func (m *Manager) dominantSource(stats tracker.SystemStats) prediction.Source {
	var (
		best    prediction.Source
		bestAcc float64
		sum     float64
		count   int
	)
	for _, source := range prediction.AllSources() {
		s, ok := stats.Sources[source]
		if !ok {
			continue
		}
		sum += s.Accuracy
		count++
		if best == "" || s.Accuracy > bestAcc {
			best = source
			bestAcc = s.Accuracy
		}
	}
	if count == 0 {
		return ""
	}
	if bestAcc-sum/float64(count) > m.cfg.DominantGap {
		return best
	}
	return ""
}

// Decide fuses the predictions for one item under the given strategy.
// The stats snapshot supplies weights and accuracies; passing the same
// snapshot for a whole batch keeps its decisions mutually consistent.
// Missing predictions never fail a decision: every strategy degrades
// through its fallback chain down to the default category.
func (m *Manager) Decide(strategy Strategy, preds prediction.Set, stats tracker.SystemStats) Decision {
	var d Decision
	switch strategy {
	case StrategyEarlyStage:
		d = m.decideEarlyStage(preds, stats)
	case StrategyLearning:
		d = m.decideLearning(preds, stats)
	case StrategyDominant:
		d = m.decideDominant(preds, stats)
	case StrategyModelBoost:
		d = m.decideModelBoost(preds, stats)
	case StrategyBalanced:
		d = m.decideBalanced(preds, stats)
	default:
		d = m.decideBalanced(preds, stats)
	}
	d.Timestamp = time.Now().UTC()
	return d
}

// decideEarlyStage trusts rules first and the llm second while the model
// is untrained; the model is never consulted.
func (m *Manager) decideEarlyStage(preds prediction.Set, stats tracker.SystemStats) Decision {
	weights := map[prediction.Source]float64{
		prediction.SourceRules: 0.5,
		prediction.SourceModel: 0,
		prediction.SourceLLM:   0.5,
	}

	for _, source := range []prediction.Source{prediction.SourceRules, prediction.SourceLLM} {
		p, ok := preds[source]
		if !ok {
			continue
		}
		return adopt(StrategyEarlyStage, source, p, weights, preds,
			fmt.Sprintf("model has only %d predictions, below the %d training floor; adopting the %s prediction",
				stats.Sources[prediction.SourceModel].TotalPredictions, m.cfg.MinTrainingExamples, source))
	}

	return chainDefault(StrategyEarlyStage, weights, "neither rules nor llm produced a prediction; defaulting to useful")
}

// decideLearning prefers a confident model call, then falls back through
// the sources in order.
func (m *Manager) decideLearning(preds prediction.Set, stats tracker.SystemStats) Decision {
	weights := weightsFrom(stats)
	model := stats.Sources[prediction.SourceModel]

	if p, ok := preds[prediction.SourceModel]; ok && p.Confidence >= m.cfg.MediumConfidence {
		return adopt(StrategyLearning, prediction.SourceModel, p, weights, preds,
			fmt.Sprintf("model still learning (%d predictions) but confident at %.2f; adopting its prediction",
				model.TotalPredictions, p.Confidence))
	}

	for _, source := range prediction.AllSources() {
		p, ok := preds[source]
		if !ok {
			continue
		}
		return adopt(StrategyLearning, source, p, weights, preds,
			fmt.Sprintf("model still learning (%d predictions, consistency %.2f); falling back to %s",
				model.TotalPredictions, model.Confidence, source))
	}

	return chainDefault(StrategyLearning, weights, "no source produced a prediction; defaulting to useful")
}

// decideDominant defers to the most accurate source, falling through the
// remaining sources in accuracy order.
func (m *Manager) decideDominant(preds prediction.Set, stats tracker.SystemStats) Decision {
	order := make([]prediction.Source, 0, 3)
	for _, source := range prediction.AllSources() {
		if _, ok := stats.Sources[source]; ok {
			order = append(order, source)
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return stats.Sources[order[i]].Accuracy > stats.Sources[order[j]].Accuracy
	})

	weights := weightsFrom(stats)
	mean := meanAccuracy(stats)
	for _, source := range order {
		p, ok := preds[source]
		if !ok {
			continue
		}
		return adopt(StrategyDominant, source, p, weights, preds,
			fmt.Sprintf("%s leads accuracy (%.2f vs %.2f mean); deferring to it",
				source, stats.Sources[source].Accuracy, mean))
	}

	return chainDefault(StrategyDominant, weights, "no source produced a prediction; defaulting to useful")
}

// decideModelBoost adopts a usable model prediction outright; otherwise
// it runs the weighted vote with the model's weight boosted.
func (m *Manager) decideModelBoost(preds prediction.Set, stats tracker.SystemStats) Decision {
	weights := m.boostedWeights(stats)
	model := stats.Sources[prediction.SourceModel]

	if p, ok := preds[prediction.SourceModel]; ok && p.Confidence > m.cfg.LowConfidence {
		return adopt(StrategyModelBoost, prediction.SourceModel, p, weights, preds,
			fmt.Sprintf("model improving with accuracy %.2f; adopting its prediction at %.2f",
				model.Accuracy, p.Confidence))
	}

	return m.weightedVote(StrategyModelBoost, preds, weights,
		fmt.Sprintf("model improving with accuracy %.2f but unusable here; weighted vote with boosted weights", model.Accuracy))
}

func (m *Manager) decideBalanced(preds prediction.Set, stats tracker.SystemStats) Decision {
	return m.weightedVote(StrategyBalanced, preds, weightsFrom(stats),
		fmt.Sprintf("weighted vote across %d sources", len(preds)))
}

// boostedWeights multiplies the model's trust weight by the boost factor,
// caps it, and renormalizes all weights to sum to one.
func (m *Manager) boostedWeights(stats tracker.SystemStats) map[prediction.Source]float64 {
	weights := weightsFrom(stats)
	weights[prediction.SourceModel] = math.Min(m.cfg.WeightCap, weights[prediction.SourceModel]*m.cfg.ModelBoostFactor)

	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum > 0 {
		for source := range weights {
			weights[source] /= sum
		}
	}
	return weights
}

// weightedVote accumulates weight-times-confidence per category across
// every present prediction and picks the highest-scoring category. Votes
// that end below the confidence floor go to low-confidence handling.
func (m *Manager) weightedVote(strategy Strategy, preds prediction.Set, weights map[prediction.Source]float64, reason string) Decision {
	var (
		details []Vote
		counted int
		total   float64
	)
	scores := make(map[tab.Category]float64)

	for _, source := range prediction.AllSources() {
		p, ok := preds[source]
		if !ok {
			continue
		}

		weight := weights[source]
		score := weight * p.Confidence
		details = append(details, Vote{
			Source:     source,
			Category:   p.Category,
			Confidence: p.Confidence,
			Weight:     weight,
			Score:      score,
			Counted:    weight > 0,
		})
		if weight <= 0 {
			continue
		}

		counted++
		scores[p.Category] += score
		total += score
	}

	if counted == 0 || total <= 0 {
		return m.lowConfidenceDecision(strategy, preds, weights, scores, details)
	}

	winner, winScore := winningCategory(scores)
	confidence := winScore / total
	if confidence < m.cfg.LowConfidence {
		return m.lowConfidenceDecision(strategy, preds, weights, scores, details)
	}

	return Decision{
		Category:    winner,
		Source:      MethodWeightedVote,
		Confidence:  confidence,
		Strategy:    strategy,
		Reasoning:   fmt.Sprintf("%s; %s wins the vote with %.2f of %.2f", reason, winner, winScore, total),
		Weights:     weights,
		Votes:       scores,
		VoteDetails: details,
	}
}

// lowConfidenceDecision handles votes that end below the confidence
// floor: silence yields the default, unanimity is trusted regardless of
// the numeric vote share, and contested calls defer to the most
// confident source at a penalty.
func (m *Manager) lowConfidenceDecision(strategy Strategy, preds prediction.Set, weights map[prediction.Source]float64, scores map[tab.Category]float64, details []Vote) Decision {
	if len(preds) == 0 {
		return Decision{
			Category:   tab.DefaultCategory,
			Source:     MethodDefault,
			Confidence: noPredictionConfidence,
			Strategy:   strategy,
			Reasoning:  "no source produced a prediction; defaulting to useful",
			Weights:    weights,
		}
	}

	if category, ok := unanimousCategory(preds); ok {
		return Decision{
			Category:    category,
			Source:      MethodConsensus,
			Confidence:  m.cfg.ConsensusConfidence,
			Strategy:    strategy,
			Reasoning:   fmt.Sprintf("low vote confidence but all sources agree on %s", category),
			Weights:     weights,
			Votes:       scores,
			VoteDetails: details,
		}
	}

	best := mostConfidentSource(preds)
	p := preds[best]
	return Decision{
		Category:    p.Category,
		Source:      string(best),
		Confidence:  p.Confidence * m.cfg.DisagreementPenalty,
		Strategy:    strategy,
		Reasoning:   fmt.Sprintf("low vote confidence with disagreement; deferring to %s at reduced confidence", best),
		Weights:     weights,
		Votes:       scores,
		VoteDetails: details,
	}
}

// adopt returns one source's prediction as the decision, with the other
// present sources recorded for the audit trail.
func adopt(strategy Strategy, source prediction.Source, p prediction.Prediction, weights map[prediction.Source]float64, preds prediction.Set, reason string) Decision {
	return Decision{
		Category:    p.Category,
		Source:      string(source),
		Confidence:  p.Confidence,
		Strategy:    strategy,
		Reasoning:   reason,
		Weights:     weights,
		VoteDetails: presentVotes(preds, weights, source),
	}
}

// chainDefault is the decision when a preference chain found nothing.
func chainDefault(strategy Strategy, weights map[prediction.Source]float64, reason string) Decision {
	return Decision{
		Category:   tab.DefaultCategory,
		Source:     MethodDefault,
		Confidence: chainConfidence,
		Strategy:   strategy,
		Reasoning:  reason,
		Weights:    weights,
	}
}

func weightsFrom(stats tracker.SystemStats) map[prediction.Source]float64 {
	weights := make(map[prediction.Source]float64, len(stats.Sources))
	for source, s := range stats.Sources {
		weights[source] = s.TrustWeight
	}
	return weights
}

func meanAccuracy(stats tracker.SystemStats) float64 {
	if len(stats.Sources) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range stats.Sources {
		sum += s.Accuracy
	}
	return sum / float64(len(stats.Sources))
}

// winningCategory picks the highest-scoring category; ties resolve to
// the lowest category index for determinism.
func winningCategory(scores map[tab.Category]float64) (tab.Category, float64) {
	winner := tab.DefaultCategory
	best := math.Inf(-1)
	for _, category := range []tab.Category{tab.CategoryUncategorized, tab.CategoryIgnore, tab.CategoryUseful, tab.CategoryImportant} {
		score, ok := scores[category]
		if !ok {
			continue
		}
		if score > best {
			winner = category
			best = score
		}
	}
	return winner, best
}

func unanimousCategory(preds prediction.Set) (tab.Category, bool) {
	var (
		category tab.Category
		first    = true
	)
	for _, p := range preds {
		if first {
			category = p.Category
			first = false
			continue
		}
		if p.Category != category {
			return 0, false
		}
	}
	return category, !first
}

// mostConfidentSource breaks confidence ties in canonical source order.
func mostConfidentSource(preds prediction.Set) prediction.Source {
	var (
		best     prediction.Source
		bestConf = math.Inf(-1)
	)
	for _, source := range prediction.AllSources() {
		p, ok := preds[source]
		if !ok {
			continue
		}
		if p.Confidence > bestConf {
			best = source
			bestConf = p.Confidence
		}
	}
	return best
}

// presentVotes records every present prediction for the audit trail,
// marking the adopted source as the counted one.
func presentVotes(preds prediction.Set, weights map[prediction.Source]float64, adopted prediction.Source) []Vote {
	var votes []Vote
	for _, source := range prediction.AllSources() {
		p, ok := preds[source]
		if !ok {
			continue
		}
		v := Vote{
			Source:     source,
			Category:   p.Category,
			Confidence: p.Confidence,
			Weight:     weights[source],
			Counted:    source == adopted,
		}
		if v.Counted {
			v.Score = p.Confidence
		}
		votes = append(votes, v)
	}
	return votes
}
