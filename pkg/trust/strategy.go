package trust

// Strategy names how the ensemble combines source predictions. The
// selector walks the strategies in a strict priority order, so exactly
// one applies to any tracker snapshot.
type Strategy string

const (
	// StrategyEarlyStage applies while the model has too little training
	// to be consulted at all.
	StrategyEarlyStage Strategy = "early_stage"
	// StrategyLearning applies while the model is trained but not yet
	// established; it votes only when confident.
	StrategyLearning Strategy = "learning"
	// StrategyDominant applies when one source clearly outperforms the
	// others and should decide alone.
	StrategyDominant Strategy = "dominant"
	// StrategyModelBoost applies when the model is improving and earns
	// extra weight.
	StrategyModelBoost Strategy = "model_boost"
	// StrategyBalanced is the steady-state weighted vote.
	StrategyBalanced Strategy = "balanced"
)

// AllStrategies returns the strategies in selection priority order.
func AllStrategies() []Strategy {
	return []Strategy{
		StrategyEarlyStage,
		StrategyLearning,
		StrategyDominant,
		StrategyModelBoost,
		StrategyBalanced,
	}
}
