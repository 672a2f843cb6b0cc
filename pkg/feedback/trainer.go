package feedback

import (
	"context"
	"time"

	"github.com/aitkn/ai-tab-manager-sub001/pkg/tab"
)

// Correction is one user reclassification, queued for incremental
// training.
type Correction struct {
	Item        tab.Tab      `json:"item"`
	OldCategory tab.Category `json:"old_category"`
	NewCategory tab.Category `json:"new_category"`
	Timestamp   time.Time    `json:"timestamp"`
}

// TrainOptions tunes one incremental training run.
type TrainOptions struct {
	Epochs   int    `json:"epochs"`
	Priority string `json:"priority"`
}

// TrainResult reports the model quality after a training run.
type TrainResult struct {
	Accuracy float64 `json:"accuracy"`
	Loss     float64 `json:"loss"`
}

// Trainer retrains the model on a batch of corrections. Implementations
// live outside this module; the processor only drives them.
type Trainer interface {
	IncrementalTrain(ctx context.Context, batch []Correction, opts TrainOptions) (TrainResult, error)
}
