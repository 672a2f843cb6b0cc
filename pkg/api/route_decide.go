package api

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/aitkn/ai-tab-manager-sub001/pkg/prediction"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/tab"
)

// PredictionPayload is one source's category call as it arrives on the
// wire. Categories are the integer buckets (0-3); confidence 0 means
// "use the source default".
type PredictionPayload struct {
	Category   int     `json:"category"`
	Confidence float64 `json:"confidence,omitempty"`
}

// DecideRequest carries one item's per-source predictions, keyed by
// source name (rules, model, llm).
type DecideRequest struct {
	ItemID      string                       `json:"item_id,omitempty"` // Optional; generated when absent
	Predictions map[string]PredictionPayload `json:"predictions"`
}

// VoteRequest carries a whole batch: source name -> item ID -> call.
// Sources may cover different subsets of items.
type VoteRequest struct {
	Predictions map[string]map[string]PredictionPayload `json:"predictions"`
}

// handleDecide fuses the predictions for a single item. The request is
// run as a one-item batch so auditing and history behave exactly as for
// batch votes.
func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	var req DecideRequest
	if err := s.parseJSONRequest(r, &req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	if len(req.Predictions) == 0 {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_INPUT", "predictions must not be empty")
		return
	}

	set, err := decodeSet(req.Predictions)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}

	itemID := req.ItemID
	if itemID == "" {
		itemID = uuid.NewString()
	}

	batch := make(prediction.Batch, len(set))
	for source, p := range set {
		batch[source] = map[string]prediction.Prediction{itemID: p}
	}

	result := s.voter.Vote(batch)
	s.writeJSONResponse(w, http.StatusOK, result.Items[0])
}

// handleVote fuses a batch of predictions into one decision per item.
func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req VoteRequest
	if err := s.parseJSONRequest(r, &req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	if len(req.Predictions) == 0 {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_INPUT", "predictions must not be empty")
		return
	}

	batch, err := decodeBatch(req.Predictions)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}

	result := s.voter.Vote(batch)
	s.writeJSONResponse(w, http.StatusOK, result)
}

// decodeSet validates and converts wire predictions for one item.
func decodeSet(raw map[string]PredictionPayload) (prediction.Set, error) {
	set := make(prediction.Set, len(raw))
	for name, payload := range raw {
		source, err := prediction.ParseSource(name)
		if err != nil {
			return nil, err
		}
		category, err := tab.ParseCategory(payload.Category)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", name, err)
		}
		set[source] = prediction.Prediction{Category: category, Confidence: payload.Confidence}
	}
	return set, nil
}

// decodeBatch validates and converts a full wire batch.
func decodeBatch(raw map[string]map[string]PredictionPayload) (prediction.Batch, error) {
	batch := make(prediction.Batch, len(raw))
	for name, items := range raw {
		source, err := prediction.ParseSource(name)
		if err != nil {
			return nil, err
		}
		calls := make(map[string]prediction.Prediction, len(items))
		for id, payload := range items {
			if id == "" {
				return nil, fmt.Errorf("source %s: empty item id", name)
			}
			category, err := tab.ParseCategory(payload.Category)
			if err != nil {
				return nil, fmt.Errorf("source %s, item %s: %w", name, id, err)
			}
			calls[id] = prediction.Prediction{Category: category, Confidence: payload.Confidence}
		}
		batch[source] = calls
	}
	return batch, nil
}
