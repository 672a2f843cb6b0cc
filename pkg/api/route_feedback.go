package api

import (
	"net/http"

	"github.com/aitkn/ai-tab-manager-sub001/pkg/feedback"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/tab"
)

// AssignmentPayload is the final category a categorization run gave one
// item, as it arrives on the wire.
type AssignmentPayload struct {
	Category   int     `json:"category"`
	Confidence float64 `json:"confidence,omitempty"`
}

// AcceptRequest reports a categorization the user kept. Predictions are
// optional; when present, each accepted item's sources are scored
// against the accepted category.
type AcceptRequest struct {
	Items          []tab.Tab                               `json:"items"`
	Categorization map[string]AssignmentPayload            `json:"categorization"` // item ID -> assignment
	Predictions    map[string]map[string]PredictionPayload `json:"predictions,omitempty"`
}

// AcceptResponse reports how much of the batch was usable.
type AcceptResponse struct {
	Accepted         int `json:"accepted"`
	OutcomesRecorded int `json:"outcomes_recorded"`
}

// CorrectRequest reports the user moving one item to another category.
type CorrectRequest struct {
	Item        tab.Tab `json:"item"`
	OldCategory int     `json:"old_category"`
	NewCategory int     `json:"new_category"`

	// Predictions are the original per-source calls for the item, used
	// to adjust source trust immediately. Optional.
	Predictions map[string]PredictionPayload `json:"predictions,omitempty"`

	// OriginalSource is the source tag the corrected decision carried.
	OriginalSource string `json:"original_source,omitempty"`
}

// CorrectResponse reports the learning state after the correction.
type CorrectResponse struct {
	QueueLength    int     `json:"queue_length"`
	CorrectionRate float64 `json:"correction_rate"`
}

// TabEventRequest reports an implicit signal: the user closing or
// saving a tab that carried a category.
type TabEventRequest struct {
	Item     tab.Tab `json:"item"`
	Category int     `json:"category"`
}

// RecordedResponse reports whether the event produced a training
// example.
type RecordedResponse struct {
	Recorded bool `json:"recorded"`
}

// handleFeedbackAccept records the user keeping the assigned categories
// and, when the original predictions came along, scores every source
// against the accepted category.
func (s *Server) handleFeedbackAccept(w http.ResponseWriter, r *http.Request) {
	var req AcceptRequest
	if err := s.parseJSONRequest(r, &req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	if len(req.Items) == 0 {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_INPUT", "items must not be empty")
		return
	}

	categorization := make(map[string]feedback.Assignment, len(req.Categorization))
	for id, payload := range req.Categorization {
		category, err := tab.ParseCategory(payload.Category)
		if err != nil {
			s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
			return
		}
		categorization[id] = feedback.Assignment{Category: category, Confidence: payload.Confidence}
	}

	batch, err := decodeBatch(req.Predictions)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}

	accepted := s.feedback.ProcessAcceptance(r.Context(), req.Items, categorization)

	outcomes := 0
	for _, item := range req.Items {
		assignment, ok := categorization[item.ID]
		if !ok {
			continue
		}
		if set := batch.ForItem(item.ID); len(set) > 0 {
			s.tracker.RecordOutcomes(set, assignment.Category)
			outcomes++
		}
	}

	s.writeJSONResponse(w, http.StatusOK, AcceptResponse{
		Accepted:         accepted,
		OutcomesRecorded: outcomes,
	})
}

// handleFeedbackCorrect records an explicit category correction.
func (s *Server) handleFeedbackCorrect(w http.ResponseWriter, r *http.Request) {
	var req CorrectRequest
	if err := s.parseJSONRequest(r, &req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	if req.Item.ID == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_INPUT", "item id must not be empty")
		return
	}

	oldCategory, err := tab.ParseCategory(req.OldCategory)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	newCategory, err := tab.ParseCategory(req.NewCategory)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	if newCategory == oldCategory {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_INPUT", "new category matches the old one")
		return
	}

	set, err := decodeSet(req.Predictions)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}

	s.feedback.ProcessCorrection(r.Context(), req.Item, oldCategory, newCategory, feedback.CorrectionContext{
		Predictions:    set,
		OriginalSource: req.OriginalSource,
	})

	s.writeJSONResponse(w, http.StatusOK, CorrectResponse{
		QueueLength:    s.feedback.QueueLength(),
		CorrectionRate: s.feedback.CorrectionRate(),
	})
}

// handleFeedbackClose records a tab close event.
func (s *Server) handleFeedbackClose(w http.ResponseWriter, r *http.Request) {
	item, category, ok := s.parseTabEvent(w, r)
	if !ok {
		return
	}

	recorded := s.feedback.ProcessTabClose(r.Context(), item, category)
	s.writeJSONResponse(w, http.StatusOK, RecordedResponse{Recorded: recorded})
}

// handleFeedbackSave records a tab save event.
func (s *Server) handleFeedbackSave(w http.ResponseWriter, r *http.Request) {
	item, category, ok := s.parseTabEvent(w, r)
	if !ok {
		return
	}

	s.feedback.ProcessTabSave(r.Context(), item, category)
	s.writeJSONResponse(w, http.StatusOK, RecordedResponse{Recorded: true})
}

// parseTabEvent decodes and validates the shared close/save payload,
// writing the error response itself when the request is unusable.
func (s *Server) parseTabEvent(w http.ResponseWriter, r *http.Request) (tab.Tab, tab.Category, bool) {
	var req TabEventRequest
	if err := s.parseJSONRequest(r, &req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return tab.Tab{}, tab.CategoryUncategorized, false
	}
	if req.Item.ID == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_INPUT", "item id must not be empty")
		return tab.Tab{}, tab.CategoryUncategorized, false
	}

	category, err := tab.ParseCategory(req.Category)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return tab.Tab{}, tab.CategoryUncategorized, false
	}
	return req.Item, category, true
}
