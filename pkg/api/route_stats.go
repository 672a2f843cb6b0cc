package api

import (
	"net/http"

	"github.com/aitkn/ai-tab-manager-sub001/pkg/feedback"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/observability/logging"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/tracker"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/trust"
)

// StatsResponse is the operator view of the fusion state.
type StatsResponse struct {
	Strategy       trust.Strategy      `json:"strategy"`
	Stats          tracker.SystemStats `json:"stats"`
	CorrectionRate float64             `json:"correction_rate"`
	QueueLength    int                 `json:"queue_length"`
}

// PatternsResponse carries mined correction patterns and the insights
// derived from them.
type PatternsResponse struct {
	Patterns []feedback.CorrectionPattern `json:"patterns"`
	Insights []feedback.Insight           `json:"insights"`
}

// ResetResponse acknowledges an administrative reset.
type ResetResponse struct {
	Status string `json:"status"`
}

// handleStats reports per-source accuracy, trust weights, the strategy
// currently in effect, and the feedback counters.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.tracker.SystemStats()

	s.writeJSONResponse(w, http.StatusOK, StatsResponse{
		Strategy:       s.trust.CurrentStrategy(stats),
		Stats:          stats,
		CorrectionRate: s.feedback.CorrectionRate(),
		QueueLength:    s.feedback.QueueLength(),
	})
}

// handlePatterns reports recurring corrections and rule suggestions.
func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, http.StatusOK, PatternsResponse{
		Patterns: s.feedback.AnalyzeCorrectionPatterns(),
		Insights: s.feedback.Insights(),
	})
}

// handleReset clears all tracked source performance back to the
// baseline. Feedback history and mined patterns are kept.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.tracker.Reset()
	logging.Infof("performance tracker reset via API")

	s.writeJSONResponse(w, http.StatusOK, ResetResponse{Status: "reset"})
}
