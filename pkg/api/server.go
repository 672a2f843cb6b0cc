// Package api exposes the fusion layer over HTTP: decision endpoints for
// callers holding per-source predictions, feedback endpoints that close
// the learning loop, and read-only stats for operators.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aitkn/ai-tab-manager-sub001/pkg/config"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/feedback"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/observability/logging"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/store"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/tracker"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/trust"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/voter"
)

const storeCheckTimeout = 2 * time.Second

// Server is the HTTP front of the fusion daemon. All collaborators are
// injected; the server holds no state of its own beyond the listener.
type Server struct {
	cfg      config.APIConfig
	tracker  *tracker.PerformanceTracker
	trust    *trust.Manager
	voter    *voter.EnsembleVoter
	feedback *feedback.Processor
	metrics  store.MetricsStore

	httpServer *http.Server
}

// New creates the API server. The metrics store is only used for the
// health probe and may be nil.
func New(cfg config.APIConfig, t *tracker.PerformanceTracker, m *trust.Manager, v *voter.EnsembleVoter, f *feedback.Processor, ms store.MetricsStore) *Server {
	s := &Server{
		cfg:      cfg,
		tracker:  t,
		trust:    m,
		voter:    v,
		feedback: f,
		metrics:  ms,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.setupRoutes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("GET /health", s.handleHealth)

	// Decision endpoints
	mux.HandleFunc("POST /api/v1/decide", s.handleDecide)
	mux.HandleFunc("POST /api/v1/vote", s.handleVote)

	// Feedback endpoints
	mux.HandleFunc("POST /api/v1/feedback/accept", s.handleFeedbackAccept)
	mux.HandleFunc("POST /api/v1/feedback/correct", s.handleFeedbackCorrect)
	mux.HandleFunc("POST /api/v1/feedback/close", s.handleFeedbackClose)
	mux.HandleFunc("POST /api/v1/feedback/save", s.handleFeedbackSave)

	// Information endpoints
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	mux.HandleFunc("GET /api/v1/patterns", s.handlePatterns)

	// Administrative endpoints
	mux.HandleFunc("POST /api/v1/reset", s.handleReset)

	return mux
}

// Start serves HTTP until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	logging.Infof("fusion API server listening on %s", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// HealthResponse reports daemon liveness and store reachability.
type HealthResponse struct {
	Status string `json:"status"` // "healthy" or "degraded"
	Store  string `json:"store"`  // "ok", "disabled", or "unreachable"
}

// handleHealth handles health check requests. The store being down
// degrades the report but never fails it: decisions keep working
// without persistence.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Store: "disabled"}

	if s.metrics != nil && s.metrics.IsEnabled() {
		ctx, cancel := context.WithTimeout(r.Context(), storeCheckTimeout)
		defer cancel()

		if err := s.metrics.CheckConnection(ctx); err != nil {
			logging.Warnf("health check: metrics store unreachable: %v", err)
			resp.Status = "degraded"
			resp.Store = "unreachable"
		} else {
			resp.Store = "ok"
		}
	}

	s.writeJSONResponse(w, http.StatusOK, resp)
}

// Helper methods for JSON handling
func (s *Server) parseJSONRequest(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	defer r.Body.Close()

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}

	return nil
}

func (s *Server) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Errorf("Failed to encode JSON response: %v", err)
	}
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	errorResponse := map[string]interface{}{
		"error": map[string]interface{}{
			"code":      errorCode,
			"message":   message,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}

	s.writeJSONResponse(w, statusCode, errorResponse)
}
