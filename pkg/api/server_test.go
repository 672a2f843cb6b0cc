package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aitkn/ai-tab-manager-sub001/pkg/config"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/feedback"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/prediction"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/store"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/tab"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/tracker"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/trust"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/voter"
)

// fakeMetricsStore lets health tests exercise both reachable and
// unreachable stores without a real backend.
type fakeMetricsStore struct {
	enabled bool
	connErr error
}

func (f *fakeMetricsStore) Append(context.Context, store.MetricRecord) error {
	return nil
}

func (f *fakeMetricsStore) Query(context.Context, store.QueryFilter) ([]store.MetricRecord, error) {
	return nil, nil
}

func (f *fakeMetricsStore) CheckConnection(context.Context) error { return f.connErr }
func (f *fakeMetricsStore) IsEnabled() bool                       { return f.enabled }
func (f *fakeMetricsStore) Close() error                          { return nil }

// newTestServer wires a server around a fresh tracker so handler tests
// observe real fusion behavior. ms may be nil.
func newTestServer(ms store.MetricsStore) (*Server, *tracker.PerformanceTracker) {
	tr := tracker.New(tracker.DefaultConfig(), nil)
	manager := trust.NewManager(trust.DefaultConfig())
	ev := voter.New(voter.DefaultConfig(), tr, manager, nil)
	fp := feedback.New(feedback.DefaultConfig(), tr, nil, nil, nil)

	server := New(config.APIConfig{Port: 8080}, tr, manager, ev, fp, ms)
	return server, tr
}

// postJSON marshals body and runs it through the handler.
func postJSON(t *testing.T, handler http.HandlerFunc, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal request body: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

// parseErrorResponse extracts the error code from a standard error response body
func parseErrorResponse(t *testing.T, body []byte) string {
	t.Helper()
	var resp map[string]interface{}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("Failed to parse error response: %v", err)
	}
	errObj, ok := resp["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("Response missing 'error' object: %s", string(body))
	}
	code, _ := errObj["code"].(string)
	return code
}

// =============================================================================
// POST /api/v1/decide
// =============================================================================

func TestHandleDecide_AdoptsRulesInEarlyStage(t *testing.T) {
	server, _ := newTestServer(nil)

	w := postJSON(t, server.handleDecide, "/api/v1/decide", DecideRequest{
		ItemID: "tab-1",
		Predictions: map[string]PredictionPayload{
			"rules": {Category: int(tab.CategoryImportant), Confidence: 0.9},
			"llm":   {Category: int(tab.CategoryUseful), Confidence: 0.8},
		},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var item voter.ItemDecision
	if err := json.Unmarshal(w.Body.Bytes(), &item); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if item.ItemID != "tab-1" {
		t.Errorf("Expected item_id tab-1, got %s", item.ItemID)
	}
	if item.Decision.Category != tab.CategoryImportant {
		t.Errorf("Expected category important, got %s", item.Decision.Category)
	}
	if item.Decision.Source != "rules" {
		t.Errorf("Expected source rules, got %s", item.Decision.Source)
	}
	if item.Decision.Strategy != trust.StrategyEarlyStage {
		t.Errorf("Expected early_stage strategy, got %s", item.Decision.Strategy)
	}
	if item.Agreement != 0.5 {
		t.Errorf("Expected agreement 0.5 for a split pair, got %f", item.Agreement)
	}
}

func TestHandleDecide_GeneratesItemID(t *testing.T) {
	server, _ := newTestServer(nil)

	w := postJSON(t, server.handleDecide, "/api/v1/decide", DecideRequest{
		Predictions: map[string]PredictionPayload{
			"llm": {Category: int(tab.CategoryUseful), Confidence: 0.8},
		},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var item voter.ItemDecision
	if err := json.Unmarshal(w.Body.Bytes(), &item); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if item.ItemID == "" {
		t.Error("Expected a generated item_id, got empty")
	}
}

func TestHandleDecide_RejectsEmptyPredictions(t *testing.T) {
	server, _ := newTestServer(nil)

	w := postJSON(t, server.handleDecide, "/api/v1/decide", DecideRequest{ItemID: "tab-1"})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}
	if code := parseErrorResponse(t, w.Body.Bytes()); code != "INVALID_INPUT" {
		t.Errorf("Expected INVALID_INPUT, got %s", code)
	}
}

func TestHandleDecide_RejectsUnknownSource(t *testing.T) {
	server, _ := newTestServer(nil)

	w := postJSON(t, server.handleDecide, "/api/v1/decide", DecideRequest{
		ItemID: "tab-1",
		Predictions: map[string]PredictionPayload{
			"oracle": {Category: int(tab.CategoryUseful), Confidence: 0.8},
		},
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}
	if code := parseErrorResponse(t, w.Body.Bytes()); code != "INVALID_INPUT" {
		t.Errorf("Expected INVALID_INPUT, got %s", code)
	}
}

// =============================================================================
// POST /api/v1/vote
// =============================================================================

func TestHandleVote_FusesBatch(t *testing.T) {
	server, _ := newTestServer(nil)

	w := postJSON(t, server.handleVote, "/api/v1/vote", VoteRequest{
		Predictions: map[string]map[string]PredictionPayload{
			"rules": {
				"a": {Category: int(tab.CategoryImportant), Confidence: 0.9},
			},
			"llm": {
				"a": {Category: int(tab.CategoryUseful), Confidence: 0.8},
				"b": {Category: int(tab.CategoryUseful), Confidence: 0.7},
			},
		},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var result voter.Result
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if len(result.Items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(result.Items))
	}
	if result.Summary.ItemCount != 2 {
		t.Errorf("Expected item_count 2, got %d", result.Summary.ItemCount)
	}
	if result.Summary.Strategy != trust.StrategyEarlyStage {
		t.Errorf("Expected early_stage strategy, got %s", result.Summary.Strategy)
	}

	bySource := map[string]string{}
	for _, item := range result.Items {
		bySource[item.ItemID] = item.Decision.Source
	}
	if bySource["a"] != "rules" {
		t.Errorf("Expected item a decided by rules, got %s", bySource["a"])
	}
	if bySource["b"] != "llm" {
		t.Errorf("Expected item b decided by llm, got %s", bySource["b"])
	}
}

func TestHandleVote_RejectsInvalidCategory(t *testing.T) {
	server, _ := newTestServer(nil)

	w := postJSON(t, server.handleVote, "/api/v1/vote", VoteRequest{
		Predictions: map[string]map[string]PredictionPayload{
			"rules": {
				"a": {Category: 7, Confidence: 0.9},
			},
		},
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}
	if code := parseErrorResponse(t, w.Body.Bytes()); code != "INVALID_INPUT" {
		t.Errorf("Expected INVALID_INPUT, got %s", code)
	}
}

// =============================================================================
// POST /api/v1/feedback/*
// =============================================================================

func TestHandleFeedbackAccept_ScoresSourcesAgainstAcceptedCategory(t *testing.T) {
	server, tr := newTestServer(nil)

	w := postJSON(t, server.handleFeedbackAccept, "/api/v1/feedback/accept", AcceptRequest{
		Items: []tab.Tab{
			{ID: "a", URL: "https://github.com/owner/repo", Title: "repo"},
			{ID: "b", URL: "https://example.com/article", Title: "article"},
		},
		Categorization: map[string]AssignmentPayload{
			"a": {Category: int(tab.CategoryImportant), Confidence: 1.0},
			"b": {Category: int(tab.CategoryUseful), Confidence: 0.9},
		},
		Predictions: map[string]map[string]PredictionPayload{
			"rules": {
				"a": {Category: int(tab.CategoryImportant), Confidence: 0.9},
			},
			"llm": {
				"a": {Category: int(tab.CategoryUseful), Confidence: 0.8},
			},
		},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp AcceptResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Accepted != 2 {
		t.Errorf("Expected 2 accepted, got %d", resp.Accepted)
	}
	if resp.OutcomesRecorded != 1 {
		t.Errorf("Expected 1 item with outcomes, got %d", resp.OutcomesRecorded)
	}

	rules, _ := tr.SourceStats(prediction.SourceRules)
	if rules.TotalPredictions != 1 || rules.CorrectPredictions != 1 {
		t.Errorf("Expected rules scored 1/1, got %d/%d", rules.CorrectPredictions, rules.TotalPredictions)
	}
	llm, _ := tr.SourceStats(prediction.SourceLLM)
	if llm.TotalPredictions != 1 || llm.CorrectPredictions != 0 {
		t.Errorf("Expected llm scored 0/1, got %d/%d", llm.CorrectPredictions, llm.TotalPredictions)
	}
	model, _ := tr.SourceStats(prediction.SourceModel)
	if model.TotalPredictions != 0 {
		t.Errorf("Expected silent model untouched, got %d predictions", model.TotalPredictions)
	}
}

func TestHandleFeedbackCorrect_AdjustsTrustAndReportsState(t *testing.T) {
	server, tr := newTestServer(nil)

	w := postJSON(t, server.handleFeedbackCorrect, "/api/v1/feedback/correct", CorrectRequest{
		Item:        tab.Tab{ID: "a", URL: "https://news.ycombinator.com/item?id=1", Title: "discussion"},
		OldCategory: int(tab.CategoryUseful),
		NewCategory: int(tab.CategoryImportant),
		Predictions: map[string]PredictionPayload{
			"rules": {Category: int(tab.CategoryUseful), Confidence: 0.9},
		},
		OriginalSource: "rules",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp CorrectResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.QueueLength != 0 {
		t.Errorf("Expected empty learning queue without a trainer, got %d", resp.QueueLength)
	}
	if resp.CorrectionRate != 1.0 {
		t.Errorf("Expected correction rate 1.0, got %f", resp.CorrectionRate)
	}

	// The source that backed the rejected category is penalized at once.
	rules, _ := tr.SourceStats(prediction.SourceRules)
	if math.Abs(rules.Accuracy-0.47) > 1e-9 {
		t.Errorf("Expected rules accuracy 0.47 after the penalty, got %f", rules.Accuracy)
	}
}

func TestHandleFeedbackCorrect_RejectsUnchangedCategory(t *testing.T) {
	server, _ := newTestServer(nil)

	w := postJSON(t, server.handleFeedbackCorrect, "/api/v1/feedback/correct", CorrectRequest{
		Item:        tab.Tab{ID: "a", URL: "https://example.com"},
		OldCategory: int(tab.CategoryUseful),
		NewCategory: int(tab.CategoryUseful),
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}
	if code := parseErrorResponse(t, w.Body.Bytes()); code != "INVALID_INPUT" {
		t.Errorf("Expected INVALID_INPUT, got %s", code)
	}
}

func TestHandleFeedbackClose_CountsOnlyIgnoredTabs(t *testing.T) {
	server, _ := newTestServer(nil)

	w := postJSON(t, server.handleFeedbackClose, "/api/v1/feedback/close", TabEventRequest{
		Item:     tab.Tab{ID: "a", URL: "https://ads.example.com"},
		Category: int(tab.CategoryIgnore),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp RecordedResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if !resp.Recorded {
		t.Error("Expected an ignored tab close to be recorded")
	}

	w = postJSON(t, server.handleFeedbackClose, "/api/v1/feedback/close", TabEventRequest{
		Item:     tab.Tab{ID: "b", URL: "https://example.com/doc"},
		Category: int(tab.CategoryUseful),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Recorded {
		t.Error("Expected a useful tab close to be dropped")
	}
}

func TestHandleFeedbackSave_AlwaysRecords(t *testing.T) {
	server, _ := newTestServer(nil)

	w := postJSON(t, server.handleFeedbackSave, "/api/v1/feedback/save", TabEventRequest{
		Item:     tab.Tab{ID: "a", URL: "https://example.com/paper.pdf"},
		Category: int(tab.CategoryUseful),
	})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp RecordedResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if !resp.Recorded {
		t.Error("Expected a save event to be recorded")
	}
}

// =============================================================================
// GET /api/v1/stats, GET /api/v1/patterns, POST /api/v1/reset
// =============================================================================

func TestHandleStats_ReportsStrategyAndSources(t *testing.T) {
	server, _ := newTestServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	w := httptest.NewRecorder()
	server.handleStats(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp StatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Strategy != trust.StrategyEarlyStage {
		t.Errorf("Expected a fresh system in early_stage, got %s", resp.Strategy)
	}
	if len(resp.Stats.Sources) != 3 {
		t.Errorf("Expected stats for 3 sources, got %d", len(resp.Stats.Sources))
	}
	if resp.CorrectionRate != 0 {
		t.Errorf("Expected correction rate 0, got %f", resp.CorrectionRate)
	}
}

func TestHandlePatterns_SurfacesRecurringCorrections(t *testing.T) {
	server, _ := newTestServer(nil)

	for _, id := range []string{"gh-1", "gh-2", "gh-3"} {
		w := postJSON(t, server.handleFeedbackCorrect, "/api/v1/feedback/correct", CorrectRequest{
			Item:        tab.Tab{ID: id, URL: "https://www.github.com/owner/repo", Title: "repo"},
			OldCategory: int(tab.CategoryIgnore),
			NewCategory: int(tab.CategoryImportant),
		})
		if w.Code != http.StatusOK {
			t.Fatalf("Correction %s failed: %d %s", id, w.Code, w.Body.String())
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patterns", nil)
	w := httptest.NewRecorder()
	server.handlePatterns(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp PatternsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(resp.Patterns) != 1 {
		t.Fatalf("Expected 1 pattern, got %d", len(resp.Patterns))
	}
	if resp.Patterns[0].Count != 3 {
		t.Errorf("Expected pattern count 3, got %d", resp.Patterns[0].Count)
	}
	if resp.Patterns[0].Suggestion == nil || resp.Patterns[0].Suggestion.Value != "github.com" {
		t.Errorf("Expected a github.com domain rule suggestion, got %+v", resp.Patterns[0].Suggestion)
	}

	// Every event so far was a correction, so the rate insight fires.
	if len(resp.Insights) != 1 {
		t.Fatalf("Expected 1 insight, got %d", len(resp.Insights))
	}
	if resp.Insights[0].Type != feedback.InsightHighCorrectionRate {
		t.Errorf("Expected a high correction rate insight, got %s", resp.Insights[0].Type)
	}
}

func TestHandleReset_ClearsTrackedPerformance(t *testing.T) {
	server, tr := newTestServer(nil)

	tr.RecordOutcome(prediction.SourceRules, true)
	tr.RecordOutcome(prediction.SourceRules, false)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reset", nil)
	w := httptest.NewRecorder()
	server.handleReset(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp ResetResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Status != "reset" {
		t.Errorf("Expected status reset, got %s", resp.Status)
	}

	rules, _ := tr.SourceStats(prediction.SourceRules)
	if rules.TotalPredictions != 0 {
		t.Errorf("Expected cleared counters, got %d predictions", rules.TotalPredictions)
	}
}

// =============================================================================
// GET /health
// =============================================================================

func TestHandleHealth_WithoutStore(t *testing.T) {
	server, _ := newTestServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("Expected healthy, got %s", resp.Status)
	}
	if resp.Store != "disabled" {
		t.Errorf("Expected store disabled, got %s", resp.Store)
	}
}

func TestHandleHealth_ReportsStoreState(t *testing.T) {
	server, _ := newTestServer(&fakeMetricsStore{enabled: true})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.handleHealth(w, req)

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Status != "healthy" || resp.Store != "ok" {
		t.Errorf("Expected healthy/ok, got %s/%s", resp.Status, resp.Store)
	}
}

func TestHandleHealth_DegradesWhenStoreUnreachable(t *testing.T) {
	server, _ := newTestServer(&fakeMetricsStore{enabled: true, connErr: errors.New("connection refused")})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 even when degraded, got %d", w.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Status != "degraded" || resp.Store != "unreachable" {
		t.Errorf("Expected degraded/unreachable, got %s/%s", resp.Status, resp.Store)
	}
}
