package feedback

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/aitkn/ai-tab-manager-sub001/pkg/tab"
)

// URL-structure signals recorded on correction patterns.
const (
	SignalSearch   = "search"
	SignalAuth     = "auth"
	SignalCheckout = "checkout"
	SignalDocs     = "docs"
	SignalDatePath = "date_path"
	SignalUUID     = "uuid"
)

// Rule suggestion types.
const (
	SuggestionDomain  = "domain"
	SuggestionPattern = "pattern"
)

// Insight types.
const (
	InsightSystematicError    = "systematic_error"
	InsightHighCorrectionRate = "high_correction_rate"
)

const (
	domainRuleConfidence  = 0.9
	patternRuleConfidence = 0.7
)

// CorrectionPattern is a recurring old→new correction seen often enough
// to matter, with an optional rule suggestion that would prevent it.
type CorrectionPattern struct {
	Key         string          `json:"key"`
	OldCategory tab.Category    `json:"old_category"`
	NewCategory tab.Category    `json:"new_category"`
	Count       int             `json:"count"`
	Domains     []string        `json:"domains"`
	Signals     []string        `json:"signals,omitempty"`
	Suggestion  *RuleSuggestion `json:"suggestion,omitempty"`
}

// RuleSuggestion proposes a categorization rule derived from a
// correction pattern.
type RuleSuggestion struct {
	Type       string       `json:"type"`
	Value      string       `json:"value"`
	Category   tab.Category `json:"category"`
	Confidence float64      `json:"confidence"`
}

// Insight flags a feedback-stream condition worth operator attention.
type Insight struct {
	Type    string  `json:"type"`
	Pattern string  `json:"pattern,omitempty"`
	Count   int     `json:"count,omitempty"`
	Rate    float64 `json:"rate,omitempty"`
	Message string  `json:"message"`
}

// patternState is the mutable record behind one "old->new" key.
type patternState struct {
	oldCategory tab.Category
	newCategory tab.Category
	count       int
	domains     map[string]struct{}
	signals     []string
	signalSeen  map[string]struct{}
	recent      []Correction
}

var (
	datePathRe = regexp.MustCompile(`/\d{4}/\d{1,2}(/|$)`)
	uuidPathRe = regexp.MustCompile(`(?i)/[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}(/|$)`)
)

// urlSignals extracts the structural signals a URL carries, in a fixed
// detection order so the first recorded signal is deterministic.
func urlSignals(raw string) []string {
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	path := strings.ToLower(u.Path)
	query := u.Query()

	var signals []string
	if query.Has("q") || query.Has("query") || strings.Contains(path, "/search") {
		signals = append(signals, SignalSearch)
	}
	if strings.Contains(path, "login") || strings.Contains(path, "signin") || strings.Contains(path, "auth") {
		signals = append(signals, SignalAuth)
	}
	if strings.Contains(path, "cart") || strings.Contains(path, "checkout") || strings.Contains(path, "payment") {
		signals = append(signals, SignalCheckout)
	}
	if strings.Contains(path, "docs") || strings.Contains(path, "documentation") || strings.Contains(path, "wiki") || strings.Contains(path, "readme") {
		signals = append(signals, SignalDocs)
	}
	if datePathRe.MatchString(path) {
		signals = append(signals, SignalDatePath)
	}
	if uuidPathRe.MatchString(path) {
		signals = append(signals, SignalUUID)
	}
	return signals
}

// patternKey names a correction transition, e.g. "ignore->important".
func patternKey(oldCategory, newCategory tab.Category) string {
	return oldCategory.String() + "->" + newCategory.String()
}
