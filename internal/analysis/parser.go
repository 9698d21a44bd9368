package analysis

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/inferstack/sentry-gate/internal/models"
)

// ParseReport decodes the provider completion into a report. The
// provider is instructed to emit bare JSON, but fenced output is
// tolerated. Structural failures are transient so the retrier asks
// the provider again.
func ParseReport(raw string) (models.AnalysisReport, error) {
	cleaned := stripFences(raw)

	var decoded struct {
		Summary             string         `json:"summary"`
		Issues              []models.Issue `json:"identified_issues"`
		Recommendations     []string       `json:"recommendations"`
		RootCauseHypothesis string         `json:"root_cause_hypothesis"`
		ConfidenceScore     float64        `json:"confidence_score"`
	}
	dec := json.NewDecoder(strings.NewReader(cleaned))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&decoded); err != nil {
		return models.AnalysisReport{}, &TransientError{Reason: "completion is not valid JSON", Err: err}
	}

	if strings.TrimSpace(decoded.Summary) == "" {
		return models.AnalysisReport{}, &TransientError{Reason: "completion missing summary"}
	}
	if decoded.ConfidenceScore < 0 || decoded.ConfidenceScore > 1 {
		return models.AnalysisReport{}, &TransientError{Reason: "confidence score out of range"}
	}
	for i, issue := range decoded.Issues {
		if !issue.Severity.Valid() {
			return models.AnalysisReport{}, &TransientError{Reason: "issue " + issue.Type + " has unknown severity"}
		}
		if decoded.Issues[i].DetectedAt.IsZero() {
			decoded.Issues[i].DetectedAt = time.Now().UTC()
		}
	}

	return models.AnalysisReport{
		Summary:             decoded.Summary,
		Issues:              decoded.Issues,
		Recommendations:     decoded.Recommendations,
		RootCauseHypothesis: decoded.RootCauseHypothesis,
		ConfidenceScore:     decoded.ConfidenceScore,
		GeneratedAt:         time.Now().UTC(),
	}, nil
}

// stripFences unwraps ```json ... ``` blocks some models insist on.
func stripFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
