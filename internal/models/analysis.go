package models

import "time"

// Severity captures issue impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether the severity is a known level.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Issue describes one performance problem found during analysis.
type Issue struct {
	Type        string    `json:"issue_type"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
	DetectedAt  time.Time `json:"detected_at,omitempty"`
}

// AnalysisReport is the structured outcome of a performance analysis run.
// Degraded marks reports produced by the local rule engine after the
// upstream provider was unavailable or exhausted its retries.
type AnalysisReport struct {
	Summary             string      `json:"summary"`
	Issues              []Issue     `json:"identified_issues"`
	Recommendations     []string    `json:"recommendations"`
	RootCauseHypothesis string      `json:"root_cause_hypothesis"`
	ConfidenceScore     float64     `json:"confidence_score"`
	GeneratedAt         time.Time   `json:"generated_at"`
	MetricsAnalyzed     WindowStats `json:"metrics_analyzed"`
	Degraded            bool        `json:"degraded"`
}
