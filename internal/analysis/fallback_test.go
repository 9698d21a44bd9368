package analysis

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/inferstack/sentry-gate/internal/models"
)

func healthyWindow(count int) models.WindowStats {
	return models.WindowStats{
		Count:          count,
		MeanConfidence: 0.9,
		MeanLatency:    50 * time.Millisecond,
		MaxLatency:     80 * time.Millisecond,
		Status:         models.StatusOK,
	}
}

func TestFallbackInsufficientData(t *testing.T) {
	engine, err := NewFallbackEngine("", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	report := engine.Analyze(healthyWindow(3), models.WindowStats{})
	if !report.Degraded {
		t.Fatal("fallback reports must be degraded")
	}
	if report.ConfidenceScore != 0.3 {
		t.Fatalf("unexpected confidence: %v", report.ConfidenceScore)
	}
	if len(report.Issues) != 1 || report.Issues[0].Type != "insufficient_data" {
		t.Fatalf("expected a single insufficient_data issue, got %+v", report.Issues)
	}
}

func TestFallbackBuiltinHeuristics(t *testing.T) {
	engine, err := NewFallbackEngine("", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	window := models.WindowStats{
		Count:          20,
		MeanConfidence: 0.45,
		MeanLatency:    320 * time.Millisecond,
		MaxLatency:     900 * time.Millisecond,
		Status:         models.StatusCritical,
	}
	report := engine.Analyze(window, models.WindowStats{})

	types := map[string]models.Severity{}
	for _, issue := range report.Issues {
		types[issue.Type] = issue.Severity
	}
	if types["low_confidence"] != models.SeverityHigh {
		t.Fatalf("expected high-severity low_confidence issue, got %+v", report.Issues)
	}
	if types["high_latency"] != models.SeverityMedium {
		t.Fatalf("expected medium-severity high_latency issue, got %+v", report.Issues)
	}
	if len(report.Recommendations) == 0 {
		t.Fatal("expected recommendations")
	}
	if report.RootCauseHypothesis == "" {
		t.Fatal("expected a hypothesis")
	}
	if !report.Degraded {
		t.Fatal("fallback reports must be degraded")
	}
}

func TestFallbackHealthyWindow(t *testing.T) {
	engine, err := NewFallbackEngine("", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	report := engine.Analyze(healthyWindow(50), models.WindowStats{})
	if len(report.Issues) != 0 {
		t.Fatalf("healthy window should raise no issues, got %+v", report.Issues)
	}
	if report.RootCauseHypothesis != "No threshold breaches detected in the window." {
		t.Fatalf("unexpected hypothesis: %q", report.RootCauseHypothesis)
	}
}

func TestFallbackRulePack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	rules := `rules:
  - id: latency-spike
    match:
      max_latency_above_ms: 500
    issue_type: latency_spike
    severity: high
    description: "A single request exceeded 500ms."
    recommendations:
      - "Inspect slow request traces."
  - id: never-fires
    match:
      confidence_below: 0.1
    issue_type: collapse
    severity: critical
    description: "Model confidence collapsed."
`
	if err := os.WriteFile(path, []byte(rules), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	engine, err := NewFallbackEngine(path, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	window := healthyWindow(20)
	window.MaxLatency = 700 * time.Millisecond
	report := engine.Analyze(window, models.WindowStats{})

	found := false
	for _, issue := range report.Issues {
		if issue.Type == "collapse" {
			t.Fatalf("rule with unmatched condition fired: %+v", issue)
		}
		if issue.Type == "latency_spike" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected latency_spike issue from the rule pack, got %+v", report.Issues)
	}
}

func TestFallbackRulePackMissingFile(t *testing.T) {
	engine, err := NewFallbackEngine(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	if err != nil {
		t.Fatalf("a missing rule pack is not an error: %v", err)
	}
	if engine == nil {
		t.Fatal("expected an engine with built-in rules")
	}
}

func TestFallbackRulePackRejectsBadSeverity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	rules := `rules:
  - id: broken
    severity: apocalyptic
    issue_type: x
    description: "d"
`
	if err := os.WriteFile(path, []byte(rules), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	if _, err := NewFallbackEngine(path, nil); err == nil {
		t.Fatal("expected a validation error for unknown severity")
	}
}

func TestFallbackSummaryMentionsConfidenceDrop(t *testing.T) {
	engine, err := NewFallbackEngine("", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	current := healthyWindow(20)
	current.MeanConfidence = 0.65
	previous := healthyWindow(20)
	previous.MeanConfidence = 0.9

	report := engine.Analyze(current, previous)
	if want := "Confidence dropped"; !strings.Contains(report.Summary, want) {
		t.Fatalf("expected summary to mention %q, got %q", want, report.Summary)
	}
}
