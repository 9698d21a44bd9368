package analysis

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/inferstack/sentry-gate/internal/models"
)

const (
	// fallbackConfidence is the fixed confidence attached to rule-based
	// reports; heuristics never claim provider-grade certainty.
	fallbackConfidence = 0.3
	// minDataPoints is the window size below which the engine reports
	// insufficient data instead of heuristics.
	minDataPoints = 5
)

// FallbackRule is one heuristic from the YAML rule pack.
type FallbackRule struct {
	ID              string            `yaml:"id"`
	Match           FallbackRuleMatch `yaml:"match"`
	IssueType       string            `yaml:"issue_type"`
	Severity        models.Severity   `yaml:"severity"`
	Description     string            `yaml:"description"`
	Recommendations []string          `yaml:"recommendations"`
}

// FallbackRuleMatch defines optional window conditions; all present
// conditions must hold for the rule to fire.
type FallbackRuleMatch struct {
	Status             string  `yaml:"status"`
	ConfidenceBelow    float64 `yaml:"confidence_below"`
	MeanLatencyAboveMs int64   `yaml:"mean_latency_above_ms"`
	MaxLatencyAboveMs  int64   `yaml:"max_latency_above_ms"`
	ViolationContains  string  `yaml:"violation_contains"`
}

type fallbackRuleFile struct {
	Rules []FallbackRule `yaml:"rules"`
}

// FallbackEngine produces rule-based reports when the provider is
// unavailable or unconfigured.
type FallbackEngine struct {
	rules  []FallbackRule
	logger *slog.Logger
	now    func() time.Time
}

// NewFallbackEngine loads extra rules from path on top of the built-in
// heuristics. An empty or missing path leaves only the built-ins.
func NewFallbackEngine(path string, logger *slog.Logger) (*FallbackEngine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	engine := &FallbackEngine{logger: logger, now: time.Now}
	if path == "" {
		return engine, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("fallback rule pack not found, using built-in rules only", slog.String("path", path))
			return engine, nil
		}
		return nil, err
	}
	var file fallbackRuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse fallback rules: %w", err)
	}
	for _, rule := range file.Rules {
		if rule.Severity != "" && !rule.Severity.Valid() {
			return nil, fmt.Errorf("fallback rule %q: unknown severity %q", rule.ID, rule.Severity)
		}
	}
	engine.rules = file.Rules
	logger.Info("loaded fallback rule pack", slog.String("path", path), slog.Int("rules", len(file.Rules)))
	return engine, nil
}

// Analyze builds a degraded report from the current window. It never
// fails; an analysis endpoint should answer even with everything else
// down.
func (e *FallbackEngine) Analyze(current, previous models.WindowStats) models.AnalysisReport {
	now := time.Now().UTC()
	if e != nil && e.now != nil {
		now = e.now().UTC()
	}
	report := models.AnalysisReport{
		ConfidenceScore: fallbackConfidence,
		GeneratedAt:     now,
		MetricsAnalyzed: current,
		Degraded:        true,
	}

	if current.Count < minDataPoints {
		report.Summary = fmt.Sprintf("Insufficient data: only %d prediction(s) in the window (minimum %d for analysis).", current.Count, minDataPoints)
		report.Issues = []models.Issue{{
			Type:        "insufficient_data",
			Severity:    models.SeverityLow,
			Description: "Too few predictions in the requested window to draw conclusions.",
			DetectedAt:  now,
		}}
		report.Recommendations = []string{"Collect more prediction traffic or widen the analysis window."}
		report.RootCauseHypothesis = "Not enough data to form a hypothesis."
		return report
	}

	issues, recs := e.applyBuiltins(current, now)
	for _, rule := range e.rulesMatching(current) {
		issues = append(issues, models.Issue{
			Type:        rule.IssueType,
			Severity:    rule.Severity,
			Description: rule.Description,
			DetectedAt:  now,
		})
		recs = appendUnique(recs, rule.Recommendations...)
	}

	report.Issues = issues
	report.Recommendations = recs
	report.Summary = summarize(current, previous, issues)
	report.RootCauseHypothesis = hypothesize(issues)
	return report
}

func (e *FallbackEngine) applyBuiltins(w models.WindowStats, now time.Time) ([]models.Issue, []string) {
	issues := make([]models.Issue, 0, 2)
	recs := make([]string, 0, 2)

	if w.MeanConfidence < 0.6 {
		issues = append(issues, models.Issue{
			Type:        "low_confidence",
			Severity:    models.SeverityHigh,
			Description: fmt.Sprintf("Average prediction confidence %.3f is below 0.6.", w.MeanConfidence),
			DetectedAt:  now,
		})
		recs = appendUnique(recs,
			"Review recent inputs for distribution drift.",
			"Consider retraining or recalibrating the model.")
	}
	if w.MeanLatency > 200*time.Millisecond {
		issues = append(issues, models.Issue{
			Type:        "high_latency",
			Severity:    models.SeverityMedium,
			Description: fmt.Sprintf("Average inference latency %dms exceeds 200ms.", w.MeanLatency.Milliseconds()),
			DetectedAt:  now,
		})
		recs = appendUnique(recs,
			"Profile the inference path for slow pre/post-processing.",
			"Check host resource saturation during the window.")
	}
	return issues, recs
}

func (e *FallbackEngine) rulesMatching(w models.WindowStats) []FallbackRule {
	if e == nil || len(e.rules) == 0 {
		return nil
	}
	matched := make([]FallbackRule, 0, len(e.rules))
	for _, rule := range e.rules {
		m := rule.Match
		if m.Status != "" && !strings.EqualFold(m.Status, string(w.Status)) {
			continue
		}
		if m.ConfidenceBelow > 0 && w.MeanConfidence >= m.ConfidenceBelow {
			continue
		}
		if m.MeanLatencyAboveMs > 0 && w.MeanLatency.Milliseconds() <= m.MeanLatencyAboveMs {
			continue
		}
		if m.MaxLatencyAboveMs > 0 && w.MaxLatency.Milliseconds() <= m.MaxLatencyAboveMs {
			continue
		}
		if m.ViolationContains != "" && !violationsContain(w.Violations, m.ViolationContains) {
			continue
		}
		matched = append(matched, rule)
	}
	return matched
}

func violationsContain(violations []string, needle string) bool {
	needle = strings.ToLower(needle)
	for _, v := range violations {
		if strings.Contains(strings.ToLower(v), needle) {
			return true
		}
	}
	return false
}

func summarize(current, previous models.WindowStats, issues []models.Issue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rule-based analysis of %d predictions: status %s with %d issue(s) identified.",
		current.Count, current.Status, len(issues))
	if !previous.Empty() {
		delta := current.MeanConfidence - previous.MeanConfidence
		switch {
		case delta < -0.05:
			fmt.Fprintf(&b, " Confidence dropped %.3f versus the prior window.", -delta)
		case delta > 0.05:
			fmt.Fprintf(&b, " Confidence improved %.3f versus the prior window.", delta)
		}
	}
	return b.String()
}

func hypothesize(issues []models.Issue) string {
	hasConf, hasLat := false, false
	for _, issue := range issues {
		switch issue.Type {
		case "low_confidence":
			hasConf = true
		case "high_latency":
			hasLat = true
		}
	}
	switch {
	case hasConf && hasLat:
		return "Combined confidence and latency degradation suggests resource pressure or a regressed model artifact."
	case hasConf:
		return "Low confidence with normal latency points at input drift rather than infrastructure."
	case hasLat:
		return "Elevated latency with healthy confidence points at an infrastructure or load issue."
	default:
		return "No threshold breaches detected in the window."
	}
}

func appendUnique(existing []string, additions ...string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		seen[rec] = struct{}{}
	}
	for _, item := range additions {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		existing = append(existing, item)
		seen[item] = struct{}{}
	}
	return existing
}
