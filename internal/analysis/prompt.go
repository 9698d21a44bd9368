package analysis

import (
	"fmt"
	"strings"
	"time"

	"github.com/inferstack/sentry-gate/internal/models"
)

// BuildPrompt renders the current and previous windows into the
// analysis prompt, including a trend comparison when the previous
// window held data.
func BuildPrompt(current, previous models.WindowStats, thresholds models.Thresholds) string {
	var b strings.Builder

	b.WriteString("Analyze the performance metrics of a sentiment prediction service.\n\n")

	b.WriteString("Current window:\n")
	writeWindow(&b, current)

	b.WriteString("\nConfigured thresholds:\n")
	fmt.Fprintf(&b, "- minimum average confidence: warning %.2f, critical %.2f\n",
		thresholds.MinConfidenceWarning, thresholds.MinConfidenceCritical)
	fmt.Fprintf(&b, "- maximum latency: warning %dms, critical %dms\n",
		thresholds.MaxLatencyWarning.Milliseconds(), thresholds.MaxLatencyCritical.Milliseconds())

	if !previous.Empty() {
		b.WriteString("\nPrevious window of the same length:\n")
		writeWindow(&b, previous)
		b.WriteString("\nTrend versus previous window:\n")
		fmt.Fprintf(&b, "- average confidence changed by %+.3f\n", current.MeanConfidence-previous.MeanConfidence)
		fmt.Fprintf(&b, "- average latency changed by %+dms\n",
			(current.MeanLatency - previous.MeanLatency).Milliseconds())
		fmt.Fprintf(&b, "- prediction volume changed by %+d\n", current.Count-previous.Count)
	} else {
		b.WriteString("\nNo data is available for the previous window; skip trend analysis.\n")
	}

	b.WriteString(`
Respond with a single JSON object matching exactly this schema:
{
  "summary": "<one paragraph overview>",
  "identified_issues": [{"issue_type": "<string>", "severity": "low|medium|high|critical", "description": "<string>"}],
  "recommendations": ["<actionable step>"],
  "root_cause_hypothesis": "<string>",
  "confidence_score": <float between 0 and 1>
}
Do not wrap the JSON in markdown fences or add any other text.`)

	return b.String()
}

func writeWindow(b *strings.Builder, w models.WindowStats) {
	fmt.Fprintf(b, "- period: %s to %s\n", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
	fmt.Fprintf(b, "- predictions: %d\n", w.Count)
	fmt.Fprintf(b, "- average confidence: %.3f\n", w.MeanConfidence)
	fmt.Fprintf(b, "- latency ms (avg/min/max/p95): %d/%d/%d/%d\n",
		w.MeanLatency.Milliseconds(), w.MinLatency.Milliseconds(),
		w.MaxLatency.Milliseconds(), w.P95Latency.Milliseconds())
	fmt.Fprintf(b, "- status: %s\n", w.Status)
	if len(w.Violations) > 0 {
		fmt.Fprintf(b, "- violations: %s\n", strings.Join(w.Violations, "; "))
	}
	if len(w.Sentiments) > 0 {
		parts := make([]string, 0, len(w.Sentiments))
		for _, s := range models.Sentiments() {
			if n, ok := w.Sentiments[s]; ok {
				parts = append(parts, fmt.Sprintf("%s=%d", s, n))
			}
		}
		fmt.Fprintf(b, "- sentiment distribution: %s\n", strings.Join(parts, ", "))
	}
}
