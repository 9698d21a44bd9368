package analysis

import (
	"strings"
	"testing"
	"time"

	"github.com/inferstack/sentry-gate/internal/models"
)

func TestBuildPromptIncludesComparison(t *testing.T) {
	current := models.WindowStats{
		Count:          30,
		MeanConfidence: 0.7,
		MeanLatency:    150 * time.Millisecond,
		Status:         models.StatusWarning,
		Violations:     []string{"average confidence 0.70 at or below warning threshold"},
		Sentiments:     map[models.Sentiment]int{models.SentimentPositive: 20, models.SentimentNegative: 10},
	}
	previous := models.WindowStats{Count: 25, MeanConfidence: 0.85, MeanLatency: 90 * time.Millisecond}

	prompt := BuildPrompt(current, previous, models.DefaultThresholds())

	for _, want := range []string{
		"Trend versus previous window",
		"average confidence changed by -0.150",
		"average latency changed by +60ms",
		"prediction volume changed by +5",
		"warning 0.60, critical 0.40",
		"positive=20",
		"Respond with a single JSON object",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestBuildPromptWithoutPreviousWindow(t *testing.T) {
	current := models.WindowStats{Count: 10, MeanConfidence: 0.8}
	prompt := BuildPrompt(current, models.WindowStats{}, models.DefaultThresholds())

	if strings.Contains(prompt, "Trend versus previous window") {
		t.Fatal("empty previous window must not produce a trend section")
	}
	if !strings.Contains(prompt, "skip trend analysis") {
		t.Fatal("prompt should say the previous window is empty")
	}
}
