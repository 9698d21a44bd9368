package predictor

import (
	"context"
	"testing"
	"time"

	"github.com/inferstack/sentry-gate/internal/models"
)

func TestLexiconModelScoring(t *testing.T) {
	model := NewLexiconModel(0, 0)
	if !model.Loaded() {
		t.Fatal("new model should report loaded")
	}
	if model.Version() != "1.0.0" {
		t.Fatalf("unexpected version %q", model.Version())
	}

	cases := []struct {
		name      string
		text      string
		sentiment models.Sentiment
	}{
		{"positive", "This service is great, I love it!", models.SentimentPositive},
		{"negative", "Terrible experience, the worst support ever.", models.SentimentNegative},
		{"neutral", "The package arrived on Tuesday.", models.SentimentNeutral},
		{"mixed cancels out", "Great product but terrible delivery.", models.SentimentNeutral},
		{"punctuation stripped", "Awesome!!! (really awesome)", models.SentimentPositive},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pred, err := model.Predict(context.Background(), tc.text)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if pred.Sentiment != tc.sentiment {
				t.Fatalf("expected %s, got %s", tc.sentiment, pred.Sentiment)
			}
			if pred.Confidence < 0.5 || pred.Confidence > 0.95 {
				t.Fatalf("confidence out of range: %v", pred.Confidence)
			}
		})
	}
}

func TestLexiconModelConfidenceGrowsWithMargin(t *testing.T) {
	model := NewLexiconModel(0, 0)

	weak, err := model.Predict(context.Background(), "good")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	strong, err := model.Predict(context.Background(), "good great excellent amazing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strong.Confidence <= weak.Confidence {
		t.Fatalf("expected stronger signal to score higher: weak=%v strong=%v", weak.Confidence, strong.Confidence)
	}
	if strong.Confidence > 0.95 {
		t.Fatalf("confidence must cap at 0.95, got %v", strong.Confidence)
	}
}

func TestLexiconModelNeutralConfidence(t *testing.T) {
	model := NewLexiconModel(0, 0)
	pred, err := model.Predict(context.Background(), "the sky is a color")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pred.Confidence != 0.5 {
		t.Fatalf("neutral text should score 0.5, got %v", pred.Confidence)
	}
}

func TestLexiconModelHonorsCancellation(t *testing.T) {
	model := NewLexiconModel(time.Second, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := model.Predict(ctx, "good"); err == nil {
		t.Fatal("expected a context error when cancelled during simulated inference")
	}
}

func TestLexiconModelSimulatedDelay(t *testing.T) {
	model := NewLexiconModel(5*time.Millisecond, 5*time.Millisecond)
	model.rand = func() float64 { return 1 }

	var waited time.Duration
	model.sleep = func(_ context.Context, d time.Duration) error {
		waited = d
		return nil
	}
	if _, err := model.Predict(context.Background(), "good"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if waited != 10*time.Millisecond {
		t.Fatalf("expected delay plus full jitter (10ms), got %v", waited)
	}
}
