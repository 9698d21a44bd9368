package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Sentiment enumerates the labels the model can emit.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// Sentiments lists every valid label, in a stable order.
func Sentiments() []Sentiment {
	return []Sentiment{SentimentPositive, SentimentNegative, SentimentNeutral}
}

// Valid reports whether the label is one of the known sentiments.
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
		return true
	}
	return false
}

// PredictionEvent captures the outcome of a single inference. Events are
// immutable once created; the event log owns them after Record.
type PredictionEvent struct {
	ID           string
	Sentiment    Sentiment
	Confidence   float64
	Latency      time.Duration
	InputLength  int
	ModelVersion string
	Timestamp    time.Time
}

// Validate checks the event is well formed before it enters the log.
func (e PredictionEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("prediction id is required")
	}
	if !e.Sentiment.Valid() {
		return fmt.Errorf("unknown sentiment %q", e.Sentiment)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("confidence %f outside [0,1]", e.Confidence)
	}
	if e.Latency < 0 {
		return fmt.Errorf("latency must be non-negative")
	}
	if e.InputLength < 1 {
		return fmt.Errorf("input length must be positive")
	}
	if err := ValidateModelVersion(e.ModelVersion); err != nil {
		return err
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// ValidateModelVersion enforces the three-part numeric version format,
// e.g. "1.0.0".
func ValidateModelVersion(version string) error {
	parts := strings.Split(version, ".")
	if len(parts) != 3 {
		return fmt.Errorf("model version %q must have form X.Y.Z", version)
	}
	for _, part := range parts {
		if _, err := strconv.Atoi(part); err != nil {
			return fmt.Errorf("model version %q has non-numeric part %q", version, part)
		}
	}
	return nil
}
