package predictor

import (
	"context"

	"github.com/inferstack/sentry-gate/internal/models"
)

// Prediction is a single model inference result.
type Prediction struct {
	Sentiment  models.Sentiment
	Confidence float64
}

// Predictor scores text for sentiment. Implementations must be safe
// for concurrent use.
type Predictor interface {
	Predict(ctx context.Context, text string) (Prediction, error)
	Version() string
	Loaded() bool
}
