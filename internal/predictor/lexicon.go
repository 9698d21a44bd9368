package predictor

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/inferstack/sentry-gate/internal/models"
)

// lexiconVersion identifies the bundled scoring table.
const lexiconVersion = "1.0.0"

var positiveWords = map[string]struct{}{
	"good": {}, "great": {}, "excellent": {}, "amazing": {}, "love": {},
	"wonderful": {}, "fantastic": {}, "happy": {}, "best": {}, "awesome": {},
	"nice": {}, "perfect": {}, "brilliant": {}, "enjoy": {}, "superb": {},
}

var negativeWords = map[string]struct{}{
	"bad": {}, "terrible": {}, "awful": {}, "hate": {}, "horrible": {},
	"worst": {}, "poor": {}, "disappointing": {}, "sad": {}, "angry": {},
	"broken": {}, "useless": {}, "slow": {}, "fail": {}, "wrong": {},
}

// LexiconModel scores text by counting sentiment-bearing words. It
// stands in for a real classifier while exercising the full serving
// path; SimulatedDelay approximates inference cost and is zero in
// tests.
type LexiconModel struct {
	loaded bool

	// SimulatedDelay is added per inference when positive.
	SimulatedDelay time.Duration
	// DelayJitter widens SimulatedDelay by up to its own value.
	DelayJitter time.Duration

	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
}

// NewLexiconModel returns a loaded model.
func NewLexiconModel(delay, jitter time.Duration) *LexiconModel {
	return &LexiconModel{
		loaded:         true,
		SimulatedDelay: delay,
		DelayJitter:    jitter,
		sleep:          sleepCtx,
		rand:           rand.Float64,
	}
}

// Version reports the lexicon table version.
func (m *LexiconModel) Version() string { return lexiconVersion }

// Loaded reports whether the model can serve predictions.
func (m *LexiconModel) Loaded() bool { return m != nil && m.loaded }

// Predict scores the text. Confidence grows with the margin between
// positive and negative hits and caps below certainty; text without
// sentiment-bearing words is neutral at exactly 0.5.
func (m *LexiconModel) Predict(ctx context.Context, text string) (Prediction, error) {
	if delay := m.inferenceDelay(); delay > 0 {
		if err := m.sleep(ctx, delay); err != nil {
			return Prediction{}, err
		}
	}

	positives, negatives := 0, 0
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()[]")
		if _, ok := positiveWords[word]; ok {
			positives++
		}
		if _, ok := negativeWords[word]; ok {
			negatives++
		}
	}

	switch {
	case positives > negatives:
		return Prediction{Sentiment: models.SentimentPositive, Confidence: scoreConfidence(positives - negatives)}, nil
	case negatives > positives:
		return Prediction{Sentiment: models.SentimentNegative, Confidence: scoreConfidence(negatives - positives)}, nil
	default:
		return Prediction{Sentiment: models.SentimentNeutral, Confidence: 0.5}, nil
	}
}

// scoreConfidence maps the hit margin onto (0.5, 0.95].
func scoreConfidence(margin int) float64 {
	confidence := 0.5 + 0.15*float64(margin)
	if confidence > 0.95 {
		confidence = 0.95
	}
	return confidence
}

func (m *LexiconModel) inferenceDelay() time.Duration {
	if m.SimulatedDelay <= 0 {
		return 0
	}
	delay := m.SimulatedDelay
	if m.DelayJitter > 0 {
		delay += time.Duration(m.rand() * float64(m.DelayJitter))
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
