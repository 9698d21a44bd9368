package models

import (
	"encoding/json"
	"time"
)

// Millis carries a duration across the wire as fractional milliseconds,
// matching the *_ms field names clients already parse.
type Millis time.Duration

// MarshalJSON renders the duration as milliseconds.
func (m Millis) MarshalJSON() ([]byte, error) {
	return json.Marshal(float64(time.Duration(m)) / float64(time.Millisecond))
}

// UnmarshalJSON parses milliseconds back into a duration.
func (m *Millis) UnmarshalJSON(data []byte) error {
	var ms float64
	if err := json.Unmarshal(data, &ms); err != nil {
		return err
	}
	*m = Millis(time.Duration(ms * float64(time.Millisecond)))
	return nil
}

type thresholdsWire struct {
	MinConfidenceWarning  float64 `json:"min_confidence_warning"`
	MinConfidenceCritical float64 `json:"min_confidence_critical"`
	MaxLatencyWarning     Millis  `json:"max_latency_warning_ms"`
	MaxLatencyCritical    Millis  `json:"max_latency_critical_ms"`
}

// MarshalJSON emits latency limits in milliseconds.
func (t Thresholds) MarshalJSON() ([]byte, error) {
	return json.Marshal(thresholdsWire{
		MinConfidenceWarning:  t.MinConfidenceWarning,
		MinConfidenceCritical: t.MinConfidenceCritical,
		MaxLatencyWarning:     Millis(t.MaxLatencyWarning),
		MaxLatencyCritical:    Millis(t.MaxLatencyCritical),
	})
}

// UnmarshalJSON accepts latency limits in milliseconds.
func (t *Thresholds) UnmarshalJSON(data []byte) error {
	var wire thresholdsWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	t.MinConfidenceWarning = wire.MinConfidenceWarning
	t.MinConfidenceCritical = wire.MinConfidenceCritical
	t.MaxLatencyWarning = time.Duration(wire.MaxLatencyWarning)
	t.MaxLatencyCritical = time.Duration(wire.MaxLatencyCritical)
	return nil
}

type windowStatsWire struct {
	Count          int               `json:"total_predictions"`
	MeanConfidence float64           `json:"average_confidence"`
	MeanLatency    Millis            `json:"average_inference_time_ms"`
	MinLatency     Millis            `json:"min_inference_time_ms"`
	MaxLatency     Millis            `json:"max_inference_time_ms"`
	P95Latency     Millis            `json:"p95_inference_time_ms"`
	Sentiments     map[Sentiment]int `json:"sentiment_distribution"`
	Status         WindowStatus      `json:"status"`
	Violations     []string          `json:"violations,omitempty"`
	Start          time.Time         `json:"time_window_start"`
	End            time.Time         `json:"time_window_end"`
}

// MarshalJSON emits latency fields in milliseconds.
func (w WindowStats) MarshalJSON() ([]byte, error) {
	return json.Marshal(windowStatsWire{
		Count:          w.Count,
		MeanConfidence: w.MeanConfidence,
		MeanLatency:    Millis(w.MeanLatency),
		MinLatency:     Millis(w.MinLatency),
		MaxLatency:     Millis(w.MaxLatency),
		P95Latency:     Millis(w.P95Latency),
		Sentiments:     w.Sentiments,
		Status:         w.Status,
		Violations:     w.Violations,
		Start:          w.Start,
		End:            w.End,
	})
}

// UnmarshalJSON accepts latency fields in milliseconds.
func (w *WindowStats) UnmarshalJSON(data []byte) error {
	var wire windowStatsWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*w = WindowStats{
		Count:          wire.Count,
		MeanConfidence: wire.MeanConfidence,
		MeanLatency:    time.Duration(wire.MeanLatency),
		MinLatency:     time.Duration(wire.MinLatency),
		MaxLatency:     time.Duration(wire.MaxLatency),
		P95Latency:     time.Duration(wire.P95Latency),
		Sentiments:     wire.Sentiments,
		Status:         wire.Status,
		Violations:     wire.Violations,
		Start:          wire.Start,
		End:            wire.End,
	}
	return nil
}

type predictionEventWire struct {
	ID           string    `json:"prediction_id"`
	Sentiment    Sentiment `json:"sentiment"`
	Confidence   float64   `json:"confidence"`
	Latency      Millis    `json:"inference_time_ms"`
	InputLength  int       `json:"input_length"`
	ModelVersion string    `json:"model_version"`
	Timestamp    time.Time `json:"timestamp"`
}

// MarshalJSON emits inference latency in milliseconds.
func (e PredictionEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(predictionEventWire{
		ID:           e.ID,
		Sentiment:    e.Sentiment,
		Confidence:   e.Confidence,
		Latency:      Millis(e.Latency),
		InputLength:  e.InputLength,
		ModelVersion: e.ModelVersion,
		Timestamp:    e.Timestamp,
	})
}

// UnmarshalJSON accepts inference latency in milliseconds.
func (e *PredictionEvent) UnmarshalJSON(data []byte) error {
	var wire predictionEventWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*e = PredictionEvent{
		ID:           wire.ID,
		Sentiment:    wire.Sentiment,
		Confidence:   wire.Confidence,
		Latency:      time.Duration(wire.Latency),
		InputLength:  wire.InputLength,
		ModelVersion: wire.ModelVersion,
		Timestamp:    wire.Timestamp,
	}
	return nil
}
