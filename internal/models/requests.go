package models

import "fmt"

// PredictRequest is the body of a prediction call.
type PredictRequest struct {
	Text           string `json:"text"`
	IncludeMetrics bool   `json:"include_metrics,omitempty"`
}

// Validate bounds the input text the same way the model collaborator does.
func (r PredictRequest) Validate() error {
	if len(r.Text) == 0 {
		return fmt.Errorf("text is required")
	}
	if len(r.Text) > 1000 {
		return fmt.Errorf("text exceeds 1000 characters")
	}
	return nil
}

// PredictResponse is returned by the prediction path.
type PredictResponse struct {
	Sentiment    Sentiment        `json:"sentiment"`
	Confidence   float64          `json:"confidence"`
	LatencyMs    float64          `json:"inference_time_ms"`
	Timestamp    string           `json:"timestamp"`
	ModelVersion string           `json:"model_version"`
	Metric       *PredictionEvent `json:"metric,omitempty"`
}

// WindowQuery selects the aggregation window, in minutes.
type WindowQuery struct {
	WindowMinutes int `json:"time_window_minutes"`
}

// Validate clamps obviously broken window requests.
func (q WindowQuery) Validate() error {
	if q.WindowMinutes < 1 {
		return fmt.Errorf("time_window_minutes must be at least 1")
	}
	if q.WindowMinutes > 1440 {
		return fmt.Errorf("time_window_minutes must not exceed 1440")
	}
	return nil
}
