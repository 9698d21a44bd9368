package models

import (
	"fmt"
	"time"
)

// Thresholds holds the confidence and latency limits used to classify a
// window. The tracker replaces the active value atomically; readers always
// observe a complete config, never a partial update.
type Thresholds struct {
	MinConfidenceWarning  float64       `yaml:"minConfidenceWarning"`
	MinConfidenceCritical float64       `yaml:"minConfidenceCritical"`
	MaxLatencyWarning     time.Duration `yaml:"maxLatencyWarning"`
	MaxLatencyCritical    time.Duration `yaml:"maxLatencyCritical"`
}

// DefaultThresholds mirrors the service defaults: warn below 0.6 confidence
// or above 200ms latency, critical below 0.4 or above 500ms.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinConfidenceWarning:  0.6,
		MinConfidenceCritical: 0.4,
		MaxLatencyWarning:     200 * time.Millisecond,
		MaxLatencyCritical:    500 * time.Millisecond,
	}
}

// Validate rejects out-of-range values and configs where the warning rule
// is not strictly less severe than the critical rule.
func (t Thresholds) Validate() error {
	if t.MinConfidenceWarning < 0 || t.MinConfidenceWarning > 1 {
		return fmt.Errorf("min confidence warning %f outside [0,1]", t.MinConfidenceWarning)
	}
	if t.MinConfidenceCritical < 0 || t.MinConfidenceCritical > 1 {
		return fmt.Errorf("min confidence critical %f outside [0,1]", t.MinConfidenceCritical)
	}
	if t.MaxLatencyWarning <= 0 {
		return fmt.Errorf("max latency warning must be positive")
	}
	if t.MaxLatencyCritical <= 0 {
		return fmt.Errorf("max latency critical must be positive")
	}
	if t.MinConfidenceCritical >= t.MinConfidenceWarning {
		return fmt.Errorf("critical confidence threshold (%f) must be below warning threshold (%f)",
			t.MinConfidenceCritical, t.MinConfidenceWarning)
	}
	if t.MaxLatencyCritical <= t.MaxLatencyWarning {
		return fmt.Errorf("critical latency threshold (%s) must be above warning threshold (%s)",
			t.MaxLatencyCritical, t.MaxLatencyWarning)
	}
	return nil
}
