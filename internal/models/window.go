package models

import "time"

// WindowStatus classifies a window against the current thresholds.
type WindowStatus string

const (
	StatusOK       WindowStatus = "ok"
	StatusWarning  WindowStatus = "warning"
	StatusCritical WindowStatus = "critical"
)

// WindowStats is the aggregate view of all prediction events whose
// timestamps fall inside [Start, End]. A window with Count == 0 carries
// zero values throughout and StatusOK; callers treat it as "no data"
// rather than a computed result.
type WindowStats struct {
	Count          int
	MeanConfidence float64
	MeanLatency    time.Duration
	MinLatency     time.Duration
	MaxLatency     time.Duration
	P95Latency     time.Duration
	Sentiments     map[Sentiment]int
	Status         WindowStatus
	Violations     []string
	Start          time.Time
	End            time.Time
}

// Empty reports whether the window held no events.
func (w WindowStats) Empty() bool { return w.Count == 0 }
