package tracker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/inferstack/sentry-gate/internal/models"
	"github.com/inferstack/sentry-gate/internal/repo"
)

func newTestTracker() *Tracker {
	return New(nil, repo.NewMemoryEventStore(0))
}

func record(t *testing.T, tr *Tracker, confidence float64, latency time.Duration, sentiment models.Sentiment) {
	t.Helper()
	ev := models.PredictionEvent{
		ID:           fmt.Sprintf("ev-%d-%d", time.Now().UnixNano(), latency),
		Sentiment:    sentiment,
		Confidence:   confidence,
		Latency:      latency,
		InputLength:  10,
		ModelVersion: "1.0.0",
		Timestamp:    time.Now().UTC(),
	}
	if err := tr.Record(context.Background(), ev); err != nil {
		t.Fatalf("record: %v", err)
	}
}

func TestAggregateEmptyWindow(t *testing.T) {
	tr := newTestTracker()
	stats, err := tr.Aggregate(context.Background(), 60)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if !stats.Empty() {
		t.Fatalf("expected empty window")
	}
	if stats.Status != models.StatusOK {
		t.Fatalf("empty window status = %s, want ok", stats.Status)
	}
	if stats.P95Latency != 0 {
		t.Fatalf("empty window p95 = %s, want 0", stats.P95Latency)
	}
	if got := len(stats.Sentiments); got != 3 {
		t.Fatalf("sentiment histogram should carry all labels, got %d", got)
	}
}

func TestAggregateStats(t *testing.T) {
	tr := newTestTracker()
	record(t, tr, 0.9, 40*time.Millisecond, models.SentimentPositive)
	record(t, tr, 0.8, 60*time.Millisecond, models.SentimentNegative)
	record(t, tr, 0.7, 100*time.Millisecond, models.SentimentNeutral)

	stats, err := tr.Aggregate(context.Background(), 60)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if stats.Count != 3 {
		t.Fatalf("count = %d, want 3", stats.Count)
	}
	if diff := stats.MeanConfidence - 0.8; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("mean confidence = %f, want 0.8", stats.MeanConfidence)
	}
	if stats.MinLatency != 40*time.Millisecond || stats.MaxLatency != 100*time.Millisecond {
		t.Fatalf("min/max latency = %s/%s", stats.MinLatency, stats.MaxLatency)
	}
	sum := 0
	for _, n := range stats.Sentiments {
		sum += n
	}
	if sum != stats.Count {
		t.Fatalf("sentiment histogram sums to %d, want %d", sum, stats.Count)
	}
}

func TestAggregateConcurrentRecords(t *testing.T) {
	tr := newTestTracker()
	const writers = 10
	const perWriter = 30

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				record(t, tr, 0.8, time.Duration(i+1)*time.Millisecond, models.SentimentPositive)
			}
		}(w)
	}
	wg.Wait()

	stats, err := tr.Aggregate(context.Background(), 60)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if stats.Count != writers*perWriter {
		t.Fatalf("count = %d, want %d", stats.Count, writers*perWriter)
	}
	sum := 0
	for _, n := range stats.Sentiments {
		sum += n
	}
	if sum != stats.Count {
		t.Fatalf("histogram sum %d != count %d", sum, stats.Count)
	}
}

func TestStatusScenarioLatencyOutlier(t *testing.T) {
	tr := newTestTracker()
	record(t, tr, 0.9, 40*time.Millisecond, models.SentimentPositive)
	record(t, tr, 0.8, 60*time.Millisecond, models.SentimentPositive)
	record(t, tr, 0.3, 600*time.Millisecond, models.SentimentNegative)

	stats, err := tr.Aggregate(context.Background(), 60)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if stats.Status != models.StatusCritical {
		t.Fatalf("status = %s, want critical (600ms exceeds 500ms critical)", stats.Status)
	}
	if len(stats.Violations) == 0 {
		t.Fatalf("expected violated rules for diagnostics")
	}
}

func TestStatusBoundaries(t *testing.T) {
	cases := []struct {
		name       string
		confidence float64
		latency    time.Duration
		want       models.WindowStatus
	}{
		{"all healthy", 0.9, 100 * time.Millisecond, models.StatusOK},
		{"confidence exactly at warning", 0.6, 100 * time.Millisecond, models.StatusWarning},
		{"confidence just above warning", 0.601, 100 * time.Millisecond, models.StatusOK},
		{"confidence exactly at critical", 0.4, 100 * time.Millisecond, models.StatusCritical},
		{"confidence just above critical", 0.401, 100 * time.Millisecond, models.StatusWarning},
		{"latency exactly at warning", 0.9, 200 * time.Millisecond, models.StatusWarning},
		{"latency just below warning", 0.9, 199 * time.Millisecond, models.StatusOK},
		{"latency exactly at critical", 0.9, 500 * time.Millisecond, models.StatusCritical},
		{"latency just below critical", 0.9, 499 * time.Millisecond, models.StatusWarning},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := newTestTracker()
			record(t, tr, tc.confidence, tc.latency, models.SentimentNeutral)
			stats, err := tr.Aggregate(context.Background(), 60)
			if err != nil {
				t.Fatalf("aggregate: %v", err)
			}
			if stats.Status != tc.want {
				t.Fatalf("status = %s, want %s", stats.Status, tc.want)
			}
		})
	}
}

func TestUpdateThresholdsRejectsInvalid(t *testing.T) {
	tr := newTestTracker()
	before := tr.Thresholds()
	beforeVersion := tr.ThresholdVersion()

	bad := models.Thresholds{
		MinConfidenceWarning:  0.4,
		MinConfidenceCritical: 0.6, // inverted
		MaxLatencyWarning:     200 * time.Millisecond,
		MaxLatencyCritical:    500 * time.Millisecond,
	}
	if err := tr.UpdateThresholds(bad); err == nil {
		t.Fatalf("expected validation error for inverted confidence thresholds")
	}
	if tr.Thresholds() != before {
		t.Fatalf("config changed after rejected update")
	}
	if tr.ThresholdVersion() != beforeVersion {
		t.Fatalf("version changed after rejected update")
	}
}

func TestUpdateThresholdsBumpsVersion(t *testing.T) {
	tr := newTestTracker()
	v1 := tr.ThresholdVersion()

	next := models.DefaultThresholds()
	next.MinConfidenceWarning = 0.7
	if err := tr.UpdateThresholds(next); err != nil {
		t.Fatalf("update: %v", err)
	}
	if tr.ThresholdVersion() != v1+1 {
		t.Fatalf("version = %d, want %d", tr.ThresholdVersion(), v1+1)
	}
	if tr.Thresholds().MinConfidenceWarning != 0.7 {
		t.Fatalf("new config not visible")
	}
}

func TestNearestRankP95(t *testing.T) {
	latencies := make([]time.Duration, 0, 100)
	for i := 1; i <= 100; i++ {
		latencies = append(latencies, time.Duration(i)*time.Millisecond)
	}
	if got := nearestRank(latencies, 0.95); got != 96*time.Millisecond {
		t.Fatalf("p95 of 1..100ms = %s, want 96ms", got)
	}
	if got := nearestRank([]time.Duration{42 * time.Millisecond}, 0.95); got != 42*time.Millisecond {
		t.Fatalf("p95 of single sample = %s, want 42ms", got)
	}
}

func TestPreviousWindowDoesNotOverlap(t *testing.T) {
	tr := newTestTracker()
	base := time.Now().UTC()
	tr.now = func() time.Time { return base }

	old := models.PredictionEvent{
		ID: "old", Sentiment: models.SentimentPositive, Confidence: 0.9,
		Latency: 50 * time.Millisecond, InputLength: 5, ModelVersion: "1.0.0",
		Timestamp: base.Add(-90 * time.Minute),
	}
	recent := models.PredictionEvent{
		ID: "recent", Sentiment: models.SentimentPositive, Confidence: 0.9,
		Latency: 50 * time.Millisecond, InputLength: 5, ModelVersion: "1.0.0",
		Timestamp: base.Add(-10 * time.Minute),
	}
	ctx := context.Background()
	if err := tr.Record(ctx, old); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := tr.Record(ctx, recent); err != nil {
		t.Fatalf("record: %v", err)
	}

	current, err := tr.Aggregate(ctx, 60)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	previous, err := tr.Previous(ctx, 60)
	if err != nil {
		t.Fatalf("previous: %v", err)
	}
	if current.Count != 1 || previous.Count != 1 {
		t.Fatalf("counts = %d/%d, want 1/1", current.Count, previous.Count)
	}
}
