// Package tracker turns the raw prediction event log into windowed
// aggregates and threshold-based status classification.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/inferstack/sentry-gate/internal/models"
	"github.com/inferstack/sentry-gate/internal/repo"
)

// versionedThresholds pairs a threshold config with a monotonically
// increasing version. The whole value is swapped atomically on update, so
// readers never see a half-applied config; the version feeds the analysis
// cache fingerprint so threshold changes implicitly invalidate stale
// reports.
type versionedThresholds struct {
	config  models.Thresholds
	version uint64
}

// Tracker records prediction events and answers windowed statistical
// queries against a consistent snapshot of the log.
type Tracker struct {
	logger *slog.Logger
	store  repo.EventStore

	updateMu   sync.Mutex
	thresholds atomic.Pointer[versionedThresholds]

	now func() time.Time
}

// New creates a tracker over the given event store, starting from the
// default thresholds.
func New(logger *slog.Logger, store repo.EventStore) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		logger: logger,
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
	}
	t.thresholds.Store(&versionedThresholds{config: models.DefaultThresholds(), version: 1})
	return t
}

// Record appends one prediction event to the log. It never blocks behind
// aggregation readers beyond the store's own snapshot lock.
func (t *Tracker) Record(ctx context.Context, event models.PredictionEvent) error {
	return t.store.Append(ctx, event)
}

// Count reports the total number of retained events.
func (t *Tracker) Count(ctx context.Context) (int, error) {
	return t.store.Count(ctx)
}

// Aggregate computes the stats for the trailing window of the given length.
func (t *Tracker) Aggregate(ctx context.Context, windowMinutes int) (models.WindowStats, error) {
	end := t.now()
	start := end.Add(-time.Duration(windowMinutes) * time.Minute)
	return t.AggregateBetween(ctx, start, end)
}

// Previous computes the stats for the equally-sized window immediately
// preceding the trailing one, for comparative analysis.
func (t *Tracker) Previous(ctx context.Context, windowMinutes int) (models.WindowStats, error) {
	window := time.Duration(windowMinutes) * time.Minute
	end := t.now().Add(-window)
	return t.AggregateBetween(ctx, end.Add(-window), end)
}

// AggregateBetween computes the stats for [start, end]. The event set is a
// single snapshot from the store: events recorded concurrently with the
// call are either counted in every statistic or in none.
func (t *Tracker) AggregateBetween(ctx context.Context, start, end time.Time) (models.WindowStats, error) {
	events, err := t.store.Snapshot(ctx, start, end)
	if err != nil {
		return models.WindowStats{}, err
	}

	stats := models.WindowStats{
		Sentiments: map[models.Sentiment]int{
			models.SentimentPositive: 0,
			models.SentimentNegative: 0,
			models.SentimentNeutral:  0,
		},
		Status: models.StatusOK,
		Start:  start,
		End:    end,
	}
	if len(events) == 0 {
		return stats, nil
	}

	latencies := make([]time.Duration, 0, len(events))
	var confidenceSum float64
	var latencySum time.Duration
	for _, ev := range events {
		confidenceSum += ev.Confidence
		latencySum += ev.Latency
		latencies = append(latencies, ev.Latency)
		stats.Sentiments[ev.Sentiment]++
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	stats.Count = len(events)
	stats.MeanConfidence = confidenceSum / float64(len(events))
	stats.MeanLatency = latencySum / time.Duration(len(events))
	stats.MinLatency = latencies[0]
	stats.MaxLatency = latencies[len(latencies)-1]
	stats.P95Latency = nearestRank(latencies, 0.95)

	status, violations := t.classify(stats)
	stats.Status = status
	stats.Violations = violations
	return stats, nil
}

// Thresholds returns the currently active threshold config.
func (t *Tracker) Thresholds() models.Thresholds {
	return t.thresholds.Load().config
}

// ThresholdVersion returns the version counter of the active config.
func (t *Tracker) ThresholdVersion() uint64 {
	return t.thresholds.Load().version
}

// UpdateThresholds validates and atomically installs a new config. On a
// validation error the active config is left untouched.
func (t *Tracker) UpdateThresholds(next models.Thresholds) error {
	if err := next.Validate(); err != nil {
		return err
	}

	t.updateMu.Lock()
	defer t.updateMu.Unlock()
	current := t.thresholds.Load()
	t.thresholds.Store(&versionedThresholds{config: next, version: current.version + 1})
	t.logger.Info("thresholds updated",
		slog.Uint64("version", current.version+1),
		slog.Float64("min_confidence_warning", next.MinConfidenceWarning),
		slog.Duration("max_latency_critical", next.MaxLatencyCritical),
	)
	return nil
}

// classify applies the threshold config read atomically at call time.
// Confidence rules compare against the window mean; latency rules compare
// against the worst observed latency, so a single severe outlier is enough
// to trip the critical rule. Both bounds are inclusive.
func (t *Tracker) classify(stats models.WindowStats) (models.WindowStatus, []string) {
	cfg := t.thresholds.Load().config

	var critical, warning []string
	if stats.MeanConfidence <= cfg.MinConfidenceCritical {
		critical = append(critical, fmt.Sprintf(
			"mean confidence %.2f at or below critical threshold %.2f",
			stats.MeanConfidence, cfg.MinConfidenceCritical))
	} else if stats.MeanConfidence <= cfg.MinConfidenceWarning {
		warning = append(warning, fmt.Sprintf(
			"mean confidence %.2f at or below warning threshold %.2f",
			stats.MeanConfidence, cfg.MinConfidenceWarning))
	}
	if stats.MaxLatency >= cfg.MaxLatencyCritical {
		critical = append(critical, fmt.Sprintf(
			"max latency %s at or above critical threshold %s",
			stats.MaxLatency, cfg.MaxLatencyCritical))
	} else if stats.MaxLatency >= cfg.MaxLatencyWarning {
		warning = append(warning, fmt.Sprintf(
			"max latency %s at or above warning threshold %s",
			stats.MaxLatency, cfg.MaxLatencyWarning))
	}

	switch {
	case len(critical) > 0:
		return models.StatusCritical, append(critical, warning...)
	case len(warning) > 0:
		return models.StatusWarning, warning
	default:
		return models.StatusOK, nil
	}
}

// nearestRank returns the pth percentile of the sorted slice by the
// nearest-rank rule: index = floor(n * p), clamped to the last element.
func nearestRank(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
