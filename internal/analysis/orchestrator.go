package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/inferstack/sentry-gate/internal/cache"
	"github.com/inferstack/sentry-gate/internal/metrics"
	"github.com/inferstack/sentry-gate/internal/models"
	"github.com/inferstack/sentry-gate/internal/ratelimit"
	"github.com/inferstack/sentry-gate/internal/tracker"
	"github.com/inferstack/sentry-gate/internal/utils"
)

// egressKey is the single bucket all provider calls draw from; the
// provider budget is global, not per client.
const egressKey = "provider"

// MetricsSource is the aggregate view the analyzer reads.
type MetricsSource interface {
	Aggregate(ctx context.Context, windowMinutes int) (models.WindowStats, error)
	Previous(ctx context.Context, windowMinutes int) (models.WindowStats, error)
	ThresholdVersion() uint64
	Thresholds() models.Thresholds
}

var _ MetricsSource = (*tracker.Tracker)(nil)

// Generator produces completions for analysis prompts.
type Generator interface {
	Configured() bool
	Generate(ctx context.Context, prompt string) (string, error)
}

// AnalyzerConfig tunes report caching.
type AnalyzerConfig struct {
	// ReportTTL caches provider-backed reports.
	ReportTTL time.Duration
	// DegradedTTL caches rule-based reports; short, so recovered
	// providers take over quickly.
	DegradedTTL time.Duration
}

func (cfg *AnalyzerConfig) applyDefaults() {
	if cfg.ReportTTL <= 0 {
		cfg.ReportTTL = 5 * time.Minute
	}
	if cfg.DegradedTTL <= 0 {
		cfg.DegradedTTL = 30 * time.Second
	}
}

// Analyzer orchestrates performance analysis: cache first, then the
// provider behind the egress budget and retrier, then the rule engine.
type Analyzer struct {
	logger    *slog.Logger
	source    MetricsSource
	loader    *cache.Loader
	egress    *ratelimit.Limiter
	provider  Generator
	retrier   *Retrier
	fallback  *FallbackEngine
	cfg       AnalyzerConfig
	latencies *utils.LatencyTracker

	now func() time.Time
}

// NewAnalyzer wires the analysis pipeline.
func NewAnalyzer(logger *slog.Logger, source MetricsSource, loader *cache.Loader, egress *ratelimit.Limiter, provider Generator, retrier *Retrier, fallback *FallbackEngine, cfg AnalyzerConfig) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Analyzer{
		logger:    logger,
		source:    source,
		loader:    loader,
		egress:    egress,
		provider:  provider,
		retrier:   retrier,
		fallback:  fallback,
		cfg:       cfg,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// Analyze returns the performance report for the trailing window of
// windowMinutes. Identical requests inside the same minute share one
// cached report; concurrent misses collapse into a single provider
// call.
func (a *Analyzer) Analyze(ctx context.Context, windowMinutes int) (models.AnalysisReport, cache.Outcome, error) {
	query := models.WindowQuery{WindowMinutes: windowMinutes}
	if err := query.Validate(); err != nil {
		return models.AnalysisReport{}, "", utils.NewAppError("analysis.Analyze", "invalid window", err)
	}

	start := a.clock()
	key := a.cacheKey(windowMinutes)

	payload, outcome, err := a.loader.GetOrCompute(ctx, key, func(ctx context.Context) ([]byte, time.Duration, error) {
		report, err := a.compute(ctx, windowMinutes)
		if err != nil {
			return nil, 0, err
		}
		body, err := json.Marshal(report)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal report: %w", err)
		}
		ttl := a.cfg.ReportTTL
		if report.Degraded {
			ttl = a.cfg.DegradedTTL
		}
		return body, ttl, nil
	})
	metrics.IncCacheRequest(string(outcome))
	if err != nil {
		metrics.ObserveAnalysis(a.clock().Sub(start), metrics.OutcomeError)
		return models.AnalysisReport{}, outcome, err
	}

	var report models.AnalysisReport
	if err := json.Unmarshal(payload, &report); err != nil {
		metrics.ObserveAnalysis(a.clock().Sub(start), metrics.OutcomeError)
		return models.AnalysisReport{}, outcome, utils.NewAppError("analysis.Analyze", "corrupt cached report", err)
	}

	duration := a.clock().Sub(start)
	label := metrics.OutcomeSuccess
	if report.Degraded {
		label = metrics.OutcomeDegraded
	}
	metrics.ObserveAnalysis(duration, label)
	a.latencies.Observe(duration)
	if count := a.latencies.Count(); count >= 20 && count%20 == 0 {
		a.logger.Info("analysis latency",
			slog.Duration("p95", a.latencies.Percentile(95)),
			slog.Int("samples", count))
	}
	return report, outcome, nil
}

// Invalidate drops every cached report, typically after a threshold
// update so clients never read statuses computed under old limits.
func (a *Analyzer) Invalidate(ctx context.Context) (int, error) {
	return a.loader.Invalidate(ctx, "report:*")
}

// compute runs the uncached pipeline: fetch both windows, check the
// egress budget, call the provider through the retrier, and fall back
// to rules on transient exhaustion.
func (a *Analyzer) compute(ctx context.Context, windowMinutes int) (models.AnalysisReport, error) {
	var current, previous models.WindowStats
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		current, err = a.source.Aggregate(gctx, windowMinutes)
		return err
	})
	g.Go(func() error {
		var err error
		previous, err = a.source.Previous(gctx, windowMinutes)
		return err
	})
	if err := g.Wait(); err != nil {
		return models.AnalysisReport{}, utils.NewAppError("analysis.compute", "aggregate windows", err)
	}

	if !a.provider.Configured() {
		a.logger.Debug("provider not configured, using rule engine")
		return a.fallback.Analyze(current, previous), nil
	}

	if decision := a.egress.Allow(egressKey); !decision.Allowed {
		metrics.IncRateLimited(metrics.LayerEgress)
		a.logger.Warn("provider budget exhausted, serving degraded analysis",
			slog.Duration("retry_after", decision.RetryAfter))
		return a.fallback.Analyze(current, previous), nil
	}

	prompt := BuildPrompt(current, previous, a.source.Thresholds())

	var report models.AnalysisReport
	attempts, err := a.retrier.Do(ctx, "provider.Generate", func(ctx context.Context) error {
		raw, err := a.provider.Generate(ctx, prompt)
		if err != nil {
			return err
		}
		report, err = ParseReport(raw)
		return err
	})
	metrics.IncProviderRetries(attempts - 1)
	if err != nil {
		if !IsTransient(err) {
			return models.AnalysisReport{}, utils.NewAppError("analysis.compute", "provider rejected analysis", err)
		}
		a.logger.Warn("provider unavailable after retries, serving degraded analysis",
			slog.Int("attempts", attempts), slog.Any("error", err))
		return a.fallback.Analyze(current, previous), nil
	}

	report.MetricsAnalyzed = current
	return report, nil
}

// cacheKey fingerprints what the report depends on: the window length,
// the active threshold version, and the minute bucket. A threshold
// update or the next minute both yield a fresh key, so stale reports
// age out without explicit invalidation.
func (a *Analyzer) cacheKey(windowMinutes int) string {
	bucket := a.clock().UTC().Truncate(time.Minute)
	fp := cache.Fingerprint(map[string]any{
		"window_minutes":    windowMinutes,
		"threshold_version": a.source.ThresholdVersion(),
		"bucket":            bucket.Unix(),
	})
	return fmt.Sprintf("report:%s", fp)
}

func (a *Analyzer) clock() time.Time {
	if a.now != nil {
		return a.now()
	}
	return time.Now()
}
