package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/inferstack/sentry-gate/internal/analysis"
	"github.com/inferstack/sentry-gate/internal/cache"
	"github.com/inferstack/sentry-gate/internal/metrics"
	"github.com/inferstack/sentry-gate/internal/models"
	"github.com/inferstack/sentry-gate/internal/predictor"
	"github.com/inferstack/sentry-gate/internal/ratelimit"
	"github.com/inferstack/sentry-gate/internal/tracker"
)

const (
	defaultMetricsWindow  = 10
	defaultAnalysisWindow = 60
	maxBodyBytes          = 1 << 20
)

// PerformanceAnalyzer is the analysis entry point the handlers call.
type PerformanceAnalyzer interface {
	Analyze(ctx context.Context, windowMinutes int) (models.AnalysisReport, cache.Outcome, error)
	Invalidate(ctx context.Context) (int, error)
}

var _ PerformanceAnalyzer = (*analysis.Analyzer)(nil)

// Handlers serves the gateway's HTTP API.
type Handlers struct {
	logger   *slog.Logger
	model    predictor.Predictor
	tracker  *tracker.Tracker
	ingress  *ratelimit.Limiter
	analyzer PerformanceAnalyzer
}

// NewHandlers wires the HTTP surface.
func NewHandlers(logger *slog.Logger, model predictor.Predictor, tr *tracker.Tracker, ingress *ratelimit.Limiter, analyzer PerformanceAnalyzer) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		logger:   logger,
		model:    model,
		tracker:  tr,
		ingress:  ingress,
		analyzer: analyzer,
	}
}

// Routes returns the full route table.
func (h *Handlers) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /predict", h.handlePredict)
	mux.HandleFunc("GET /metrics/count", h.handleCount)
	mux.HandleFunc("POST /metrics/aggregated", h.handleAggregated)
	mux.HandleFunc("PUT /metrics/thresholds", h.handleUpdateThresholds)
	mux.HandleFunc("GET /metrics/thresholds", h.handleGetThresholds)
	mux.HandleFunc("POST /analyze/performance", h.handleAnalyze)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	return mux
}

func (h *Handlers) handlePredict(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if decision := h.ingress.Allow(ip); !decision.Allowed {
		metrics.IncRateLimited(metrics.LayerIngress)
		h.logger.Warn("prediction rate limited", slog.String("client", ip))
		w.Header().Set("Retry-After", retryAfterSeconds(decision.RetryAfter))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded, try again later")
		return
	}

	var req models.PredictRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.model.Loaded() {
		writeError(w, http.StatusServiceUnavailable, "model not loaded")
		return
	}

	start := time.Now()
	pred, err := h.model.Predict(r.Context(), req.Text)
	if err != nil {
		h.logger.Error("prediction failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "prediction failed")
		return
	}
	latency := time.Since(start)

	event := models.PredictionEvent{
		ID:           uuid.NewString(),
		Sentiment:    pred.Sentiment,
		Confidence:   pred.Confidence,
		Latency:      latency,
		InputLength:  len(req.Text),
		ModelVersion: h.model.Version(),
		Timestamp:    time.Now().UTC(),
	}
	if err := h.tracker.Record(r.Context(), event); err != nil {
		// The prediction itself succeeded; losing one metric is not
		// worth failing the request over.
		h.logger.Error("record prediction event", slog.Any("error", err))
	}
	metrics.ObservePrediction(string(pred.Sentiment), latency)

	resp := models.PredictResponse{
		Sentiment:    pred.Sentiment,
		Confidence:   pred.Confidence,
		LatencyMs:    float64(latency) / float64(time.Millisecond),
		Timestamp:    event.Timestamp.Format(time.RFC3339Nano),
		ModelVersion: event.ModelVersion,
	}
	if req.IncludeMetrics {
		resp.Metric = &event
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) handleCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.tracker.Count(r.Context())
	if err != nil {
		h.logger.Error("count events", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to count predictions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"total_predictions": count})
}

func (h *Handlers) handleAggregated(w http.ResponseWriter, r *http.Request) {
	query := models.WindowQuery{WindowMinutes: defaultMetricsWindow}
	if err := decodeJSONOptional(r, &query); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := query.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := h.tracker.Aggregate(r.Context(), query.WindowMinutes)
	if err != nil {
		h.logger.Error("aggregate window", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to aggregate metrics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handlers) handleGetThresholds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tracker.Thresholds())
}

func (h *Handlers) handleUpdateThresholds(w http.ResponseWriter, r *http.Request) {
	var next models.Thresholds
	if err := decodeJSON(r, &next); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.tracker.UpdateThresholds(next); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Cached reports were classified under the old limits. Dropping them
	// is best effort; the version-tagged cache keys expire them anyway.
	if removed, err := h.analyzer.Invalidate(r.Context()); err != nil {
		h.logger.Warn("invalidate cached reports", slog.Any("error", err))
	} else if removed > 0 {
		h.logger.Info("invalidated cached reports", slog.Int("count", removed))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "updated",
		"thresholds": h.tracker.Thresholds(),
	})
}

func (h *Handlers) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	query := models.WindowQuery{WindowMinutes: defaultAnalysisWindow}
	if err := decodeJSONOptional(r, &query); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := query.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, outcome, err := h.analyzer.Analyze(r.Context(), query.WindowMinutes)
	if err != nil {
		h.logger.Error("performance analysis failed", slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "analysis failed")
		return
	}
	w.Header().Set("X-Cache", string(outcome))
	writeJSON(w, http.StatusOK, report)
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"model_loaded":  h.model.Loaded(),
		"model_version": h.model.Version(),
	})
}

// clientIP prefers the first X-Forwarded-For hop so limits follow the
// caller across the load balancer.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// retryAfterSeconds renders a duration as whole seconds, rounded up so
// clients never retry early.
func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

// decodeJSONOptional tolerates an empty body, leaving v at its defaults.
func decodeJSONOptional(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errors.New("invalid JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
