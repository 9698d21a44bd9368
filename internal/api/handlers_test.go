package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/inferstack/sentry-gate/internal/cache"
	"github.com/inferstack/sentry-gate/internal/models"
	"github.com/inferstack/sentry-gate/internal/predictor"
	"github.com/inferstack/sentry-gate/internal/ratelimit"
	"github.com/inferstack/sentry-gate/internal/repo"
	"github.com/inferstack/sentry-gate/internal/tracker"
)

type fakeAnalyzer struct {
	report      models.AnalysisReport
	outcome     cache.Outcome
	err         error
	invalidated int
}

func (f *fakeAnalyzer) Analyze(_ context.Context, _ int) (models.AnalysisReport, cache.Outcome, error) {
	return f.report, f.outcome, f.err
}

func (f *fakeAnalyzer) Invalidate(_ context.Context) (int, error) {
	f.invalidated++
	return 1, nil
}

type unloadedModel struct{}

func (unloadedModel) Predict(context.Context, string) (predictor.Prediction, error) {
	return predictor.Prediction{}, errors.New("not loaded")
}
func (unloadedModel) Version() string { return "1.0.0" }
func (unloadedModel) Loaded() bool    { return false }

func newTestHandlers(t *testing.T, ingressLimit int) (*Handlers, *tracker.Tracker, *fakeAnalyzer) {
	t.Helper()
	tr := tracker.New(nil, repo.NewMemoryEventStore(0))
	analyzer := &fakeAnalyzer{outcome: cache.OutcomeMiss}
	h := NewHandlers(nil, predictor.NewLexiconModel(0, 0), tr, ratelimit.New(ingressLimit, time.Minute), analyzer)
	return h, tr, analyzer
}

func doRequest(h *Handlers, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "203.0.113.5:44312"
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func TestPredictEndpoint(t *testing.T) {
	h, tr, _ := newTestHandlers(t, 10)

	rec := doRequest(h, http.MethodPost, "/predict", `{"text": "I love this product, it is great"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Sentiment    string  `json:"sentiment"`
		Confidence   float64 `json:"confidence"`
		LatencyMs    float64 `json:"inference_time_ms"`
		ModelVersion string  `json:"model_version"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Sentiment != "positive" {
		t.Fatalf("expected positive sentiment, got %q", resp.Sentiment)
	}
	if resp.ModelVersion != "1.0.0" {
		t.Fatalf("unexpected model version %q", resp.ModelVersion)
	}

	count, err := tr.Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the prediction to be recorded, count=%d", count)
	}
}

func TestPredictIncludeMetrics(t *testing.T) {
	h, _, _ := newTestHandlers(t, 10)

	rec := doRequest(h, http.MethodPost, "/predict", `{"text": "awful service", "include_metrics": true}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Metric *struct {
			ID          string `json:"prediction_id"`
			InputLength int    `json:"input_length"`
		} `json:"metric"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Metric == nil || resp.Metric.ID == "" {
		t.Fatalf("expected an embedded metric, got %s", rec.Body.String())
	}
	if resp.Metric.InputLength != len("awful service") {
		t.Fatalf("unexpected input length %d", resp.Metric.InputLength)
	}
}

func TestPredictValidation(t *testing.T) {
	h, _, _ := newTestHandlers(t, 10)

	cases := []struct {
		name string
		body string
	}{
		{"empty text", `{"text": ""}`},
		{"oversized text", `{"text": "` + strings.Repeat("a", 1001) + `"}`},
		{"malformed json", `{"text": `},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(h, http.MethodPost, "/predict", tc.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestPredictModelUnavailable(t *testing.T) {
	tr := tracker.New(nil, repo.NewMemoryEventStore(0))
	h := NewHandlers(nil, unloadedModel{}, tr, ratelimit.New(10, time.Minute), &fakeAnalyzer{})

	rec := doRequest(h, http.MethodPost, "/predict", `{"text": "anything"}`, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for unloaded model, got %d", rec.Code)
	}
}

func TestPredictRateLimiting(t *testing.T) {
	h, _, _ := newTestHandlers(t, 2)

	for i := 0; i < 2; i++ {
		if rec := doRequest(h, http.MethodPost, "/predict", `{"text": "fine"}`, nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
	rec := doRequest(h, http.MethodPost, "/predict", `{"text": "fine"}`, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("429 must carry a Retry-After header")
	}
}

func TestPredictRateLimitPerClient(t *testing.T) {
	h, _, _ := newTestHandlers(t, 1)

	if rec := doRequest(h, http.MethodPost, "/predict", `{"text": "fine"}`, nil); rec.Code != http.StatusOK {
		t.Fatalf("first client: expected 200, got %d", rec.Code)
	}

	other := http.Header{}
	other.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	if rec := doRequest(h, http.MethodPost, "/predict", `{"text": "fine"}`, other); rec.Code != http.StatusOK {
		t.Fatalf("second client must have its own budget, got %d", rec.Code)
	}
	if rec := doRequest(h, http.MethodPost, "/predict", `{"text": "fine"}`, other); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second client over budget: expected 429, got %d", rec.Code)
	}
}

func TestCountEndpoint(t *testing.T) {
	h, _, _ := newTestHandlers(t, 10)

	doRequest(h, http.MethodPost, "/predict", `{"text": "good"}`, nil)
	doRequest(h, http.MethodPost, "/predict", `{"text": "bad"}`, nil)

	rec := doRequest(h, http.MethodGet, "/metrics/count", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["total_predictions"] != 2 {
		t.Fatalf("expected 2 predictions, got %d", resp["total_predictions"])
	}
}

func TestAggregatedEndpoint(t *testing.T) {
	h, _, _ := newTestHandlers(t, 10)

	doRequest(h, http.MethodPost, "/predict", `{"text": "great stuff"}`, nil)

	rec := doRequest(h, http.MethodPost, "/metrics/aggregated", `{"time_window_minutes": 30}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var stats struct {
		Count  int    `json:"total_predictions"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Count != 1 {
		t.Fatalf("expected 1 event in window, got %d", stats.Count)
	}

	// Empty body falls back to the default window.
	if rec := doRequest(h, http.MethodPost, "/metrics/aggregated", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("empty body should use defaults, got %d", rec.Code)
	}

	if rec := doRequest(h, http.MethodPost, "/metrics/aggregated", `{"time_window_minutes": 0}`, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("window 0 should be rejected, got %d", rec.Code)
	}
}

func TestThresholdUpdateEndpoint(t *testing.T) {
	h, tr, analyzer := newTestHandlers(t, 10)

	body := `{"min_confidence_warning": 0.7, "min_confidence_critical": 0.5, "max_latency_warning_ms": 150, "max_latency_critical_ms": 400}`
	rec := doRequest(h, http.MethodPut, "/metrics/thresholds", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := tr.Thresholds().MinConfidenceWarning; got != 0.7 {
		t.Fatalf("threshold not applied, warning=%v", got)
	}
	if got := tr.Thresholds().MaxLatencyWarning; got != 150*time.Millisecond {
		t.Fatalf("latency threshold not applied, got %v", got)
	}
	if analyzer.invalidated != 1 {
		t.Fatalf("expected cached reports to be invalidated once, got %d", analyzer.invalidated)
	}
}

func TestThresholdUpdateRejectsInvalidConfig(t *testing.T) {
	h, tr, analyzer := newTestHandlers(t, 10)
	before := tr.Thresholds()

	// Critical confidence above warning: stricter-than-critical warning rule violated.
	body := `{"min_confidence_warning": 0.4, "min_confidence_critical": 0.6, "max_latency_warning_ms": 200, "max_latency_critical_ms": 500}`
	rec := doRequest(h, http.MethodPut, "/metrics/thresholds", body, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if tr.Thresholds() != before {
		t.Fatal("rejected update must leave thresholds unchanged")
	}
	if analyzer.invalidated != 0 {
		t.Fatal("rejected update must not invalidate the cache")
	}
}

func TestAnalyzeEndpoint(t *testing.T) {
	h, _, analyzer := newTestHandlers(t, 10)
	analyzer.report = models.AnalysisReport{Summary: "healthy", ConfidenceScore: 0.8}
	analyzer.outcome = cache.OutcomeHit

	rec := doRequest(h, http.MethodPost, "/analyze/performance", `{"time_window_minutes": 60}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-Cache"); got != "hit" {
		t.Fatalf("expected X-Cache hit, got %q", got)
	}
	var report models.AnalysisReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Summary != "healthy" {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestAnalyzeEndpointFailure(t *testing.T) {
	h, _, analyzer := newTestHandlers(t, 10)
	analyzer.err = errors.New("provider rejected analysis")

	rec := doRequest(h, http.MethodPost, "/analyze/performance", "", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestAnalyzeEndpointValidation(t *testing.T) {
	h, _, _ := newTestHandlers(t, 10)
	rec := doRequest(h, http.MethodPost, "/analyze/performance", `{"time_window_minutes": 9000}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	h, _, _ := newTestHandlers(t, 10)
	rec := doRequest(h, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ok" || resp["model_loaded"] != true {
		t.Fatalf("unexpected health payload: %v", resp)
	}
}
