package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// Local stand-in for the analysis provider. Point the gateway at it with
// SENTRY_ANALYZER_BASE_URL=http://localhost:9090/v1 and any non-empty
// SENTRY_ANALYZER_API_KEY.

const cannedReport = `{
  "summary": "Prediction quality in the window is stable with a mild latency tail.",
  "identified_issues": [
    {"issue_type": "latency_tail", "severity": "low", "description": "p95 inference latency sits close to the warning threshold."}
  ],
  "recommendations": [
    "Watch the p95 latency trend over the next hour.",
    "No immediate model intervention required."
  ],
  "root_cause_hypothesis": "Background load on the inference host.",
  "confidence_score": 0.78
}`

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{
			"choices": []chatChoice{
				{Message: chatMessage{Role: "assistant", Content: cannedReport}},
			},
		})
	})

	logger := log.New(log.Writer(), "provider-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":9090",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :9090")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
