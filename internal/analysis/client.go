package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// ProviderConfig targets the upstream language-model provider.
type ProviderConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// ProviderClient wraps the provider's chat-completion API.
type ProviderClient struct {
	cfg        ProviderConfig
	httpClient *http.Client
}

// NewProviderClient constructs a client for the configured provider.
// A client without an API key is still usable; Configured reports it
// and callers fall back to local analysis.
func NewProviderClient(cfg ProviderConfig) *ProviderClient {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &ProviderClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Configured reports whether the client can reach a provider at all.
func (c *ProviderClient) Configured() bool {
	return c != nil && c.cfg.APIKey != "" && c.cfg.BaseURL != ""
}

// Generate sends the prompt and returns the raw completion text.
// Failures are classified: overload and server errors are transient,
// rejected requests and bad credentials are permanent.
func (c *ProviderClient) Generate(ctx context.Context, prompt string) (string, error) {
	if !c.Configured() {
		return "", &PermanentError{Reason: "provider not configured"}
	}

	payload := map[string]interface{}{
		"model": c.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": "You are a performance analysis assistant for machine learning services. Respond only with valid JSON."},
			{"role": "user", "content": prompt},
		},
		"temperature": c.cfg.Temperature,
		"max_tokens":  c.cfg.MaxTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", &PermanentError{Reason: "marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", &PermanentError{Reason: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp.StatusCode, resp.Status)
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&completion); err != nil {
		return "", &TransientError{Reason: "decode completion", Err: err}
	}
	if len(completion.Choices) == 0 {
		return "", &TransientError{Reason: "completion had no choices"}
	}
	return completion.Choices[0].Message.Content, nil
}

func classifyStatus(code int, status string) error {
	err := fmt.Errorf("provider returned %s", status)
	switch {
	case code == http.StatusTooManyRequests:
		return &TransientError{Reason: "provider overloaded", Err: err}
	case code >= 500:
		return &TransientError{Reason: "provider server error", Err: err}
	default:
		return &PermanentError{Reason: "provider rejected request", Err: err}
	}
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransientError{Reason: "provider timeout", Err: err}
	}
	return &TransientError{Reason: "provider unreachable", Err: err}
}
