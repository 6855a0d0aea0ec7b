package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// HTTPConfig configures the remote embedding provider.
type HTTPConfig struct {
	BaseURL   string        `yaml:"base_url"`   // e.g. https://api.openai.com/v1
	APIKey    string        `yaml:"api_key"`    // bearer token, optional for local servers
	Model     string        `yaml:"model"`      // e.g. text-embedding-3-small
	Dimension int           `yaml:"dimension"`  // expected vector dimension
	Timeout   time.Duration `yaml:"timeout"`    // per-request timeout (default 30s)
	MaxRetries uint64       `yaml:"max_retries"` // transient-failure retries (default 3)
}

// HTTP calls an OpenAI-compatible /embeddings endpoint. Transient
// failures (5xx, 429, transport errors) retry with exponential backoff;
// 4xx responses fail immediately.
type HTTP struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTP creates a remote embedding provider.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 384
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	return &HTTP{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (h *HTTP) Dimension() int { return h.cfg.Dimension }

func (h *HTTP) Model() string { return h.cfg.Model }

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed requests an embedding for text from the remote endpoint.
func (h *HTTP) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32

	operation := func() error {
		v, err := h.embedOnce(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), h.cfg.MaxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return vec, nil
}

func (h *HTTP) embedOnce(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: h.cfg.Model, Input: []string{text}})
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		h.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.cfg.APIKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err // transport errors retry
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("embedding endpoint returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, backoff.Permanent(fmt.Errorf("embedding endpoint returned %d: %s",
			resp.StatusCode, string(payload)))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	if parsed.Error != nil {
		return nil, backoff.Permanent(fmt.Errorf("embedding endpoint error: %s", parsed.Error.Message))
	}
	if len(parsed.Data) == 0 {
		return nil, backoff.Permanent(fmt.Errorf("embedding endpoint returned no vectors"))
	}

	vec := parsed.Data[0].Embedding
	if len(vec) != h.cfg.Dimension {
		return nil, backoff.Permanent(fmt.Errorf("dimension mismatch: got %d, want %d",
			len(vec), h.cfg.Dimension))
	}
	return vec, nil
}
