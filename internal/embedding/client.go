// Package embedding talks to the embedding service that turns query text
// into vectors for retrieval.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vidya-ai/vidya/libs/query-engine/internal/observability"
)

// Embedder produces a vector for a piece of text. Implementations must be
// deterministic for identical input; the retrieval cache depends on it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Config holds the embedding service settings.
type Config struct {
	BaseURL   string
	Model     string
	Dimension int
	Timeout   time.Duration
}

// Client is the HTTP embedding client.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *observability.Logger
}

// NewClient builds a Client from config.
func NewClient(cfg Config, logger *observability.Logger) *Client {
	if logger == nil {
		logger = observability.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Dimension returns the configured vector dimension.
func (c *Client) Dimension() int { return c.cfg.Dimension }

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per input text, in order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embedRequest{Texts: texts, Model: c.cfg.Model})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/embed"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding service returned status %d", resp.StatusCode)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(out.Embeddings), len(texts))
	}

	c.logger.Debug().
		Int("texts", len(texts)).
		Dur("elapsed", time.Since(start)).
		Msg("embeddings generated")
	return out.Embeddings, nil
}

// Health checks the embedding service.
func (c *Client) Health(ctx context.Context) error {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("embedding service unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embedding service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
