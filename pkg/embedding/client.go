// Package embedding provides a client for a text embedding service speaking
// the Ollama-compatible /api/embed protocol.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/docgraph/internal/resilience"
)

// DefaultConcurrency bounds in-flight requests of one EmbedBatch call.
const DefaultConcurrency = 4

// Client defines the embedding operations.
type Client interface {
	// Embed returns the vector for one text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch embeds every text independently. A failed item yields a
	// nil slot; the batch itself never fails because of one item.
	EmbedBatch(ctx context.Context, texts []string) [][]float32
}

// Option configures the embedding client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetry sets the per-item retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// WithConcurrency bounds EmbedBatch parallelism.
func WithConcurrency(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithRateLimiters gates every request through the shared limiter registry.
func WithRateLimiters(l *resilience.RateLimiters) Option {
	return func(c *httpClient) {
		c.limiters = l
	}
}

// WithAPIKey sends a bearer token with every request.
func WithAPIKey(key string) Option {
	return func(c *httpClient) {
		c.apiKey = key
	}
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type httpClient struct {
	baseURL     string
	model       string
	apiKey      string
	concurrency int
	retry       resilience.RetryConfig
	limiters    *resilience.RateLimiters
	http        *http.Client
}

// NewClient creates a new embedding client.
func NewClient(baseURL, model string, opts ...Option) Client {
	c := &httpClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		concurrency: DefaultConcurrency,
		retry:       resilience.DefaultRetryConfig(),
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Embed(ctx context.Context, text string) ([]float32, error) {
	retry := c.retry.WithLogger(resilience.ServiceEmbedding, "embed")
	return resilience.DoVal(ctx, retry, func(ctx context.Context) ([]float32, error) {
		if err := c.limiters.Wait(ctx, resilience.ServiceEmbedding); err != nil {
			return nil, err
		}
		return c.embedOnce(ctx, text)
	})
}

func (c *httpClient) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := c.Embed(gctx, text)
			if err != nil {
				zap.L().Warn("embedding: item failed",
					zap.Int("index", i),
					zap.String("error_kind", resilience.Classify(err)),
					zap.Error(err),
				)
				return nil
			}
			out[i] = vec
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (c *httpClient) embedOnce(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(embedRequest{Model: c.model, Input: text})
	if err != nil {
		return nil, eris.Wrap(err, "embedding: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "embedding: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "embedding: request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "embedding: read response body"), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.FromHTTPStatus(
			eris.Errorf("embedding: status %d: %s", resp.StatusCode, truncate(body, 200)),
			resp.StatusCode,
		)
	}

	var er embedResponse
	if err := json.Unmarshal(body, &er); err != nil {
		return nil, eris.Wrap(err, "embedding: decode response")
	}
	if len(er.Embeddings) == 0 || len(er.Embeddings[0]) == 0 {
		return nil, eris.New("embedding: empty embedding in response")
	}
	return er.Embeddings[0], nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
