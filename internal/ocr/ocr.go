package ocr

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docgraph/internal/config"
	"github.com/sells-group/docgraph/internal/model"
	"github.com/sells-group/docgraph/internal/resilience"
)

// Result is the output of one extraction call.
type Result struct {
	// Pages holds per-page content; markdown when Markdown is set.
	Pages    []string
	Markdown bool
	// Blocks is populated by layout services.
	Blocks []model.LayoutBlock
}

// Extractor extracts content from PDF files.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, pdfPath string) (*Result, error)
}

// NewMarkdownExtractor creates the markdown OCR extractor. It returns
// resilience.ErrNotConfigured when no API key is set.
func NewMarkdownExtractor(cfg config.OCRConfig) (Extractor, error) {
	if cfg.MistralKey == "" {
		return nil, eris.Wrap(resilience.ErrNotConfigured, "ocr: markdown service requires ocr.mistral_api_key")
	}
	return NewMistralOCR(cfg.MistralKey, cfg.MistralModel,
		WithEndpoint(cfg.MistralURL),
		WithHTTPClient(&http.Client{Timeout: timeout(cfg)}),
	), nil
}

// NewLayoutExtractor creates the layout OCR extractor. It returns
// resilience.ErrNotConfigured when no service URL is set.
func NewLayoutExtractor(cfg config.OCRConfig) (Extractor, error) {
	if cfg.LayoutURL == "" {
		return nil, eris.Wrap(resilience.ErrNotConfigured, "ocr: layout service requires ocr.layout_url")
	}
	return NewLayoutClient(cfg.LayoutURL, cfg.LayoutKey,
		WithHTTPClient(&http.Client{Timeout: timeout(cfg)}),
	), nil
}

func timeout(cfg config.OCRConfig) time.Duration {
	if cfg.TimeoutSecs <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(cfg.TimeoutSecs) * time.Second
}

// Option configures an HTTP-backed extractor.
type Option func(*httpOptions)

type httpOptions struct {
	endpoint string
	client   *http.Client
}

// WithEndpoint overrides the service endpoint. Empty values are ignored.
func WithEndpoint(url string) Option {
	return func(o *httpOptions) {
		if url != "" {
			o.endpoint = url
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *httpOptions) {
		if c != nil {
			o.client = c
		}
	}
}

func applyOptions(endpoint string, opts []Option) httpOptions {
	o := httpOptions{endpoint: endpoint, client: &http.Client{Timeout: 2 * time.Minute}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
