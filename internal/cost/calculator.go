package cost

import "github.com/sells-group/docgraph/internal/config"

// Rates holds per-stage pricing in USD.
type Rates struct {
	OCRPerPage         float64 `yaml:"ocr_per_page" mapstructure:"ocr_per_page"`
	ExtractionPerMTok  float64 `yaml:"extraction_per_mtok" mapstructure:"extraction_per_mtok"`
	EmbeddingPerMTok   float64 `yaml:"embedding_per_mtok" mapstructure:"embedding_per_mtok"`
	StoragePerDocument float64 `yaml:"storage_per_document" mapstructure:"storage_per_document"`
	TokensPerPage      int     `yaml:"tokens_per_page" mapstructure:"tokens_per_page"`
}

// Calculator computes per-stage costs.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	if rates.TokensPerPage <= 0 {
		rates.TokensPerPage = DefaultRates().TokensPerPage
	}
	return &Calculator{rates: rates}
}

// OCR returns the cost of running OCR over pages.
func (c *Calculator) OCR(pages int) float64 {
	return float64(pages) * c.rates.OCRPerPage
}

// Tokens estimates the token count of pages of text.
func (c *Calculator) Tokens(pages int) int {
	return pages * c.rates.TokensPerPage
}

// Extraction returns the model input cost for tokens.
func (c *Calculator) Extraction(tokens int) float64 {
	return (float64(tokens) / 1e6) * c.rates.ExtractionPerMTok
}

// Embedding returns the embedding cost for tokens.
func (c *Calculator) Embedding(tokens int) float64 {
	return (float64(tokens) / 1e6) * c.rates.EmbeddingPerMTok
}

// Storage returns the flat per-document storage cost.
func (c *Calculator) Storage() float64 {
	return c.rates.StoragePerDocument
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		OCRPerPage:         0.001,
		ExtractionPerMTok:  0.80,
		EmbeddingPerMTok:   0.02,
		StoragePerDocument: 0.0001,
		TokensPerPage:      500,
	}
}

// RatesFromConfig maps the pricing config section onto Rates.
func RatesFromConfig(cfg config.PricingConfig) Rates {
	return Rates{
		OCRPerPage:         cfg.OCRPerPage,
		ExtractionPerMTok:  cfg.ExtractionPerMTok,
		EmbeddingPerMTok:   cfg.EmbeddingPerMTok,
		StoragePerDocument: cfg.StoragePerDocument,
		TokensPerPage:      cfg.TokensPerPage,
	}
}
