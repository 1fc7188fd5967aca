package model

import "time"

// CostEstimate is a per-stage breakdown of expected processing cost in USD.
type CostEstimate struct {
	OCR             float64 `json:"ocr"`
	Extraction      float64 `json:"extraction"`
	Embedding       float64 `json:"embedding"`
	Storage         float64 `json:"storage"`
	Total           float64 `json:"total"`
	PagesNeedingOCR int     `json:"pages_needing_ocr"`
	EstimatedTokens int     `json:"estimated_tokens"`
	CacheHit        bool    `json:"cache_hit"`
}

// CostEntry is one append-only ledger row.
type CostEntry struct {
	ID         string    `json:"id"`
	Key        string    `json:"key"`
	UserID     string    `json:"user_id,omitempty"`
	Day        string    `json:"day"` // YYYY-MM-DD, UTC
	CostUSD    float64   `json:"cost_usd"`
	CacheHit   bool      `json:"cache_hit"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// CostSavings compares actual spend with a no-cache baseline.
type CostSavings struct {
	PeriodDays         int     `json:"period_days"`
	Requests           int     `json:"requests"`
	CacheHits          int     `json:"cache_hits"`
	HitRate            float64 `json:"hit_rate"`
	ActualCostUSD      float64 `json:"actual_cost_usd"`
	BaselineCostUSD    float64 `json:"baseline_cost_usd"`
	SavedUSD           float64 `json:"saved_usd"`
	AvgCostPerDocument float64 `json:"avg_cost_per_document"`
}
