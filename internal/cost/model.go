package cost

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/docgraph/internal/model"
)

// AlertWindow is the rolling window compared against the alert threshold.
const AlertWindow = 24 * time.Hour

// AlertFunc is invoked when the rolling cost total exceeds the threshold.
// It runs on its own goroutine and must not assume the caller waits.
type AlertFunc func(ctx context.Context, windowTotalUSD, thresholdUSD float64)

// LedgerSink persists ledger entries.
type LedgerSink interface {
	AppendCostEntry(ctx context.Context, entry model.CostEntry) error
}

// Model estimates processing cost and keeps the append-only cost ledger.
type Model struct {
	calc      *Calculator
	threshold float64
	alert     AlertFunc
	sink      LedgerSink
	now       func() time.Time

	mu      sync.Mutex
	entries []model.CostEntry
	alerted bool

	pending sync.WaitGroup
}

// Option configures a Model.
type Option func(*Model)

// WithAlert sets the alert callback and the rolling-window threshold in USD.
func WithAlert(thresholdUSD float64, fn AlertFunc) Option {
	return func(m *Model) {
		m.threshold = thresholdUSD
		m.alert = fn
	}
}

// WithSink persists every ledger entry best-effort.
func WithSink(s LedgerSink) Option {
	return func(m *Model) { m.sink = s }
}

// WithClock injects a time source.
func WithClock(now func() time.Time) Option {
	return func(m *Model) { m.now = now }
}

// NewModel creates a Model.
func NewModel(rates Rates, opts ...Option) *Model {
	m := &Model{
		calc: NewCalculator(rates),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Estimate returns the expected cost of processing a document. A cache hit
// always estimates zero. Pages needing OCR are all pages for scanned
// documents, none for digital ones, and the sampled share of image pages
// extrapolated to the whole document for hybrids.
func (m *Model) Estimate(cls model.DocumentTypeClassification, pageCount int, cacheHit bool) model.CostEstimate {
	if cacheHit {
		return model.CostEstimate{CacheHit: true}
	}
	if pageCount < 0 {
		pageCount = 0
	}

	ocrPages := PagesNeedingOCR(cls, pageCount)
	tokens := m.calc.Tokens(pageCount)

	est := model.CostEstimate{
		OCR:             m.calc.OCR(ocrPages),
		Extraction:      m.calc.Extraction(tokens),
		Embedding:       m.calc.Embedding(tokens),
		Storage:         m.calc.Storage(),
		PagesNeedingOCR: ocrPages,
		EstimatedTokens: tokens,
	}
	est.Total = est.OCR + est.Extraction + est.Embedding + est.Storage
	return est
}

// PagesNeedingOCR applies the per-kind OCR page policy.
func PagesNeedingOCR(cls model.DocumentTypeClassification, pageCount int) int {
	switch cls.Kind {
	case model.DocumentKindScanned:
		return pageCount
	case model.DocumentKindDigital:
		return 0
	default:
		if cls.SampledPageCount <= 0 {
			return 0
		}
		share := float64(cls.ImagePages) / float64(cls.SampledPageCount)
		pages := int(math.Round(share * float64(pageCount)))
		if pages > pageCount {
			pages = pageCount
		}
		return pages
	}
}

// LogProcessing appends a ledger entry. If the rolling 24h total then
// exceeds the threshold, the alert callback fires asynchronously once per
// breach; it re-arms when the total falls back under the threshold.
func (m *Model) LogProcessing(ctx context.Context, key, userID string, actualCost float64, cacheHit bool, durationMs int64) model.CostEntry {
	now := m.now()
	entry := model.CostEntry{
		ID:         uuid.New().String(),
		Key:        key,
		UserID:     userID,
		Day:        now.Format("2006-01-02"),
		CostUSD:    actualCost,
		CacheHit:   cacheHit,
		DurationMs: durationMs,
		CreatedAt:  now,
	}

	m.mu.Lock()
	m.entries = append(m.entries, entry)
	total := m.windowTotalLocked(now)
	fire := false
	if m.alert != nil && m.threshold > 0 {
		switch {
		case total > m.threshold && !m.alerted:
			m.alerted = true
			fire = true
		case total <= m.threshold:
			m.alerted = false
		}
	}
	m.mu.Unlock()

	if fire {
		zap.L().Warn("cost: rolling total exceeds threshold",
			zap.Float64("total_usd", total),
			zap.Float64("threshold_usd", m.threshold),
		)
		m.pending.Add(1)
		go func() {
			defer m.pending.Done()
			m.alert(context.WithoutCancel(ctx), total, m.threshold)
		}()
	}

	if m.sink != nil {
		if err := m.sink.AppendCostEntry(ctx, entry); err != nil {
			zap.L().Warn("cost: ledger sink append failed", zap.String("key", key), zap.Error(err))
		}
	}
	return entry
}

// Seed loads previously persisted entries into the ledger without firing
// alerts or writing to the sink.
func (m *Model) Seed(entries []model.CostEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entries...)
}

// Wait blocks until in-flight alert callbacks return.
func (m *Model) Wait() {
	m.pending.Wait()
}

// WindowTotal returns the cost logged over the last AlertWindow.
func (m *Model) WindowTotal() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.windowTotalLocked(m.now())
}

// Entries returns a copy of the ledger.
func (m *Model) Entries() []model.CostEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.CostEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// CalculateSavings compares spend over the last periodDays with a no-cache
// baseline of requests times the average cost of uncached documents.
func (m *Model) CalculateSavings(periodDays int) model.CostSavings {
	if periodDays <= 0 {
		periodDays = 30
	}
	cutoff := m.now().Add(-time.Duration(periodDays) * 24 * time.Hour)

	m.mu.Lock()
	defer m.mu.Unlock()

	s := model.CostSavings{PeriodDays: periodDays}
	var uncachedCost float64
	var uncached int
	for _, e := range m.entries {
		if e.CreatedAt.Before(cutoff) {
			continue
		}
		s.Requests++
		s.ActualCostUSD += e.CostUSD
		if e.CacheHit {
			s.CacheHits++
			continue
		}
		uncached++
		uncachedCost += e.CostUSD
	}
	if s.Requests == 0 {
		return s
	}

	s.HitRate = float64(s.CacheHits) / float64(s.Requests)
	if uncached > 0 {
		s.AvgCostPerDocument = uncachedCost / float64(uncached)
	}
	s.BaselineCostUSD = float64(s.Requests) * s.AvgCostPerDocument
	s.SavedUSD = math.Max(0, s.BaselineCostUSD-s.ActualCostUSD)
	return s
}

func (m *Model) windowTotalLocked(now time.Time) float64 {
	cutoff := now.Add(-AlertWindow)
	var total float64
	for _, e := range m.entries {
		if e.CreatedAt.After(cutoff) {
			total += e.CostUSD
		}
	}
	return total
}
