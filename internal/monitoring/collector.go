package monitoring

import (
	"sync"
	"time"

	"github.com/sells-group/docgraph/internal/model"
)

// MetricsSnapshot holds a point-in-time view of processing health.
type MetricsSnapshot struct {
	Processed    int     `json:"processed"`
	Succeeded    int     `json:"succeeded"`
	Failed       int     `json:"failed"`
	Degraded     int     `json:"degraded"`
	Cached       int     `json:"cached"`
	FailRate     float64 `json:"fail_rate"`
	CacheHitRate float64 `json:"cache_hit_rate"`
	CostUSD      float64 `json:"cost_usd"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// CostLedger exposes recorded cost entries.
type CostLedger interface {
	Entries() []model.CostEntry
}

type outcome struct {
	at       time.Time
	success  bool
	degraded bool
	cached   bool
}

// Collector records processing outcomes and summarizes them with the cost
// ledger over a lookback window.
type Collector struct {
	ledger CostLedger
	now    func() time.Time

	mu       sync.Mutex
	outcomes []outcome
}

// NewCollector creates a collector. ledger may be nil.
func NewCollector(ledger CostLedger) *Collector {
	return &Collector{
		ledger: ledger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Record adds one pipeline result.
func (c *Collector) Record(res *model.ProcessingResult) {
	if res == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, outcome{
		at:       c.now(),
		success:  res.Success,
		degraded: res.Degraded,
		cached:   res.Cached,
	})
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(lookbackHours int) *MetricsSnapshot {
	now := c.now()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	c.mu.Lock()
	for _, o := range c.outcomes {
		if o.at.Before(cutoff) {
			continue
		}
		snap.Processed++
		if o.success {
			snap.Succeeded++
		} else {
			snap.Failed++
		}
		if o.degraded {
			snap.Degraded++
		}
		if o.cached {
			snap.Cached++
		}
	}
	c.mu.Unlock()

	if snap.Processed > 0 {
		snap.FailRate = float64(snap.Failed) / float64(snap.Processed)
		snap.CacheHitRate = float64(snap.Cached) / float64(snap.Processed)
	}

	if c.ledger != nil {
		for _, e := range c.ledger.Entries() {
			if e.CreatedAt.Before(cutoff) {
				continue
			}
			snap.CostUSD += e.CostUSD
		}
	}
	return snap
}
