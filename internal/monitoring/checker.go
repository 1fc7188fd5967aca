package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/docgraph/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker re-evaluates the processing window on a ticker and forwards
// breaches to the Alerter. An alert type that is still firing is not resent
// until a check finds it cleared.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
	firing    map[AlertType]bool
}

// NewChecker creates a Checker. A non-positive interval falls back to five
// minutes.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  cfg.LookbackWindowHours,
		firing:    make(map[AlertType]bool),
	}
}

// Run checks every interval until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("monitoring: document checks started",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("monitoring: document checks stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

// check runs one evaluation and returns the alerts it delivered.
func (c *Checker) check(ctx context.Context, log *zap.Logger) []Alert {
	snap := c.collector.Collect(c.lookback)

	var fresh []Alert
	active := make(map[AlertType]bool)
	for _, a := range c.alerter.Evaluate(snap) {
		active[a.Type] = true
		if !c.firing[a.Type] {
			fresh = append(fresh, a)
		}
	}
	for t := range c.firing {
		if !active[t] {
			log.Info("monitoring: alert cleared", zap.String("type", string(t)))
		}
	}
	c.firing = active

	if len(fresh) == 0 {
		log.Debug("monitoring: nothing new to report",
			zap.Int("processed", snap.Processed),
			zap.Int("still_firing", len(active)),
			zap.Float64("cost_usd", snap.CostUSD),
		)
		return nil
	}

	sent := c.alerter.SendAlerts(ctx, fresh)
	log.Info("monitoring: document check complete",
		zap.Int("alerts_new", len(fresh)),
		zap.Int("alerts_sent", sent),
	)
	return fresh
}
