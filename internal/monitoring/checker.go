package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/teardown/internal/config"
	"github.com/sells-group/teardown/internal/model"
)

const (
	defaultCheckInterval = 15 * time.Minute
	defaultLookbackHours = 24
)

// Checker samples resolution health on an interval, logs it, and raises
// alerts when the snapshot breaches a threshold.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	log       *zap.Logger
}

// NewChecker creates a background health checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		log:       zap.L().With(zap.String("component", "monitoring.checker")),
	}
}

func (c *Checker) lookback() int {
	if c.cfg.LookbackHours <= 0 {
		return defaultLookbackHours
	}
	return c.cfg.LookbackHours
}

func (c *Checker) interval() time.Duration {
	if c.cfg.CheckIntervalMins <= 0 {
		return defaultCheckInterval
	}
	return time.Duration(c.cfg.CheckIntervalMins) * time.Minute
}

// Run checks once per interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	c.log.Info("starting health checker",
		zap.Duration("interval", c.interval()),
		zap.Int("lookback_hours", c.lookback()),
	)

	ticker := time.NewTicker(c.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("health checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check collects one snapshot, logs the resolution mix and spend, and sends
// any alerts it raises. It returns the alerts.
func (c *Checker) Check(ctx context.Context) []Alert {
	snap, err := c.collector.Collect(ctx, c.lookback())
	if err != nil {
		c.log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return nil
	}

	s := snap.Summary
	c.log.Info("resolution health",
		zap.Int("lookback_hours", snap.LookbackHours),
		zap.Int("scans", s.Scans),
		zap.Int("cache_hits", s.TierCounts[model.TierCache]),
		zap.Int("catalog_hits", s.TierCounts[model.TierDatabase]),
		zap.Int("ai_calls", s.TierCounts[model.TierAI]),
		zap.Float64("cache_hit_rate", s.CacheHitRate),
		zap.Float64("failure_rate", s.FailureRate),
		zap.Int64("p95_latency_ms", s.P95LatencyMS),
		zap.Float64("cost_usd", snap.Ledger.TotalUSD),
		zap.Int("pending_submissions", snap.PendingSubmissions),
	)

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		return nil
	}

	types := make([]string, 0, len(alerts))
	for _, a := range alerts {
		types = append(types, string(a.Type))
	}
	sent := c.alerter.SendAlerts(ctx, alerts)
	c.log.Warn("monitoring: thresholds breached",
		zap.Strings("alerts", types),
		zap.Int("alerts_sent", sent),
	)
	return alerts
}
