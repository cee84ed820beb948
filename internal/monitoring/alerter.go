package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/teardown/internal/config"
	"github.com/sells-group/teardown/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate       AlertType = "failure_rate"
	AlertCostOverrun       AlertType = "cost_overrun"
	AlertLowCacheHitRate   AlertType = "low_cache_hit_rate"
	AlertUserBudget        AlertType = "user_budget"
	AlertProviderExhausted AlertType = "provider_exhausted"
)

// defaultMinScans guards rate alerts against tiny samples.
const defaultMinScans = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()
	s := snap.Summary

	minScans := a.cfg.MinScans
	if minScans <= 0 {
		minScans = defaultMinScans
	}

	if a.cfg.FailureRateThreshold > 0 && s.Scans >= minScans && s.FailureRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Scan failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d scans in last %dh)",
				s.FailureRate*100, a.cfg.FailureRateThreshold*100,
				s.Failures, s.Scans, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": s.FailureRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       s.Failures,
				"scans":        s.Scans,
				"error_counts": s.ErrorCounts,
			},
			Timestamp: now,
		})
	}

	if a.cfg.CostThresholdUSD > 0 && s.CostUSD > a.cfg.CostThresholdUSD {
		alerts = append(alerts, Alert{
			Type:     AlertCostOverrun,
			Severity: "high",
			Message: fmt.Sprintf(
				"AI cost $%.2f exceeds threshold $%.2f in last %dh",
				s.CostUSD, a.cfg.CostThresholdUSD, snap.LookbackHours,
			),
			Details: map[string]any{
				"cost_usd":       s.CostUSD,
				"threshold_usd":  a.cfg.CostThresholdUSD,
				"provider_calls": s.ProviderCalls,
			},
			Timestamp: now,
		})
	}

	if a.cfg.MinCacheHitRate > 0 && s.Scans >= minScans && s.CacheHitRate < a.cfg.MinCacheHitRate {
		alerts = append(alerts, Alert{
			Type:     AlertLowCacheHitRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Cache hit rate %.1f%% is below %.1f%% over %d scans in last %dh",
				s.CacheHitRate*100, a.cfg.MinCacheHitRate*100, s.Scans, snap.LookbackHours,
			),
			Details: map[string]any{
				"cache_hit_rate": s.CacheHitRate,
				"minimum":        a.cfg.MinCacheHitRate,
				"tier_counts":    s.TierCounts,
			},
			Timestamp: now,
		})
	}

	if n := s.ErrorCounts[model.ErrorProviderExhausted]; n > 0 {
		alerts = append(alerts, Alert{
			Type:      AlertProviderExhausted,
			Severity:  "high",
			Message:   fmt.Sprintf("%d scan(s) hit an exhausted provider account in last %dh", n, snap.LookbackHours),
			Details:   map[string]any{"count": n},
			Timestamp: now,
		})
	}

	if a.cfg.UserBudgetUSD > 0 {
		for _, u := range snap.Ledger.ByUser {
			// Ledger is ordered by cost, highest first.
			if u.CostUSD <= a.cfg.UserBudgetUSD {
				break
			}
			alerts = append(alerts, Alert{
				Type:     AlertUserBudget,
				Severity: "medium",
				Message: fmt.Sprintf(
					"User %s spent $%.2f on AI calls in last %dh (budget $%.2f)",
					u.Key, u.CostUSD, snap.LookbackHours, a.cfg.UserBudgetUSD,
				),
				Details: map[string]any{
					"user_id":    u.Key,
					"cost_usd":   u.CostUSD,
					"ai_calls":   u.AICalls,
					"budget_usd": a.cfg.UserBudgetUSD,
				},
				Timestamp: now,
			})
		}
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
