package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/teardown/internal/model"
	"github.com/sells-group/teardown/internal/store"
	"github.com/sells-group/teardown/internal/telemetry"
)

// MetricsSnapshot holds a point-in-time view of resolution health.
type MetricsSnapshot struct {
	// Scan metrics (within lookback window).
	Summary telemetry.Stats      `json:"summary"`
	Ledger  telemetry.CostLedger `json:"ledger"`

	// Review backlog.
	PendingSubmissions int `json:"pending_submissions"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// ScanLogLister is the store subset the collector reads.
type ScanLogLister interface {
	ListScanLogs(ctx context.Context, filter store.ScanLogFilter) ([]model.ScanLog, error)
}

// SubmissionLister reports the review backlog.
type SubmissionLister interface {
	ListSubmissions(ctx context.Context, filter store.SubmissionFilter) ([]model.Submission, error)
}

// Collector gathers metrics from scan logs.
type Collector struct {
	logs        ScanLogLister
	submissions SubmissionLister
	now         func() time.Time
}

// NewCollector creates a new metrics collector. submissions may be nil.
func NewCollector(logs ScanLogLister, submissions SubmissionLister) *Collector {
	return &Collector{logs: logs, submissions: submissions, now: time.Now}
}

// Collect gathers a snapshot of metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	logs, err := c.logs.ListScanLogs(ctx, store.ScanLogFilter{
		Since: now.Add(-time.Duration(lookbackHours) * time.Hour),
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list scan logs")
	}
	snap.Summary = telemetry.Summarize(logs)
	snap.Ledger = telemetry.Ledger(logs)

	if c.submissions != nil {
		pending, err := c.submissions.ListSubmissions(ctx, store.SubmissionFilter{
			Status: model.SubmissionPending,
			Limit:  10000,
		})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list pending submissions")
		}
		snap.PendingSubmissions = len(pending)
	}

	return snap, nil
}
