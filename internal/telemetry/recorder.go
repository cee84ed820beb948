// Package telemetry records one scan log per resolution attempt and derives
// cost and performance views from them.
package telemetry

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/teardown/internal/model"
	"github.com/sells-group/teardown/internal/resilience"
)

// Writer persists scan logs.
type Writer interface {
	InsertScanLog(ctx context.Context, log *model.ScanLog) error
}

// Options sizes the recorder.
type Options struct {
	Workers      int
	QueueSize    int
	WriteTimeout time.Duration
}

// Recorder writes scan logs asynchronously on a bounded worker pool. Write
// failures are logged and dropped; they never reach the caller.
type Recorder struct {
	w       Writer
	pool    pond.Pool
	timeout time.Duration
	now     func() time.Time
	log     *zap.Logger
	closed  atomic.Bool
}

// NewRecorder starts a recorder backed by w.
func NewRecorder(w Writer, opts Options) *Recorder {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1000
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &Recorder{
		w:       w,
		pool:    pond.NewPool(opts.Workers, pond.WithQueueSize(opts.QueueSize), pond.WithNonBlocking(true)),
		timeout: opts.WriteTimeout,
		now:     time.Now,
		log:     zap.L().With(zap.String("component", "telemetry")),
	}
}

// Record normalizes entry and queues it for insertion. It never waits: when
// the queue is full the entry is logged and dropped.
func (r *Recorder) Record(entry model.ScanLog) {
	entry = Normalize(entry, r.now())
	if r.closed.Load() {
		r.log.Warn("recorder closed, dropping scan log", zap.String("scan_id", entry.ID))
		return
	}
	_, ok := r.pool.TrySubmit(func() {
		// Not derived from the request context.
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		err := resilience.Do(ctx, resilience.DefaultRetryConfig(), func(ctx context.Context) error {
			return r.w.InsertScanLog(ctx, &entry)
		})
		if err != nil {
			r.log.Error("scan log write failed",
				zap.String("scan_id", entry.ID),
				zap.String("stage", string(entry.Stage)),
				zap.String("tier", string(entry.Tier)),
				zap.Error(err),
			)
		}
	})
	if !ok {
		r.log.Warn("scan log queue full, dropping scan log",
			zap.String("scan_id", entry.ID),
			zap.String("tier", string(entry.Tier)),
			zap.Float64("cost_usd", entry.CostUSD),
			zap.Uint64("dropped", r.pool.DroppedTasks()),
		)
	}
}

// Dropped returns how many scan logs were discarded because the queue was full.
func (r *Recorder) Dropped() uint64 {
	return r.pool.DroppedTasks()
}

// Close waits for queued writes to finish.
func (r *Recorder) Close() {
	if r.closed.Swap(true) {
		return
	}
	r.log.Debug("draining scan log queue",
		zap.Uint64("waiting", r.pool.WaitingTasks()),
		zap.Uint64("completed", r.pool.CompletedTasks()),
	)
	r.pool.StopAndWait()
}

// Normalize fills defaults and enforces cost invariants: cost is never
// negative and only the AI tier carries cost.
func Normalize(entry model.ScanLog, now time.Time) model.ScanLog {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now.UTC()
	}
	if entry.Stage == "" {
		entry.Stage = model.StageFull
	}
	if entry.StageTimings == nil {
		entry.StageTimings = map[string]int64{}
	}
	if math.IsNaN(entry.CostUSD) || math.IsInf(entry.CostUSD, 0) || entry.CostUSD < 0 {
		entry.CostUSD = 0
	}
	if entry.Tier != model.TierAI {
		entry.CostUSD = 0
	}
	entry.LatencyMS = max(entry.LatencyMS, 0)
	entry.InputTokens = max(entry.InputTokens, 0)
	entry.OutputTokens = max(entry.OutputTokens, 0)
	return entry
}
