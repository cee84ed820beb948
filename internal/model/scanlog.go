package model

import "time"

// Stage names the resolution or disclosure step a scan log belongs to.
type Stage string

const (
	StageFull       Stage = "full"
	StageDevice     Stage = "device"
	StageComponents Stage = "components"
	StageDetail     Stage = "detail"
)

// ScanLog is one append-only telemetry row per resolution attempt.
type ScanLog struct {
	ID           string           `json:"id"`
	Stage        Stage            `json:"stage"`
	Tier         Tier             `json:"tier"`
	Fingerprint  string           `json:"fingerprint,omitempty"`
	UserID       string           `json:"user_id,omitempty"`
	StageTimings map[string]int64 `json:"stage_timings_ms"`
	LatencyMS    int64            `json:"latency_ms"`
	Success      bool             `json:"success"`
	ErrorKind    ErrorKind        `json:"error_kind,omitempty"`
	Provider     ProviderName     `json:"provider,omitempty"`
	Model        string           `json:"model,omitempty"`
	InputTokens  int64            `json:"input_tokens"`
	OutputTokens int64            `json:"output_tokens"`
	CostUSD      float64          `json:"cost_usd"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Timer accumulates named stage timings for a scan log.
type Timer struct {
	start  time.Time
	last   time.Time
	stages map[string]int64
}

// StartTimer begins timing at now.
func StartTimer(now time.Time) *Timer {
	return &Timer{start: now, last: now, stages: make(map[string]int64)}
}

// Mark records the time since the previous mark under name.
func (t *Timer) Mark(name string, now time.Time) {
	t.stages[name] += now.Sub(t.last).Milliseconds()
	t.last = now
}

// Stages returns the recorded timings.
func (t *Timer) Stages() map[string]int64 { return t.stages }

// Total returns the time elapsed since the timer started.
func (t *Timer) Total(now time.Time) int64 { return now.Sub(t.start).Milliseconds() }
