package telemetry

import (
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/teardown/internal/model"
)

// Bucket is the width of a rollup window.
type Bucket string

const (
	BucketHour Bucket = "hour"
	BucketDay  Bucket = "day"
)

// ParseBucket validates a bucket name. Empty means hourly.
func ParseBucket(s string) (Bucket, error) {
	switch Bucket(s) {
	case "", BucketHour:
		return BucketHour, nil
	case BucketDay:
		return BucketDay, nil
	}
	return "", eris.Errorf("telemetry: unknown bucket %q", s)
}

// Truncate returns the start of the bucket containing t, in UTC.
func (b Bucket) Truncate(t time.Time) time.Time {
	t = t.UTC()
	if b == BucketDay {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return t.Truncate(time.Hour)
}

// Stats aggregates a set of scan logs.
type Stats struct {
	Start         time.Time                  `json:"start"`
	Scans         int                        `json:"scans"`
	Successes     int                        `json:"successes"`
	Failures      int                        `json:"failures"`
	TierCounts    map[model.Tier]int         `json:"tier_counts"`
	CacheHitRate  float64                    `json:"cache_hit_rate"`
	FailureRate   float64                    `json:"failure_rate"`
	P50LatencyMS  int64                      `json:"p50_latency_ms"`
	P95LatencyMS  int64                      `json:"p95_latency_ms"`
	CostUSD       float64                    `json:"cost_usd"`
	AvgCostUSD    float64                    `json:"avg_cost_usd"`
	ProviderCalls map[model.ProviderName]int `json:"provider_calls"`
	ErrorCounts   map[model.ErrorKind]int    `json:"error_counts"`
}

// Rollup groups logs into buckets ordered by start time.
func Rollup(logs []model.ScanLog, bucket Bucket) []Stats {
	groups := make(map[time.Time][]model.ScanLog)
	for _, l := range logs {
		start := bucket.Truncate(l.CreatedAt)
		groups[start] = append(groups[start], l)
	}

	out := make([]Stats, 0, len(groups))
	for start, group := range groups {
		s := Summarize(group)
		s.Start = start
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// Summarize aggregates logs as a single window.
func Summarize(logs []model.ScanLog) Stats {
	s := Stats{
		TierCounts:    map[model.Tier]int{},
		ProviderCalls: map[model.ProviderName]int{},
		ErrorCounts:   map[model.ErrorKind]int{},
	}
	latencies := make([]int64, 0, len(logs))
	for _, l := range logs {
		s.Scans++
		if l.Success {
			s.Successes++
		} else {
			s.Failures++
		}
		if l.Tier != "" {
			s.TierCounts[l.Tier]++
		}
		if l.Tier == model.TierAI && l.Provider != "" {
			s.ProviderCalls[l.Provider]++
		}
		if l.ErrorKind != model.ErrorNone {
			s.ErrorCounts[l.ErrorKind]++
		}
		s.CostUSD += max(l.CostUSD, 0)
		latencies = append(latencies, l.LatencyMS)
	}
	if s.Scans == 0 {
		return s
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	s.P50LatencyMS = Percentile(latencies, 50)
	s.P95LatencyMS = Percentile(latencies, 95)
	s.CacheHitRate = float64(s.TierCounts[model.TierCache]) / float64(s.Scans)
	s.FailureRate = float64(s.Failures) / float64(s.Scans)
	s.AvgCostUSD = s.CostUSD / float64(s.Scans)
	return s
}

// Percentile returns the nearest-rank percentile of an ascending slice.
func Percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	rank = min(max(rank, 1), len(sorted))
	return sorted[rank-1]
}
