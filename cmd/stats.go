package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/teardown/internal/model"
	"github.com/sells-group/teardown/internal/store"
	"github.com/sells-group/teardown/internal/telemetry"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize scan telemetry and spend",
	Long:  "Rolls scan logs up by hour or day, prints per-user and per-provider spend, and optionally exports both to an xlsx workbook.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		bucketName, _ := cmd.Flags().GetString("bucket")
		since, _ := cmd.Flags().GetDuration("since")
		user, _ := cmd.Flags().GetString("user")
		xlsxPath, _ := cmd.Flags().GetString("xlsx")

		bucket, err := telemetry.ParseBucket(bucketName)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		filter := store.ScanLogFilter{UserID: user}
		if since > 0 {
			filter.Since = time.Now().UTC().Add(-since)
		}
		logs, err := st.ListScanLogs(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "stats")
		}

		rollup := telemetry.Rollup(logs, bucket)
		ledger := telemetry.Ledger(logs)

		out := cmd.OutOrStdout()
		formatSummary(out, telemetry.Summarize(logs))
		_, _ = fmt.Fprintln(out)
		formatRollup(out, rollup)
		_, _ = fmt.Fprintln(out)
		formatLedger(out, ledger)

		if xlsxPath != "" {
			if err := telemetry.Export(xlsxPath, rollup, ledger); err != nil {
				return err
			}
			zap.L().Info("stats exported", zap.String("path", xlsxPath), zap.Int("buckets", len(rollup)))
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().String("bucket", "hour", "rollup bucket (hour, day)")
	statsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")
	statsCmd.Flags().String("user", "", "restrict to one user id")
	statsCmd.Flags().String("xlsx", "", "write the rollup and ledger to this xlsx file")
	rootCmd.AddCommand(statsCmd)
}

// formatSummary writes aggregate stats to w.
func formatSummary(out io.Writer, s telemetry.Stats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total scans:\t%d\n", s.Scans)
	_, _ = fmt.Fprintf(w, "Successes:\t%d\n", s.Successes)
	_, _ = fmt.Fprintf(w, "Failures:\t%d\n", s.Failures)
	_, _ = fmt.Fprintf(w, "  Cache:\t%d\n", s.TierCounts[model.TierCache])
	_, _ = fmt.Fprintf(w, "  Database:\t%d\n", s.TierCounts[model.TierDatabase])
	_, _ = fmt.Fprintf(w, "  AI:\t%d\n", s.TierCounts[model.TierAI])
	_, _ = fmt.Fprintf(w, "Cache hit rate:\t%.1f%%\n", s.CacheHitRate*100)
	_, _ = fmt.Fprintf(w, "Latency p50/p95:\t%dms / %dms\n", s.P50LatencyMS, s.P95LatencyMS)
	_, _ = fmt.Fprintf(w, "Cost:\t$%.4f\n", s.CostUSD)

	kinds := make([]string, 0, len(s.ErrorCounts))
	for k := range s.ErrorCounts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", k, s.ErrorCounts[model.ErrorKind(k)])
	}
	_ = w.Flush()
}

// formatRollup writes one row per bucket to w.
func formatRollup(out io.Writer, stats []telemetry.Stats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "BUCKET\tSCANS\tFAILED\tHIT_RATE\tP95_MS\tCOST_USD")
	_, _ = fmt.Fprintln(w, "------\t-----\t------\t--------\t------\t--------")
	for _, s := range stats {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%.2f\t%d\t%.4f\n",
			s.Start.UTC().Format("2006-01-02 15:04"),
			s.Scans,
			s.Failures,
			s.CacheHitRate,
			s.P95LatencyMS,
			s.CostUSD,
		)
	}
	_ = w.Flush()
}

// formatLedger writes spend per user and per provider to w.
func formatLedger(out io.Writer, l telemetry.CostLedger) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KIND\tKEY\tSCANS\tAI_CALLS\tCOST_USD")
	_, _ = fmt.Fprintln(w, "----\t---\t-----\t--------\t--------")
	for _, e := range l.ByUser {
		_, _ = fmt.Fprintf(w, "user\t%s\t%d\t%d\t%.4f\n", e.Key, e.Scans, e.AICalls, e.CostUSD)
	}
	for _, e := range l.ByProvider {
		_, _ = fmt.Fprintf(w, "provider\t%s\t%d\t%d\t%.4f\n", e.Key, e.Scans, e.AICalls, e.CostUSD)
	}
	_, _ = fmt.Fprintf(w, "total\t\t\t\t%.4f\n", l.TotalUSD)
	_ = w.Flush()
}
