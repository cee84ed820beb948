package telemetry

import (
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/teardown/internal/model"
)

var rollupHeader = []string{
	"bucket_start", "scans", "successes", "failures", "cache", "database", "ai",
	"cache_hit_rate", "p50_latency_ms", "p95_latency_ms", "cost_usd", "avg_cost_usd", "provider_calls",
}

var ledgerHeader = []string{"kind", "key", "scans", "ai_calls", "cost_usd"}

// Export writes a workbook with a "rollup" sheet and a "ledger" sheet.
func Export(path string, stats []Stats, ledger CostLedger) error {
	f := xlsx.NewFile()

	rollup, err := f.AddSheet("rollup")
	if err != nil {
		return eris.Wrap(err, "telemetry: add rollup sheet")
	}
	addStringRow(rollup, rollupHeader)
	for _, s := range stats {
		row := rollup.AddRow()
		row.AddCell().SetString(s.Start.UTC().Format("2006-01-02 15:04"))
		row.AddCell().SetInt(s.Scans)
		row.AddCell().SetInt(s.Successes)
		row.AddCell().SetInt(s.Failures)
		row.AddCell().SetInt(s.TierCounts[model.TierCache])
		row.AddCell().SetInt(s.TierCounts[model.TierDatabase])
		row.AddCell().SetInt(s.TierCounts[model.TierAI])
		row.AddCell().SetFloat(s.CacheHitRate)
		row.AddCell().SetInt64(s.P50LatencyMS)
		row.AddCell().SetInt64(s.P95LatencyMS)
		row.AddCell().SetFloat(s.CostUSD)
		row.AddCell().SetFloat(s.AvgCostUSD)
		row.AddCell().SetString(formatProviderCalls(s.ProviderCalls))
	}

	sheet, err := f.AddSheet("ledger")
	if err != nil {
		return eris.Wrap(err, "telemetry: add ledger sheet")
	}
	addStringRow(sheet, ledgerHeader)
	for _, group := range []struct {
		kind    string
		entries []LedgerEntry
	}{{"user", ledger.ByUser}, {"provider", ledger.ByProvider}} {
		for _, e := range group.entries {
			row := sheet.AddRow()
			row.AddCell().SetString(group.kind)
			row.AddCell().SetString(e.Key)
			row.AddCell().SetInt(e.Scans)
			row.AddCell().SetInt(e.AICalls)
			row.AddCell().SetFloat(e.CostUSD)
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "telemetry: save %s", path)
	}
	return nil
}

func addStringRow(sheet *xlsx.Sheet, cells []string) {
	row := sheet.AddRow()
	for _, c := range cells {
		row.AddCell().SetString(c)
	}
}

func formatProviderCalls(m map[model.ProviderName]int) string {
	names := make([]string, 0, len(m))
	for p := range m {
		names = append(names, string(p))
	}
	sort.Strings(names)
	out := ""
	for i, n := range names {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s=%d", n, m[model.ProviderName(n)])
	}
	return out
}
