package telemetry

import (
	"sort"

	"github.com/sells-group/teardown/internal/model"
)

// AnonymousUser keys ledger rows for scans without a user id.
const AnonymousUser = "anonymous"

// LedgerEntry is the running spend of one user or provider.
type LedgerEntry struct {
	Key     string  `json:"key"`
	Scans   int     `json:"scans"`
	AICalls int     `json:"ai_calls"`
	CostUSD float64 `json:"cost_usd"`
}

// CostLedger is spend per user and per provider over a set of scan logs.
type CostLedger struct {
	TotalUSD   float64       `json:"total_usd"`
	ByUser     []LedgerEntry `json:"by_user"`
	ByProvider []LedgerEntry `json:"by_provider"`
}

// User returns the entry for id, or a zero entry.
func (l CostLedger) User(id string) LedgerEntry {
	if id == "" {
		id = AnonymousUser
	}
	for _, e := range l.ByUser {
		if e.Key == id {
			return e
		}
	}
	return LedgerEntry{Key: id}
}

// Ledger derives a cost ledger. Entries are ordered by cost, highest first.
func Ledger(logs []model.ScanLog) CostLedger {
	users := map[string]*LedgerEntry{}
	providers := map[string]*LedgerEntry{}
	var total float64

	for _, l := range logs {
		cost := max(l.CostUSD, 0)
		total += cost

		uid := l.UserID
		if uid == "" {
			uid = AnonymousUser
		}
		u := entry(users, uid)
		u.Scans++
		u.CostUSD += cost

		if l.Tier != model.TierAI {
			continue
		}
		u.AICalls++
		if l.Provider != "" {
			p := entry(providers, string(l.Provider))
			p.Scans++
			p.AICalls++
			p.CostUSD += cost
		}
	}

	return CostLedger{TotalUSD: total, ByUser: sorted(users), ByProvider: sorted(providers)}
}

func entry(m map[string]*LedgerEntry, key string) *LedgerEntry {
	e, ok := m[key]
	if !ok {
		e = &LedgerEntry{Key: key}
		m[key] = e
	}
	return e
}

func sorted(m map[string]*LedgerEntry) []LedgerEntry {
	out := make([]LedgerEntry, 0, len(m))
	for _, e := range m {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CostUSD != out[j].CostUSD {
			return out[i].CostUSD > out[j].CostUSD
		}
		return out[i].Key < out[j].Key
	})
	return out
}
