// Package catalog resolves identifications against the curated device
// catalog before any paid model call is made.
package catalog

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/teardown/internal/model"
	"github.com/sells-group/teardown/internal/store"
	"github.com/sells-group/teardown/internal/textnorm"
)

// DefaultMinRelevance is the score a candidate must reach to count as a hit.
const DefaultMinRelevance = 0.6

// Store is the subset of store.Store the catalog tier reads.
type Store interface {
	FindDevice(ctx context.Context, brand, modelNumber string) (*model.CatalogDevice, error)
	SearchDevices(ctx context.Context, q store.DeviceQuery) ([]model.CatalogDevice, error)
	ListComponents(ctx context.Context, deviceID string) ([]model.CatalogComponent, error)
	IncrementScanCount(ctx context.Context, deviceID string) error
}

// Hints are the search keys extracted from a free-text hint or a device identity.
type Hints struct {
	Brand  string
	Model  string
	Tokens []string
}

// Empty reports whether there is nothing to search for.
func (h Hints) Empty() bool {
	return len(h.Tokens) == 0 && textnorm.Key(h.Model) == ""
}

// ExtractHints folds and tokenizes a free-text hint.
func ExtractHints(text string) Hints {
	return Hints{Tokens: textnorm.Tokens(text)}
}

// HintsFromIdentity builds hints from a device identity.
func HintsFromIdentity(id model.DeviceIdentity) Hints {
	return Hints{
		Brand:  id.Brand,
		Model:  id.Model,
		Tokens: textnorm.Tokens(strings.Join([]string{id.DeviceName, id.Brand, id.Model}, " ")),
	}
}

// Match is a catalog hit.
type Match struct {
	Device     model.CatalogDevice
	Components []model.CatalogComponent
	Score      float64
	Result     model.Result
}

// Resolver scores catalog candidates against hints.
type Resolver struct {
	st            Store
	minRelevance  float64
	maxCandidates int
	log           *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMinRelevance overrides DefaultMinRelevance.
func WithMinRelevance(v float64) Option {
	return func(r *Resolver) {
		if v > 0 && v <= 1 {
			r.minRelevance = v
		}
	}
}

// WithMaxCandidates caps the prefilter result size.
func WithMaxCandidates(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxCandidates = n
		}
	}
}

// New creates a catalog Resolver.
func New(st Store, opts ...Option) *Resolver {
	r := &Resolver{
		st:            st,
		minRelevance:  DefaultMinRelevance,
		maxCandidates: 20,
		log:           zap.L().With(zap.String("component", "catalog")),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Lookup returns the best catalog match for hints, or nil when no candidate
// reaches the relevance threshold. A hit counts as one catalog answer.
func (r *Resolver) Lookup(ctx context.Context, h Hints) (*Match, error) {
	m, err := r.Match(ctx, h)
	if err != nil || m == nil {
		return nil, err
	}
	if r.RecordHit(ctx, m.Device.ID) {
		m.Device.ScanCount++
	}
	return m, nil
}

// Match is Lookup without counting the hit. Callers that may still reject
// the match record it themselves with RecordHit.
func (r *Resolver) Match(ctx context.Context, h Hints) (*Match, error) {
	dev, score, err := r.Best(ctx, h)
	if err != nil || dev == nil {
		return nil, err
	}

	comps, err := r.st.ListComponents(ctx, dev.ID)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: load components")
	}
	return &Match{
		Device:     *dev,
		Components: comps,
		Score:      score,
		Result:     Reshape(*dev, comps),
	}, nil
}

// RecordHit increments the device's scan count. Failures are logged and
// reported as false.
func (r *Resolver) RecordHit(ctx context.Context, deviceID string) bool {
	if err := r.st.IncrementScanCount(ctx, deviceID); err != nil {
		r.log.Warn("scan count increment failed", zap.String("device_id", deviceID), zap.Error(err))
		return false
	}
	return true
}

// Best returns the top-scoring device above the threshold without side effects.
func (r *Resolver) Best(ctx context.Context, h Hints) (*model.CatalogDevice, float64, error) {
	if h.Empty() {
		return nil, 0, nil
	}

	if textnorm.Key(h.Model) != "" {
		dev, err := r.st.FindDevice(ctx, h.Brand, h.Model)
		if err != nil {
			return nil, 0, eris.Wrap(err, "catalog: find device")
		}
		if dev != nil {
			return dev, 1, nil
		}
	}

	toks := queryTokens(h)
	// One generic keyword ("router") cannot single out a device.
	if len(toks) < 2 && h.Brand == "" {
		return nil, 0, nil
	}

	candidates, err := r.st.SearchDevices(ctx, store.DeviceQuery{
		Brand:  h.Brand,
		Tokens: toks,
		Limit:  r.maxCandidates,
	})
	if err != nil {
		return nil, 0, eris.Wrap(err, "catalog: search devices")
	}

	type scored struct {
		dev   model.CatalogDevice
		score float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, scored{dev: c, score: Relevance(h, c)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].dev.ScanCount > ranked[j].dev.ScanCount
	})

	if len(ranked) == 0 || ranked[0].score < r.minRelevance {
		if len(ranked) > 0 {
			r.log.Debug("best candidate below threshold",
				zap.String("device", ranked[0].dev.DeviceName),
				zap.Float64("score", ranked[0].score),
			)
		}
		return nil, 0, nil
	}
	best := ranked[0].dev
	return &best, ranked[0].score, nil
}

func queryTokens(h Hints) []string {
	toks := append([]string{}, h.Tokens...)
	if k := textnorm.Key(h.Model); k != "" {
		toks = append(toks, k)
	}
	return dedupe(toks)
}

// Relevance is the weighted share of query tokens found on the device. Model
// tokens weigh double.
func Relevance(h Hints, d model.CatalogDevice) float64 {
	have := make(map[string]bool)
	for _, t := range textnorm.Tokens(strings.Join(append([]string{d.DeviceName, d.Brand, d.Model}, d.Aliases...), " ")) {
		have[t] = true
	}
	if k := textnorm.Key(d.Model); k != "" {
		have[k] = true
	}

	modelToks := make(map[string]bool)
	for _, t := range textnorm.Tokens(h.Model) {
		modelToks[t] = true
	}
	if k := textnorm.Key(h.Model); k != "" {
		modelToks[k] = true
	}

	var total, hit float64
	for _, t := range queryTokens(h) {
		w := 1.0
		if modelToks[t] {
			w = 2
		}
		total += w
		if have[t] {
			hit += w
		}
	}
	if total == 0 {
		return 0
	}
	return hit / total
}

// Reshape turns a catalog device and its components into a result.
func Reshape(d model.CatalogDevice, comps []model.CatalogComponent) model.Result {
	conf := d.ConfidenceScore
	if conf <= 0 {
		conf = 0.8
		if d.Verified {
			conf = 1
		}
	}
	conf = min(conf, 1)

	res := model.EmptyResult("")
	res.ParentObject = d.DeviceName
	if d.Difficulty.Valid() {
		res.SalvageDifficulty = d.Difficulty
	}
	if len(d.ToolsNeeded) > 0 {
		res.ToolsNeeded = append([]string{}, d.ToolsNeeded...)
	}
	for _, c := range comps {
		res.Items = append(res.Items, ItemFromComponent(c, conf))
	}
	res.TotalEstimatedValueLow, res.TotalEstimatedValueHigh = res.Totals()
	return res
}

// ItemFromComponent converts one catalog component into a result item.
func ItemFromComponent(c model.CatalogComponent, confidence float64) model.Item {
	specs := c.Specifications
	if specs == nil {
		specs = map[string]any{}
	}
	uses := c.CommonUses
	if uses == nil {
		uses = []string{}
	}
	return model.Item{
		ComponentName:    c.Name,
		Category:         c.Category,
		Specifications:   specs,
		ReusabilityScore: c.ReusabilityScore,
		MarketValueLow:   c.MarketValueLow,
		MarketValueHigh:  c.MarketValueHigh,
		Condition:        model.ConditionGood,
		Confidence:       confidence,
		Description:      c.Description,
		CommonUses:       uses,
		Quantity:         max(c.Quantity, 1),
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
