// Package resolver answers identification requests from the cheapest tier
// that can: the fingerprint cache, then the catalog, then a vision model.
package resolver

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/teardown/internal/cache"
	"github.com/sells-group/teardown/internal/catalog"
	"github.com/sells-group/teardown/internal/fingerprint"
	"github.com/sells-group/teardown/internal/model"
	"github.com/sells-group/teardown/internal/vision"
)

// Cache is the exact-match tier.
type Cache interface {
	Lookup(ctx context.Context, fingerprint string) (*model.Result, bool)
	Store(ctx context.Context, fingerprint string, result model.Result) cache.StoreOutcome
}

// Catalog is the curated tier.
type Catalog interface {
	Lookup(ctx context.Context, h catalog.Hints) (*catalog.Match, error)
}

// Vision is the paid tier.
type Vision interface {
	Identify(ctx context.Context, images []fingerprint.Normalized, hint string, pref model.ProviderName) vision.Outcome
}

// Recorder receives one scan log per resolution.
type Recorder interface {
	Record(entry model.ScanLog)
}

// Deps are the collaborators of an Engine. Every field except Catalog and
// Recorder is required.
type Deps struct {
	Cache    Cache
	Catalog  Catalog
	Vision   Vision
	Recorder Recorder
	Limits   fingerprint.Limits
	// AITimeout bounds the model call, which is detached from the caller's
	// cancellation so a paid answer is still cached.
	AITimeout time.Duration
	Now       func() time.Time
}

// Engine runs the tiered resolution.
type Engine struct {
	deps Deps
	log  *zap.Logger
}

// New creates an Engine.
func New(deps Deps) *Engine {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.AITimeout <= 0 {
		deps.AITimeout = 2 * time.Minute
	}
	return &Engine{deps: deps, log: zap.L().With(zap.String("component", "resolver"))}
}

// Resolve identifies the pictured object. It always returns a well-formed
// response; failures are reported through ErrorKind and Message.
func (e *Engine) Resolve(ctx context.Context, req model.IdentificationRequest) *model.Response {
	timer := model.StartTimer(e.deps.Now())
	entry := model.ScanLog{Stage: model.StageFull, UserID: req.UserID}

	images, err := fingerprint.Normalize(ctx, req.Images, e.deps.Limits)
	timer.Mark("normalize", e.deps.Now())
	if err != nil {
		e.log.Info("rejected request", zap.Error(err))
		resp := &model.Response{
			Result:    model.EmptyResult(model.ErrorInvalidRequest.UserMessage()),
			ErrorKind: model.ErrorInvalidRequest,
		}
		e.record(entry, timer, resp, nil)
		return resp
	}
	fp := fingerprint.Generate(images)
	entry.Fingerprint = fp

	if res, ok := e.deps.Cache.Lookup(ctx, fp); ok {
		timer.Mark("cache", e.deps.Now())
		resp := &model.Response{Result: *res, Tier: model.TierCache, Fingerprint: fp}
		e.record(entry, timer, resp, nil)
		return resp
	}
	timer.Mark("cache", e.deps.Now())

	if resp := e.fromCatalog(ctx, req.Hint, fp); resp != nil {
		timer.Mark("catalog", e.deps.Now())
		resp.Result = e.keep(context.WithoutCancel(ctx), fp, resp.Result)
		e.record(entry, timer, resp, nil)
		return resp
	}
	timer.Mark("catalog", e.deps.Now())

	aiCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.deps.AITimeout)
	defer cancel()
	out := e.deps.Vision.Identify(aiCtx, images, req.Hint, req.Provider)
	timer.Mark("ai", e.deps.Now())

	resp := &model.Response{
		Result:      out.Result,
		Tier:        model.TierAI,
		Fingerprint: fp,
		Provider:    out.Provider,
		ErrorKind:   out.ErrorKind,
	}
	if out.ErrorKind == model.ErrorParseFailure {
		resp.RawResponse = out.Raw
	}
	if out.ErrorKind == model.ErrorNone {
		resp.Result = e.keep(context.WithoutCancel(ctx), fp, resp.Result)
	}
	e.record(entry, timer, resp, &out.Call)
	return resp
}

// keep caches res under fp and returns what the cache holds afterwards. When a
// concurrent request stored first, its result is returned instead of res.
func (e *Engine) keep(ctx context.Context, fp string, res model.Result) model.Result {
	if e.deps.Cache.Store(ctx, fp, res) != cache.AlreadyExists {
		return res
	}
	stored, ok := e.deps.Cache.Lookup(ctx, fp)
	if !ok {
		return res
	}
	e.log.Debug("lost cache race, returning stored result", zap.String("fingerprint", fp))
	return *stored
}

func (e *Engine) fromCatalog(ctx context.Context, hint, fp string) *model.Response {
	if e.deps.Catalog == nil {
		return nil
	}
	h := catalog.ExtractHints(hint)
	if h.Empty() {
		return nil
	}
	m, err := e.deps.Catalog.Lookup(ctx, h)
	if err != nil {
		e.log.Warn("catalog lookup failed, falling through", zap.Error(err))
		return nil
	}
	if m == nil {
		return nil
	}
	return &model.Response{
		Result:      m.Result,
		Tier:        model.TierDatabase,
		Fingerprint: fp,
		Verified:    m.Device.Verified,
		DeviceID:    m.Device.ID,
	}
}

func (e *Engine) record(entry model.ScanLog, timer *model.Timer, resp *model.Response, call *vision.Call) {
	if e.deps.Recorder == nil {
		return
	}
	entry.Tier = resp.Tier
	entry.StageTimings = timer.Stages()
	entry.LatencyMS = timer.Total(e.deps.Now())
	entry.Success = resp.ErrorKind == model.ErrorNone
	entry.ErrorKind = resp.ErrorKind
	if call != nil {
		entry.Provider = call.Provider
		entry.Model = call.Model
		entry.InputTokens = call.Usage.InputTokens
		entry.OutputTokens = call.Usage.OutputTokens
		entry.CostUSD = call.CostUSD
	}
	e.deps.Recorder.Record(entry)
}
