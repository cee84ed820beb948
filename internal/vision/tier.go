package vision

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/teardown/internal/config"
	"github.com/sells-group/teardown/internal/cost"
	"github.com/sells-group/teardown/internal/fingerprint"
	"github.com/sells-group/teardown/internal/model"
	"github.com/sells-group/teardown/internal/resilience"
)

// ErrNoProvider is returned when neither the preferred nor the default
// provider is registered.
var ErrNoProvider = eris.New("vision: no provider available")

const (
	deviceMaxTokens     = 512
	componentsMaxTokens = 1024
	detailMaxTokens     = 1024
)

// TierConfig bounds every provider call.
type TierConfig struct {
	DefaultProvider model.ProviderName
	Timeout         time.Duration
	MaxTokens       int64
	RetryBackoff    time.Duration
	RateLimit       rate.Limit
	RateBurst       int
	Breaker         resilience.CircuitBreakerConfig
}

// TierConfigFromAI builds a TierConfig from application settings.
func TierConfigFromAI(c config.AIConfig) TierConfig {
	tc := TierConfig{
		DefaultProvider: model.ProviderName(c.DefaultProvider),
		Timeout:         time.Duration(c.TimeoutSecs) * time.Second,
		MaxTokens:       c.MaxTokens,
		RetryBackoff:    time.Duration(c.RetryBackoffMs) * time.Millisecond,
		RateLimit:       rate.Limit(c.RateLimitPerSec),
		RateBurst:       c.RateLimitBurst,
		Breaker:         resilience.FromCircuitSettings(c.BreakerThreshold, c.BreakerResetSecs),
	}
	return tc
}

// Usage is the token accounting of one call.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Call describes the provider call behind a tier answer.
type Call struct {
	Provider model.ProviderName
	Model    string
	Raw      string
	Usage    Usage
	CostUSD  float64
}

// Outcome is the result of a full identification. Result is always
// contract-valid; ErrorKind and Err are set when the call or the parse failed.
type Outcome struct {
	Call
	Result    model.Result
	ErrorKind model.ErrorKind
	Err       error
}

// Tier routes identification prompts to a registered vision provider with
// rate limiting, circuit breaking and a bounded retry.
type Tier struct {
	providers map[model.ProviderName]VisionProvider
	limiters  map[model.ProviderName]*rate.Limiter
	breakers  *resilience.ServiceBreakers
	costs     *cost.Calculator
	cfg       TierConfig
}

// NewTier registers the given providers. The default provider must be one of
// them.
func NewTier(cfg TierConfig, costs *cost.Calculator, providers ...VisionProvider) (*Tier, error) {
	if len(providers) == 0 {
		return nil, ErrNoProvider
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = rate.Inf
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	if costs == nil {
		costs = cost.NewCalculator(cost.DefaultRates())
	}
	bcfg := cfg.Breaker
	bcfg.ShouldTrip = tripsBreaker

	t := &Tier{
		providers: make(map[model.ProviderName]VisionProvider, len(providers)),
		limiters:  make(map[model.ProviderName]*rate.Limiter, len(providers)),
		breakers:  resilience.NewServiceBreakers(bcfg),
		costs:     costs,
		cfg:       cfg,
	}
	for _, p := range providers {
		t.providers[p.Name()] = p
		t.limiters[p.Name()] = rate.NewLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	if _, ok := t.providers[cfg.DefaultProvider]; !ok {
		return nil, eris.Wrapf(ErrNoProvider, "default provider %q is not configured", cfg.DefaultProvider)
	}
	return t, nil
}

// Select returns the preferred provider when registered, otherwise the default.
func (t *Tier) Select(pref model.ProviderName) VisionProvider {
	if p, ok := t.providers[pref]; ok {
		return p
	}
	return t.providers[t.cfg.DefaultProvider]
}

// Providers lists the registered provider names.
func (t *Tier) Providers() []model.ProviderName {
	out := make([]model.ProviderName, 0, len(t.providers))
	for name := range t.providers {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// BreakerStates reports the circuit state per provider.
func (t *Tier) BreakerStates() map[string]string {
	return t.breakers.States()
}

// Identify runs a full identification. It never returns an error; failures
// are reported on the Outcome with an empty-items result.
func (t *Tier) Identify(ctx context.Context, images []fingerprint.Normalized, hint string, pref model.ProviderName) Outcome {
	call, err := t.complete(ctx, pref, Prompt{
		System:    SystemPrompt,
		Text:      IdentifyText(hint),
		Images:    images,
		MaxTokens: t.cfg.MaxTokens,
	})
	out := Outcome{Call: call}
	if err != nil {
		out.ErrorKind = KindOf(err)
		out.Err = err
		out.Result = model.EmptyResult(out.ErrorKind.UserMessage())
		return out
	}

	res, err := ParseResult(call.Raw)
	if err != nil {
		zap.L().Warn("vision: unparseable reply",
			zap.String("provider", string(call.Provider)),
			zap.Error(err),
		)
		out.ErrorKind = model.ErrorParseFailure
		out.Err = err
		out.Result = model.EmptyResult(model.ErrorParseFailure.UserMessage())
		return out
	}
	out.Result = res
	return out
}

// Device asks only for the identity of the pictured device.
func (t *Tier) Device(ctx context.Context, images []fingerprint.Normalized, hint string, pref model.ProviderName) (model.DeviceIdentity, Call, error) {
	call, err := t.complete(ctx, pref, Prompt{
		System:    DeviceSystemPrompt,
		Text:      DeviceText(hint),
		Images:    images,
		MaxTokens: min(t.cfg.MaxTokens, deviceMaxTokens),
	})
	if err != nil {
		return model.DeviceIdentity{}, call, err
	}
	id, err := ParseIdentity(call.Raw)
	return id, call, err
}

// Components lists component names for an identified device.
func (t *Tier) Components(ctx context.Context, id model.DeviceIdentity, pref model.ProviderName) ([]model.ComponentSummary, Call, error) {
	call, err := t.complete(ctx, pref, Prompt{
		System:    ComponentsSystemPrompt,
		Text:      ComponentsText(id),
		MaxTokens: min(t.cfg.MaxTokens, componentsMaxTokens),
	})
	if err != nil {
		return nil, call, err
	}
	list, err := ParseComponentList(call.Raw)
	return list, call, err
}

// Detail describes exactly one component of an identified device.
func (t *Tier) Detail(ctx context.Context, id model.DeviceIdentity, component string, pref model.ProviderName) (model.Item, Call, error) {
	call, err := t.complete(ctx, pref, Prompt{
		System:    DetailSystemPrompt,
		Text:      DetailText(id, component),
		MaxTokens: min(t.cfg.MaxTokens, detailMaxTokens),
	})
	if err != nil {
		return model.Item{}, call, err
	}
	it, err := ParseComponentDetail(call.Raw, component)
	return it, call, err
}

// complete runs one prompt through the rate limiter, circuit breaker and
// retry policy of the selected provider.
func (t *Tier) complete(ctx context.Context, pref model.ProviderName, p Prompt) (Call, error) {
	provider := t.Select(pref)
	name := provider.Name()
	call := Call{Provider: name, Model: provider.Model()}

	limiter := t.limiters[name]
	breaker := t.breakers.Get(string(name))
	retry := resilience.FromRetrySettings(2, int(t.cfg.RetryBackoff.Milliseconds()))
	retry.ShouldRetry = retryable
	retry.OnRetry = resilience.RetryLogger("vision", string(name))

	comp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*Completion, error) {
		if err := limiter.Wait(ctx); err != nil {
			return nil, &ProviderError{Provider: name, Kind: model.ErrorRateLimited, Err: err}
		}
		attemptCtx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()

		c, err := resilience.ExecuteVal(attemptCtx, breaker, func(ctx context.Context) (*Completion, error) {
			return provider.Complete(ctx, p)
		})
		if err == nil {
			return c, nil
		}
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, &ProviderError{Provider: name, Kind: model.ErrorProvider, Err: err}
		}
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &ProviderError{Provider: name, Kind: model.ErrorTimeout, Err: err}
		}
		return nil, Classify(name, 0, err)
	})
	if err != nil {
		return call, err
	}

	if comp.Model != "" {
		call.Model = comp.Model
	}
	call.Raw = comp.Text
	call.Usage = Usage{InputTokens: max(comp.InputTokens, 0), OutputTokens: max(comp.OutputTokens, 0)}
	call.CostUSD = t.costs.Vision(name, call.Model, call.Usage.InputTokens, call.Usage.OutputTokens)
	return call, nil
}

func retryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable()
}

func tripsBreaker(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.CountsAgainstBreaker()
	}
	return true
}
