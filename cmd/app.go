package main

import (
	"context"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/teardown/internal/cache"
	"github.com/sells-group/teardown/internal/catalog"
	"github.com/sells-group/teardown/internal/config"
	"github.com/sells-group/teardown/internal/cost"
	"github.com/sells-group/teardown/internal/disclosure"
	"github.com/sells-group/teardown/internal/fingerprint"
	"github.com/sells-group/teardown/internal/resolver"
	"github.com/sells-group/teardown/internal/review"
	"github.com/sells-group/teardown/internal/store"
	"github.com/sells-group/teardown/internal/telemetry"
	"github.com/sells-group/teardown/internal/vision"
	anthropicpkg "github.com/sells-group/teardown/pkg/anthropic"
	"github.com/sells-group/teardown/pkg/openai"
)

// appEnv holds the wired engine used by the serve and identify commands.
type appEnv struct {
	Store    store.Store
	Tier     *vision.Tier
	Recorder *telemetry.Recorder
	Resolver *resolver.Engine
	Stages   *disclosure.Controller
	Reviews  *review.Workflow

	closers []func() error
}

// Close flushes pending scan logs and releases clients in reverse order.
func (e *appEnv) Close() {
	if e.Recorder != nil {
		e.Recorder.Close()
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("close failed", zap.Error(err))
		}
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "teardown.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the configured store.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initCache builds the result cache on the configured backend. The returned
// closer is nil when the backend owns no connection.
func initCache(ctx context.Context, st store.Store) (*cache.Resolver, func() error, error) {
	switch cfg.Cache.Backend {
	case "", "store":
		return cache.New(cache.NewStoreBackend(st)), nil, nil
	case "redis":
		client, err := cache.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		return cache.New(cache.NewRedisBackend(client, cfg.Redis.Prefix)), client.Close, nil
	default:
		return nil, nil, eris.Errorf("unsupported cache backend: %s", cfg.Cache.Backend)
	}
}

// buildProviders creates a vision provider for every configured API key.
func buildProviders(ctx context.Context) ([]vision.VisionProvider, []func() error, error) {
	var (
		providers []vision.VisionProvider
		closers   []func() error
	)

	if cfg.OpenAI.Key != "" {
		client := openai.NewClient(cfg.OpenAI.Key, openai.WithBaseURL(cfg.OpenAI.BaseURL), openai.WithModel(cfg.OpenAI.Model))
		providers = append(providers, vision.NewOpenAI(client, cfg.OpenAI.Model))
	}

	if cfg.Anthropic.Key != "" {
		var opts []option.RequestOption
		if cfg.Anthropic.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.Anthropic.BaseURL))
		}
		client := anthropicpkg.NewClient(cfg.Anthropic.Key, opts...)
		providers = append(providers, vision.NewClaude(client, cfg.Anthropic.Model))
	}

	if cfg.Gemini.Key != "" {
		g, err := vision.NewGemini(ctx, cfg.Gemini.Key, cfg.Gemini.Model)
		if err != nil {
			return nil, nil, err
		}
		providers = append(providers, g)
		closers = append(closers, g.Close)
	}

	if len(providers) == 0 {
		return nil, nil, eris.New("no vision provider configured (set TEARDOWN_OPENAI_KEY, TEARDOWN_ANTHROPIC_KEY or TEARDOWN_GEMINI_KEY)")
	}
	return providers, closers, nil
}

func newCatalog(st store.Store) *catalog.Resolver {
	return catalog.New(st,
		catalog.WithMinRelevance(cfg.Catalog.MinRelevance),
		catalog.WithMaxCandidates(cfg.Catalog.MaxCandidates),
	)
}

func imageLimits(c config.ImagesConfig) fingerprint.Limits {
	return fingerprint.Limits{MaxBytes: c.MaxBytes, MaxCount: c.MaxCount}
}

// initApp validates configuration for mode and wires the store, the three
// resolution tiers, telemetry and the review workflow. Callers should defer
// env.Close().
func initApp(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st, closers: []func() error{st.Close}}

	results, closeCache, err := initCache(ctx, st)
	if err != nil {
		env.Close()
		return nil, err
	}
	if closeCache != nil {
		env.closers = append(env.closers, closeCache)
	}

	providers, providerClosers, err := buildProviders(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.closers = append(env.closers, providerClosers...)

	tier, err := vision.NewTier(vision.TierConfigFromAI(cfg.AI), cost.NewCalculator(cost.RatesFromConfig(cfg.Pricing)), providers...)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Tier = tier

	env.Recorder = telemetry.NewRecorder(st, telemetry.Options{
		Workers:      cfg.Telemetry.Workers,
		QueueSize:    cfg.Telemetry.QueueSize,
		WriteTimeout: time.Duration(cfg.Telemetry.WriteTimeoutSecs) * time.Second,
	})

	cat := newCatalog(st)
	limits := imageLimits(cfg.Images)
	// The detached model call gets one retry on top of the provider timeout.
	aiTimeout := 2*time.Duration(cfg.AI.TimeoutSecs)*time.Second + 10*time.Second

	env.Resolver = resolver.New(resolver.Deps{
		Cache:     results,
		Catalog:   cat,
		Vision:    tier,
		Recorder:  env.Recorder,
		Limits:    limits,
		AITimeout: aiTimeout,
	})
	env.Stages = disclosure.New(disclosure.Deps{
		Stages:    st,
		Catalog:   cat,
		Vision:    tier,
		Recorder:  env.Recorder,
		Limits:    limits,
		AITimeout: aiTimeout,
	})
	env.Reviews = review.New(st, review.PolicyFromConfig(cfg.Review))

	zap.L().Info("engine ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("cache", cfg.Cache.Backend),
		zap.Any("providers", tier.Providers()),
	)
	return env, nil
}
