// Package cache is the exact-match result tier: one immutable result per
// image fingerprint, first writer wins.
package cache

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/teardown/internal/model"
)

// Backend persists cached results.
type Backend interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, fingerprint string) (*model.Result, error)
	// PutIfAbsent reports whether this call created the entry.
	PutIfAbsent(ctx context.Context, fingerprint string, result model.Result) (bool, error)
	Name() string
}

// StoreOutcome describes what happened to a cache write.
type StoreOutcome string

const (
	Stored        StoreOutcome = "stored"
	AlreadyExists StoreOutcome = "already_exists"
	Failed        StoreOutcome = "failed"
)

// Resolver answers lookups from a Backend and never surfaces backend errors.
type Resolver struct {
	backend Backend
	log     *zap.Logger
}

// New creates a Resolver over backend.
func New(backend Backend) *Resolver {
	return &Resolver{
		backend: backend,
		log:     zap.L().With(zap.String("component", "cache"), zap.String("backend", backend.Name())),
	}
}

// Lookup returns the cached result for fingerprint. Backend errors are
// logged and treated as a miss.
func (r *Resolver) Lookup(ctx context.Context, fingerprint string) (*model.Result, bool) {
	if fingerprint == "" {
		return nil, false
	}
	res, err := r.backend.Get(ctx, fingerprint)
	if err != nil {
		r.log.Warn("cache lookup failed, treating as miss", zap.String("fingerprint", fingerprint), zap.Error(err))
		return nil, false
	}
	if res == nil {
		return nil, false
	}
	if res.Items == nil {
		res.Items = []model.Item{}
	}
	return res, true
}

// Store writes result under fingerprint unless an entry exists. A lost race
// is AlreadyExists; backend errors are logged and reported as Failed.
func (r *Resolver) Store(ctx context.Context, fingerprint string, result model.Result) StoreOutcome {
	if fingerprint == "" {
		return Failed
	}
	created, err := r.backend.PutIfAbsent(ctx, fingerprint, result)
	if err != nil {
		r.log.Error("cache store failed", zap.String("fingerprint", fingerprint), zap.Error(err))
		return Failed
	}
	if !created {
		r.log.Debug("cache entry already exists", zap.String("fingerprint", fingerprint))
		return AlreadyExists
	}
	return Stored
}
