package cache

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/teardown/internal/model"
)

// ResultStore is the subset of store.Store the store backend needs.
type ResultStore interface {
	GetCachedResult(ctx context.Context, fingerprint string) (*model.Result, error)
	PutCachedResult(ctx context.Context, fingerprint string, result model.Result) (bool, error)
}

// StoreBackend keeps results in the result_cache table.
type StoreBackend struct {
	st ResultStore
}

// NewStoreBackend wraps a result store.
func NewStoreBackend(st ResultStore) *StoreBackend {
	return &StoreBackend{st: st}
}

func (b *StoreBackend) Name() string { return "store" }

func (b *StoreBackend) Get(ctx context.Context, fingerprint string) (*model.Result, error) {
	return b.st.GetCachedResult(ctx, fingerprint)
}

func (b *StoreBackend) PutIfAbsent(ctx context.Context, fingerprint string, result model.Result) (bool, error) {
	return b.st.PutCachedResult(ctx, fingerprint, result)
}

// RedisBackend keeps results in Redis under <prefix>:result:<fingerprint>
// with no expiry.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisBackend wraps a connected client. An empty prefix defaults to "teardown".
func NewRedisBackend(client redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "teardown"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "cache: connect redis %s", addr)
	}
	return client, nil
}

func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) key(fingerprint string) string {
	return b.prefix + ":result:" + fingerprint
}

func (b *RedisBackend) Get(ctx context.Context, fingerprint string) (*model.Result, error) {
	raw, err := b.client.Get(ctx, b.key(fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "cache: redis get")
	}
	var r model.Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, eris.Wrap(err, "cache: decode redis entry")
	}
	return &r, nil
}

func (b *RedisBackend) PutIfAbsent(ctx context.Context, fingerprint string, result model.Result) (bool, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return false, eris.Wrap(err, "cache: encode result")
	}
	ok, err := b.client.SetNX(ctx, b.key(fingerprint), raw, 0).Result()
	if err != nil {
		return false, eris.Wrap(err, "cache: redis setnx")
	}
	return ok, nil
}
