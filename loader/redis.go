package loader

import (
	"bytes"
	"context"
	"time"

	"github.com/agentuity/go-fallback/marshal"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// DefaultQueryTimeout bounds every Redis round trip made by the Redis loader.
const DefaultQueryTimeout = 5 * time.Second

type redisConfig struct {
	queryTimeout time.Duration
	prefix       string
}

// RedisOption configures the Redis loader.
type RedisOption func(*redisConfig)

// WithQueryTimeout sets the per-operation timeout. Defaults to DefaultQueryTimeout.
func WithQueryTimeout(d time.Duration) RedisOption {
	return func(c *redisConfig) { c.queryTimeout = d }
}

// WithPrefix namespaces the keys read by the loader as "<prefix>:<key>".
func WithPrefix(p string) RedisOption {
	return func(c *redisConfig) { c.prefix = p }
}

// Redis is a primary loader reading marshalled values from Redis strings.
// The caller owns the redis.Client lifecycle.
type Redis[V any] struct {
	client     redis.UniversalClient
	marshaller marshal.Marshaller[V]
	cfg        redisConfig
}

var _ Loader[string, string] = (*Redis[string])(nil)

// NewRedis returns a loader for values stored in Redis and encoded with m.
func NewRedis[V any](client redis.UniversalClient, m marshal.Marshaller[V], opts ...RedisOption) *Redis[V] {
	cfg := redisConfig{queryTimeout: DefaultQueryTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Redis[V]{client: client, marshaller: m, cfg: cfg}
}

func (r *Redis[V]) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.queryTimeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, r.cfg.queryTimeout)
}

func (r *Redis[V]) prefixKey(key string) string {
	if r.cfg.prefix == "" {
		return key
	}
	return r.cfg.prefix + ":" + key
}

// Load fetches and decodes the value for key. A missing key yields ErrNotFound.
func (r *Redis[V]) Load(ctx context.Context, key string) (V, error) {
	var zero V
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	k := r.prefixKey(key)
	data, err := r.client.Get(qctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, errors.Wrapf(ErrNotFound, "redis key %q", k)
	}
	if err != nil {
		return zero, errors.Wrapf(err, "redis get %q", k)
	}
	v, err := r.marshaller.Unmarshal(bytes.NewReader(data))
	if err != nil {
		return zero, errors.Wrapf(err, "decode redis key %q", k)
	}
	return v, nil
}

// Put encodes and stores a value for key. A ttl <= 0 stores without expiry.
func (r *Redis[V]) Put(ctx context.Context, key string, v V, ttl time.Duration) error {
	var buf bytes.Buffer
	if err := r.marshaller.Marshal(&buf, v); err != nil {
		return err
	}
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	if ttl < 0 {
		ttl = 0
	}
	k := r.prefixKey(key)
	if err := r.client.Set(qctx, k, buf.Bytes(), ttl).Err(); err != nil {
		return errors.Wrapf(err, "redis set %q", k)
	}
	return nil
}
