package cache

import (
	"context"

	"github.com/agentuity/go-fallback/loader"
)

// Single caches one value, such as a configuration document or a token.
type Single[V any] struct {
	cache  *Cache[struct{}, V]
	loader loader.Loader[struct{}, V]
}

// NewSingle returns a Single loading its value with load.
func NewSingle[V any](parent context.Context, load func(ctx context.Context) (V, error), opts ...Option) *Single[V] {
	return &Single[V]{
		cache: New[struct{}, V](parent, opts...),
		loader: loader.Func[struct{}, V](func(ctx context.Context, _ struct{}) (V, error) {
			return load(ctx)
		}),
	}
}

// Get returns the cached value, loading it if absent or expired.
func (s *Single[V]) Get(ctx context.Context) (V, error) {
	return s.cache.Get(ctx, struct{}{}, s.loader)
}

// Invalidate drops the cached value.
func (s *Single[V]) Invalidate() {
	s.cache.InvalidateAll()
}

// Stats returns a snapshot of the counters.
func (s *Single[V]) Stats() Stats {
	return s.cache.Stats()
}

// Close stops the background sweep.
func (s *Single[V]) Close() error {
	return s.cache.Close()
}
