// Package loader defines the value-loading capability shared by every layer:
// the primary (usually remote) source, the disk fallback, the orchestrator
// composing them and the in-memory cache in front of it all.
package loader

import (
	"context"

	"github.com/cockroachdb/errors"
)

// ErrNotFound is returned by loaders when the source has no value for a key.
var ErrNotFound = errors.New("loader: value not found")

// Loader loads the value for a key.
type Loader[K, V any] interface {
	Load(ctx context.Context, key K) (V, error)
}

// Func adapts an ordinary function into a Loader.
type Func[K, V any] func(ctx context.Context, key K) (V, error)

var _ Loader[string, string] = Func[string, string](nil)

func (f Func[K, V]) Load(ctx context.Context, key K) (V, error) {
	return f(ctx, key)
}

// Decorator extends the behaviour of a Loader by wrapping it.
type Decorator[K, V any] interface {
	Decorate(underlying Loader[K, V]) (Loader[K, V], error)
}

type transformed[K, V, T any] struct {
	underlying Loader[K, V]
	mapper     func(V) (T, error)
}

func (t *transformed[K, V, T]) Load(ctx context.Context, key K) (T, error) {
	v, err := t.underlying.Load(ctx, key)
	if err != nil {
		var zero T
		return zero, err
	}
	return t.mapper(v)
}

// Transform returns a Loader which maps every value produced by underlying
// through mapper. Errors from either step are returned as is.
func Transform[K, V, T any](underlying Loader[K, V], mapper func(V) (T, error)) Loader[K, T] {
	return &transformed[K, V, T]{underlying: underlying, mapper: mapper}
}
