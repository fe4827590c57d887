package resilience

import (
	"context"

	"github.com/agentuity/go-fallback/loader"
)

// Decorate protects l with cb. While the circuit is open loads fail with
// ErrCircuitBreakerOpen without calling l, which a fallback-protected loader
// treats like any other primary failure.
func Decorate[K, V any](l loader.Loader[K, V], cb *CircuitBreaker) loader.Loader[K, V] {
	return loader.Func[K, V](func(ctx context.Context, key K) (V, error) {
		var value V
		err := cb.Execute(ctx, func() error {
			var err error
			value, err = l.Load(ctx, key)
			return err
		})
		if err != nil {
			var zero V
			return zero, err
		}
		return value, nil
	})
}

// Retrying retries failing loads of l according to config.
func Retrying[K, V any](l loader.Loader[K, V], config RetryConfig) loader.Loader[K, V] {
	return loader.Func[K, V](func(ctx context.Context, key K) (V, error) {
		var value V
		err := Retry(ctx, config, func() error {
			var err error
			value, err = l.Load(ctx, key)
			return err
		})
		if err != nil {
			var zero V
			return zero, err
		}
		return value, nil
	})
}
