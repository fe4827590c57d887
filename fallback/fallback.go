package fallback

import (
	"context"

	"github.com/agentuity/go-fallback/loader"
	"github.com/agentuity/go-fallback/logger"
	"github.com/cockroachdb/errors"
)

// Config is the per-instance configuration of a LoaderWithFallback.
type Config[K, V any] struct {
	// Keeper receives every value the primary loader produces. Defaults to NoKeeping.
	Keeper Keeper[K, V]
	// OnKeepFailed is consulted when Keeper fails. Defaults to LogAsError.
	OnKeepFailed KeeperFailedHandler[K, V]
	// Logger defaults to a console logger.
	Logger logger.Logger
}

// LoaderWithFallback tries a primary loader and, should it fail, a fallback
// loader. The fallback is usually paired with a Keeper which stores every
// successfully loaded value for the fallback loader to retrieve.
//
// Fallback values never expire. If keeping starts to fail the fallback may
// become outdated and stays so until a Keep succeeds again.
type LoaderWithFallback[K, V any] struct {
	primary      loader.Loader[K, V]
	fallback     loader.Loader[K, V]
	keeper       Keeper[K, V]
	onKeepFailed KeeperFailedHandler[K, V]
	log          logger.Logger
}

var _ loader.Loader[string, string] = (*LoaderWithFallback[string, string])(nil)

// New returns a LoaderWithFallback composing primary and fallback.
func New[K, V any](primary, fallback loader.Loader[K, V], cfg Config[K, V]) *LoaderWithFallback[K, V] {
	if primary == nil || fallback == nil {
		panic("fallback: primary and fallback loaders are required")
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewConsoleLogger()
	}
	keeper := cfg.Keeper
	if keeper == nil {
		keeper = NoKeeping[K, V]()
	}
	onKeepFailed := cfg.OnKeepFailed
	if onKeepFailed == nil {
		onKeepFailed = LogAsError[K, V](log)
	}
	return &LoaderWithFallback[K, V]{
		primary:      primary,
		fallback:     fallback,
		keeper:       keeper,
		onKeepFailed: onKeepFailed,
		log:          log.WithPrefix("[fallback]"),
	}
}

// Load returns the primary loader's value, keeping it for later fallback use.
// If the primary fails the fallback value is returned instead. If that fails
// too, the primary error is returned with the fallback error attached as a
// secondary error.
func (l *LoaderWithFallback[K, V]) Load(ctx context.Context, key K) (V, error) {
	value, err := l.primary.Load(ctx, key)
	if err != nil {
		return l.tryRecover(ctx, key, err)
	}
	if keepErr := l.keeper.Keep(ctx, key, value); keepErr != nil {
		if handlerErr := l.onKeepFailed.Handle(key, value, keepErr); handlerErr != nil {
			var zero V
			return zero, handlerErr
		}
	}
	return value, nil
}

func (l *LoaderWithFallback[K, V]) tryRecover(ctx context.Context, key K, primaryErr error) (V, error) {
	l.log.Warn("failed to load value for key '%v' from the underlying loader: %v. "+
		"Attempting to load from fallback. Enable debug level to see details.", key, primaryErr)
	if l.log.IsDebugEnabled() {
		l.log.Debug("details of failing load for key '%v': %+v", key, primaryErr)
	}

	value, fallbackErr := l.fallback.Load(ctx, key)
	if fallbackErr != nil {
		l.log.Warn("loading value for key '%v' failed: %v, and reading the fallback value also failed: %v",
			key, primaryErr, fallbackErr)
		var zero V
		return zero, errors.WithSecondaryError(primaryErr, fallbackErr)
	}
	return value, nil
}
