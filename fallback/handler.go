package fallback

import (
	"context"
	"fmt"

	"github.com/agentuity/go-fallback/logger"
	"github.com/cockroachdb/errors"
)

// Keeper persists successfully loaded values so a fallback loader can serve
// them later.
type Keeper[K, V any] interface {
	Keep(ctx context.Context, key K, value V) error
}

// KeeperFunc adapts a function into a Keeper.
type KeeperFunc[K, V any] func(ctx context.Context, key K, value V) error

func (f KeeperFunc[K, V]) Keep(ctx context.Context, key K, value V) error {
	return f(ctx, key, value)
}

// NoKeeping returns a Keeper which discards every value.
func NoKeeping[K, V any]() Keeper[K, V] {
	return KeeperFunc[K, V](func(context.Context, K, V) error { return nil })
}

// KeeperFailedHandler decides what a failing Keep means for a load which
// otherwise succeeded. Returning nil yields the loaded value to the caller;
// returning an error fails the load with that error.
type KeeperFailedHandler[K, V any] interface {
	Handle(key K, value V, cause error) error
}

// HandlerFunc adapts a function into a KeeperFailedHandler.
type HandlerFunc[K, V any] func(key K, value V, cause error) error

func (f HandlerFunc[K, V]) Handle(key K, value V, cause error) error {
	return f(key, value, cause)
}

// LogAsError logs the failure and lets the load succeed. This is the
// appropriate default: failing to write a fallback value should not interfere
// with returning a value that was loaded fine. Investigate if it starts
// happening regularly.
func LogAsError[K, V any](log logger.Logger) KeeperFailedHandler[K, V] {
	return HandlerFunc[K, V](func(key K, _ V, cause error) error {
		log.Error("failed to keep value for key '%v' for use as fallback: %v. "+
			"Still returning the value from the underlying loader. The fallback value will not be "+
			"written again until the next successful load.", key, cause)
		return nil
	})
}

// Rethrow escalates a failed Keep into a failed load. Use it where a
// guaranteed up-to-date fallback matters more than availability.
func Rethrow[K, V any]() KeeperFailedHandler[K, V] {
	return HandlerFunc[K, V](func(key K, value V, cause error) error {
		return &WriteFailedError{Key: key, Value: value, cause: cause}
	})
}

// WriteFailedError is returned by loads using the Rethrow handler when the
// fallback value could not be written.
type WriteFailedError struct {
	Key   any
	Value any
	cause error
}

func (e *WriteFailedError) Error() string {
	return fmt.Sprintf("writing fallback value for key '%v' failed, and the value successfully retrieved "+
		"from the underlying loader will not be returned: %v", e.Key, e.cause)
}

func (e *WriteFailedError) Unwrap() error { return e.cause }

// IsWriteFailed reports whether err carries a WriteFailedError.
func IsWriteFailed(err error) bool {
	var wf *WriteFailedError
	return errors.As(err, &wf)
}
