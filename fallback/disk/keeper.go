package disk

import (
	"context"
	"io"

	"github.com/agentuity/go-fallback/fallback"
	"github.com/agentuity/go-fallback/loader"
	"github.com/agentuity/go-fallback/logger"
	"github.com/agentuity/go-fallback/marshal"
	"github.com/cockroachdb/errors"
)

// Keeper writes values to their fallback files. Writing is skipped when
// another writer holds the file's lock, as an equivalent or newer value is
// presumably being written.
type Keeper[K, V any] struct {
	resolver   *Resolver[K]
	marshaller marshal.Marshaller[V]
	log        logger.Logger
}

var _ fallback.Keeper[string, string] = (*Keeper[string, string])(nil)

// NewKeeper returns a Keeper writing through resolver with m.
func NewKeeper[K, V any](resolver *Resolver[K], m marshal.Marshaller[V]) *Keeper[K, V] {
	return &Keeper[K, V]{resolver: resolver, marshaller: m, log: resolver.cfg.log}
}

// Keep persists value as the fallback for key.
func (k *Keeper[K, V]) Keep(_ context.Context, key K, value V) error {
	file, err := k.resolver.Resolve(key)
	if err != nil {
		return err
	}
	ran, err := file.Lock().RunIfLocked(func() error {
		w, err := file.Write()
		if err != nil {
			return err
		}
		if err := k.marshaller.Marshal(w, value); err != nil {
			w.Abort()
			return errors.Wrapf(err, "marshal value for %s", file.Path())
		}
		return w.Close()
	})
	if !ran && err == nil {
		k.log.Debug("skipped writing fallback value for key '%v', another writer holds %s", key, file.Lock().LockPath())
	}
	return err
}

// Loader reads values from their fallback files. It is meant to be used only
// when the primary loader fails.
type Loader[K, V any] struct {
	resolver   *Resolver[K]
	marshaller marshal.Marshaller[V]
}

var _ loader.Loader[string, string] = (*Loader[string, string])(nil)

// NewLoader returns a Loader reading through resolver with m.
func NewLoader[K, V any](resolver *Resolver[K], m marshal.Marshaller[V]) *Loader[K, V] {
	return &Loader[K, V]{resolver: resolver, marshaller: m}
}

// Load reads the last persisted value for key. It fails with ErrNotYetWritten
// if nothing was ever persisted.
func (l *Loader[K, V]) Load(_ context.Context, key K) (V, error) {
	var zero V
	file, err := l.resolver.Resolve(key)
	if err != nil {
		return zero, err
	}
	r, err := file.Read()
	if err != nil {
		return zero, err
	}
	defer r.Close()
	v, err := l.marshaller.Unmarshal(r)
	if err != nil {
		return zero, errors.Wrapf(err, "read %s", file)
	}
	return v, nil
}

// ReadRaw returns the persisted bytes for key without unmarshalling them.
func ReadRaw[K any](resolver *Resolver[K], key K) ([]byte, error) {
	file, err := resolver.Resolve(key)
	if err != nil {
		return nil, err
	}
	r, err := file.Read()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
