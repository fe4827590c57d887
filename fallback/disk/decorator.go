package disk

import (
	"os"

	"github.com/agentuity/go-fallback/fallback"
	"github.com/agentuity/go-fallback/loader"
	"github.com/agentuity/go-fallback/marshal"
	"github.com/cockroachdb/errors"
)

// Decorator wraps loaders with a disk fallback: every value a wrapped loader
// produces is kept in dir, and served from there when the loader fails.
type Decorator[K, V any] struct {
	dir          string
	naming       NamingStrategy[K]
	marshaller   marshal.Marshaller[V]
	onKeepFailed fallback.KeeperFailedHandler[K, V]
	cfg          config
}

var _ loader.Decorator[string, string] = (*Decorator[string, string])(nil)

// NewDecorator returns a Decorator keeping values in dir. Failing writes are
// logged as errors unless OnKeepFailed says otherwise.
func NewDecorator[K, V any](dir string, naming NamingStrategy[K], m marshal.Marshaller[V], opts ...Option) *Decorator[K, V] {
	cfg := applyOptions(opts)
	return &Decorator[K, V]{
		dir:          dir,
		naming:       naming,
		marshaller:   m,
		onKeepFailed: fallback.LogAsError[K, V](cfg.log),
		cfg:          cfg,
	}
}

// OnKeepFailed replaces the handler for failing fallback writes.
func (d *Decorator[K, V]) OnKeepFailed(h fallback.KeeperFailedHandler[K, V]) *Decorator[K, V] {
	d.onKeepFailed = h
	return d
}

// Decorate prepares the fallback directory and wraps underlying.
func (d *Decorator[K, V]) Decorate(underlying loader.Loader[K, V]) (loader.Loader[K, V], error) {
	if err := prepareDir(d.dir); err != nil {
		return nil, err
	}
	resolver := newResolver(d.dir, d.naming, d.cfg)
	return fallback.New(underlying, loader.Loader[K, V](NewLoader(resolver, d.marshaller)), fallback.Config[K, V]{
		Keeper:       NewKeeper(resolver, d.marshaller),
		OnKeepFailed: d.onKeepFailed,
		Logger:       d.cfg.log,
	}), nil
}

func prepareDir(dir string) error {
	if dir == "" {
		return errors.New("fallback directory required")
	}
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		return errors.Newf("%s should either be non-existing or a directory, but refers to an existing file", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "unable to prepare the directory to store values for fallback")
	}
	return nil
}
