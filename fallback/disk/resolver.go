package disk

import (
	"path/filepath"
)

// Resolver maps cache keys to fallback files inside a fixed directory.
type Resolver[K any] struct {
	dir    string
	naming NamingStrategy[K]
	cfg    config
}

// NewResolver returns a Resolver placing files in dir, named by naming.
func NewResolver[K any](dir string, naming NamingStrategy[K], opts ...Option) *Resolver[K] {
	return newResolver(dir, naming, applyOptions(opts))
}

func newResolver[K any](dir string, naming NamingStrategy[K], cfg config) *Resolver[K] {
	if naming == nil {
		panic("disk: naming strategy is required")
	}
	return &Resolver[K]{dir: dir, naming: naming, cfg: cfg}
}

// Dir returns the fallback directory.
func (r *Resolver[K]) Dir() string { return r.dir }

// Resolve returns a new File for key. It fails only if the naming strategy
// produced a name that can not live in the directory.
func (r *Resolver[K]) Resolve(key K) (*File, error) {
	name := r.naming.FileName(key)
	if err := validateFileName(name); err != nil {
		return nil, err
	}
	return newFile(filepath.Join(r.dir, name), r.cfg), nil
}
