// Package sqlstore keeps fallback values in a SQLite database instead of one
// file per key. It suits hosts where many processes share the fallback and a
// directory of small files is unwelcome. SQLite's own locking provides
// cross-process exclusion; every Keep is a single upsert statement, so readers
// see either the previous or the new complete value.
package sqlstore

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/agentuity/go-fallback/fallback"
	"github.com/agentuity/go-fallback/loader"
	"github.com/agentuity/go-fallback/logger"
	"github.com/agentuity/go-fallback/marshal"
	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"
)

// ErrNotYetWritten is returned by Load for keys never kept.
var ErrNotYetWritten = errors.New("fallback value not yet written")

// DefaultQueryTimeout bounds every statement so a wedged database file can not
// hang a load forever.
const DefaultQueryTimeout = 5 * time.Second

type config struct {
	queryTimeout time.Duration
	busyTimeout  time.Duration
	log          logger.Logger
}

// Option configures a Store.
type Option func(*config)

// WithQueryTimeout sets the per-statement timeout. Defaults to DefaultQueryTimeout.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithBusyTimeout sets how long a statement waits for another process's
// write lock before failing. Defaults to one second.
func WithBusyTimeout(d time.Duration) Option {
	return func(c *config) { c.busyTimeout = d }
}

// WithLogger sets the logger. Defaults to a console logger.
func WithLogger(log logger.Logger) Option {
	return func(c *config) { c.log = log }
}

// Store is a fallback Keeper and Loader backed by a SQLite table.
type Store[K, V any] struct {
	db         *sql.DB
	path       string
	marshaller marshal.Marshaller[V]
	keyOf      func(K) string
	cfg        config
	once       sync.Once
}

var (
	_ fallback.Keeper[string, string] = (*Store[string, string])(nil)
	_ loader.Loader[string, string]   = (*Store[string, string])(nil)
)

// Open opens or creates the database at path. Keys are stored by their
// default string form.
func Open[K, V any](path string, m marshal.Marshaller[V], opts ...Option) (*Store[K, V], error) {
	cfg := config{queryTimeout: DefaultQueryTimeout, busyTimeout: time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.log == nil {
		cfg.log = logger.NewConsoleLogger()
	}
	if path == "" {
		return nil, errors.New("fallback database path required")
	}

	// pragmas in the DSN apply to every pooled connection
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, cfg.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open fallback database %s", path)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS fallback (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "prepare fallback database %s", path)
	}
	return &Store[K, V]{
		db:         db,
		path:       path,
		marshaller: m,
		keyOf:      func(key K) string { return fmt.Sprint(key) },
		cfg:        cfg,
	}, nil
}

// Keep stores value as the fallback for key.
func (s *Store[K, V]) Keep(ctx context.Context, key K, value V) error {
	var buf bytes.Buffer
	if err := s.marshaller.Marshal(&buf, value); err != nil {
		return errors.Wrapf(err, "marshal value for key '%v'", key)
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.queryTimeout)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fallback (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.keyOf(key), buf.Bytes(), time.Now().UnixMilli(),
	)
	if err != nil {
		return errors.Wrapf(err, "store fallback value for key '%v' in %s", key, s.path)
	}
	return nil
}

// Load returns the last value kept for key.
func (s *Store[K, V]) Load(ctx context.Context, key K) (V, error) {
	var zero V
	ctx, cancel := context.WithTimeout(ctx, s.cfg.queryTimeout)
	defer cancel()
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM fallback WHERE key = ?`, s.keyOf(key)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, errors.Wrapf(ErrNotYetWritten, "no fallback value for key '%v' in %s", key, s.path)
	}
	if err != nil {
		return zero, errors.Wrapf(err, "read fallback value for key '%v' from %s", key, s.path)
	}
	v, err := s.marshaller.Unmarshal(bytes.NewReader(data))
	if err != nil {
		return zero, errors.Wrapf(err, "decode fallback value for key '%v'", key)
	}
	return v, nil
}

// Remove deletes the fallback value for key and reports whether there was one.
func (s *Store[K, V]) Remove(ctx context.Context, key K) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.queryTimeout)
	defer cancel()
	result, err := s.db.ExecContext(ctx, `DELETE FROM fallback WHERE key = ?`, s.keyOf(key))
	if err != nil {
		return false, errors.Wrapf(err, "remove fallback value for key '%v'", key)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// Decorate wraps primary so its values are kept in, and recovered from, this
// store.
func (s *Store[K, V]) Decorate(primary loader.Loader[K, V]) (loader.Loader[K, V], error) {
	return fallback.New(primary, loader.Loader[K, V](s), fallback.Config[K, V]{
		Keeper: s,
		Logger: s.cfg.log,
	}), nil
}

var _ loader.Decorator[string, string] = (*Store[string, string])(nil)

// Close closes the database.
func (s *Store[K, V]) Close() error {
	var err error
	s.once.Do(func() {
		err = s.db.Close()
	})
	return err
}
