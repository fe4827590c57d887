package disk

import (
	"time"

	"github.com/agentuity/go-fallback/logger"
)

// DefaultMaxLockDuration is how long a lock marker may exist before it is
// considered abandoned by a crashed writer and may be removed by others.
const DefaultMaxLockDuration = 10 * time.Minute

type config struct {
	maxLockDuration time.Duration
	now             func() time.Time
	log             logger.Logger
}

// Option configures the disk fallback components.
type Option func(*config)

func defaultConfig() config {
	return config{
		maxLockDuration: DefaultMaxLockDuration,
		now:             time.Now,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.log == nil {
		cfg.log = logger.NewConsoleLogger()
	}
	return cfg
}

// WithMaxLockDuration sets the age after which a lock marker is considered
// expired. Defaults to DefaultMaxLockDuration.
func WithMaxLockDuration(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.maxLockDuration = d
		}
	}
}

// WithClock sets the time source used to judge lock expiry and name temp files.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger. Defaults to a console logger.
func WithLogger(log logger.Logger) Option {
	return func(c *config) { c.log = log }
}
