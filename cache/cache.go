package cache

import (
	"time"

	"github.com/agentuity/go-fallback/logger"
	"github.com/google/uuid"
)

// DefaultExpireAfterWrite is how long a loaded value is served before it is
// loaded again.
const DefaultExpireAfterWrite = 5 * time.Minute

// DefaultExpiryCheck is the interval of the background sweep removing
// expired entries.
const DefaultExpiryCheck = time.Minute

// config holds the resolved configuration of a cache.
type config struct {
	name              string
	expireAfterWrite  time.Duration
	expireAfterAccess time.Duration
	maximumSize       int
	expiryCheck       time.Duration
	now               func() time.Time
	log               logger.Logger
}

// Option configures a Cache.
type Option func(*config)

func defaultConfig() config {
	return config{
		expireAfterWrite: DefaultExpireAfterWrite,
		expiryCheck:      DefaultExpiryCheck,
		now:              time.Now,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.name == "" {
		cfg.name = "cache-" + uuid.NewString()
	}
	if cfg.log == nil {
		cfg.log = logger.NewConsoleLogger()
	}
	return cfg
}

// WithName names the cache in log output. Defaults to a random name.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithExpireAfterWrite expires entries d after they were loaded. Zero or less
// disables write expiry. Defaults to DefaultExpireAfterWrite.
func WithExpireAfterWrite(d time.Duration) Option {
	return func(c *config) { c.expireAfterWrite = d }
}

// WithExpireAfterAccess expires entries not read for d. Disabled by default.
func WithExpireAfterAccess(d time.Duration) Option {
	return func(c *config) { c.expireAfterAccess = d }
}

// WithMaximumSize bounds the number of entries, evicting the least recently
// used one when exceeded. Unbounded by default.
func WithMaximumSize(n int) Option {
	return func(c *config) { c.maximumSize = n }
}

// WithExpiryCheck sets the interval for background expired entry cleanup.
// Zero or less disables the sweep; expired entries are then only dropped when
// looked up. Defaults to DefaultExpiryCheck.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) { c.expiryCheck = d }
}

// WithClock sets the time source used for expiry.
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

// Stats is a snapshot of a cache's counters.
type Stats struct {
	Requests      uint64
	Hits          uint64
	Misses        uint64
	LoadSuccesses uint64
	LoadFailures  uint64
	Evictions     uint64
	TotalLoadTime time.Duration
}

// HitRate is the share of requests served from the cache, 1 when there were
// no requests.
func (s Stats) HitRate() float64 {
	if s.Requests == 0 {
		return 1
	}
	return float64(s.Hits) / float64(s.Requests)
}

// MissRate is the share of requests which had to load.
func (s Stats) MissRate() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Misses) / float64(s.Requests)
}

// AverageLoadPenalty is the mean time spent per load.
func (s Stats) AverageLoadPenalty() time.Duration {
	loads := s.LoadSuccesses + s.LoadFailures
	if loads == 0 {
		return 0
	}
	return s.TotalLoadTime / time.Duration(loads)
}
