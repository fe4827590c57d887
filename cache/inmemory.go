package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentuity/go-fallback/loader"
	"github.com/agentuity/go-fallback/logger"
	"golang.org/x/sync/singleflight"
)

type entry[K comparable, V any] struct {
	key      K
	value    V
	written  time.Time
	accessed time.Time
	elem     *list.Element
}

// Cache is an in-memory cache which loads missing values through a Loader.
// Concurrent requests for the same missing key share a single load, and
// failed loads are not cached.
type Cache[K comparable, V any] struct {
	ctx       context.Context
	cancel    context.CancelFunc
	cache     map[K]*entry[K, V]
	recency   *list.List
	mutex     sync.Mutex
	group     singleflight.Group
	stats     Stats
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
	log       logger.Logger
}

// New returns a new Cache. The background sweep stops when parent is done or
// Close is called.
func New[K comparable, V any](parent context.Context, opts ...Option) *Cache[K, V] {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(parent)
	c := &Cache[K, V]{
		ctx:     ctx,
		cancel:  cancel,
		cache:   make(map[K]*entry[K, V]),
		recency: list.New(),
		cfg:     cfg,
		log:     cfg.log.WithPrefix("[" + cfg.name + "]"),
	}
	if cfg.expiryCheck > 0 && (cfg.expireAfterWrite > 0 || cfg.expireAfterAccess > 0) {
		c.waitGroup.Add(1)
		go c.run()
	}
	return c
}

// Name returns the name of the cache.
func (c *Cache[K, V]) Name() string { return c.cfg.name }

// Get returns the cached value for key, loading it with l on a miss. When
// several callers miss the same key at once only the first one's load runs,
// with its context, and the others receive its result.
func (c *Cache[K, V]) Get(ctx context.Context, key K, l loader.Loader[K, V]) (V, error) {
	if v, ok := c.lookup(key); ok {
		return v, nil
	}
	res, _, shared := c.group.Do(flightKey(key), func() (any, error) {
		v, err := c.load(ctx, key, l)
		return flight[K, V]{key: key, value: v, err: err}, nil
	})
	f := res.(flight[K, V])
	if f.key != key {
		// a distinct key rendered to the same flight key
		c.log.Trace("flight for key '%v' was taken by key '%v', loading separately", key, f.key)
		f.value, f.err = c.load(ctx, key, l)
	} else if shared {
		c.log.Trace("load of key '%v' was shared", key)
	}
	if f.err != nil {
		var zero V
		return zero, f.err
	}
	return f.value, nil
}

type flight[K comparable, V any] struct {
	key   K
	value V
	err   error
}

func (c *Cache[K, V]) load(ctx context.Context, key K, l loader.Loader[K, V]) (V, error) {
	if v, ok := c.peek(key); ok {
		return v, nil
	}
	started := c.cfg.now()
	v, err := l.Load(ctx, key)
	elapsed := c.cfg.now().Sub(started)
	if err != nil {
		c.recordLoad(false, elapsed)
		c.log.Debug("loading key '%v' failed after %s: %v", key, elapsed, err)
		var zero V
		return zero, err
	}
	c.recordLoad(true, elapsed)
	c.store(key, v)
	return v, nil
}

// AsLoader returns a Loader serving from this cache and loading misses with l.
func (c *Cache[K, V]) AsLoader(l loader.Loader[K, V]) loader.Loader[K, V] {
	return loader.Func[K, V](func(ctx context.Context, key K) (V, error) {
		return c.Get(ctx, key, l)
	})
}

// GetIfPresent returns the cached value for key without loading.
func (c *Cache[K, V]) GetIfPresent(key K) (V, bool) {
	return c.lookup(key)
}

// Put stores value for key, replacing any cached value.
func (c *Cache[K, V]) Put(key K, value V) {
	c.store(key, value)
}

// Invalidate removes keys from the cache.
func (c *Cache[K, V]) Invalidate(keys ...K) {
	c.mutex.Lock()
	for _, key := range keys {
		if e, ok := c.cache[key]; ok {
			c.remove(e)
		}
	}
	c.mutex.Unlock()
}

// InvalidateAll empties the cache.
func (c *Cache[K, V]) InvalidateAll() {
	c.mutex.Lock()
	c.cache = make(map[K]*entry[K, V])
	c.recency.Init()
	c.mutex.Unlock()
}

// Len returns the number of entries, including expired entries not yet swept.
func (c *Cache[K, V]) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.cache)
}

// Stats returns a snapshot of the cache's counters.
func (c *Cache[K, V]) Stats() Stats {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.stats
}

// Close stops the background sweep. The cache remains usable.
func (c *Cache[K, V]) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.waitGroup.Wait()
	})
	return nil
}

func (c *Cache[K, V]) lookup(key K) (V, bool) {
	now := c.cfg.now()
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.stats.Requests++
	e, ok := c.cache[key]
	if ok && c.expired(e, now) {
		c.remove(e)
		c.stats.Evictions++
		ok = false
	}
	if !ok {
		c.stats.Misses++
		var zero V
		return zero, false
	}
	c.stats.Hits++
	e.accessed = now
	c.recency.MoveToFront(e.elem)
	return e.value, true
}

func (c *Cache[K, V]) peek(key K) (V, bool) {
	now := c.cfg.now()
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if e, ok := c.cache[key]; ok && !c.expired(e, now) {
		return e.value, true
	}
	var zero V
	return zero, false
}

func (c *Cache[K, V]) store(key K, value V) {
	now := c.cfg.now()
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if e, ok := c.cache[key]; ok {
		e.value = value
		e.written = now
		e.accessed = now
		c.recency.MoveToFront(e.elem)
		return
	}
	e := &entry[K, V]{key: key, value: value, written: now, accessed: now}
	e.elem = c.recency.PushFront(e)
	c.cache[key] = e
	for c.cfg.maximumSize > 0 && len(c.cache) > c.cfg.maximumSize {
		oldest := c.recency.Back().Value.(*entry[K, V])
		c.remove(oldest)
		c.stats.Evictions++
		c.log.Trace("evicted key '%v', cache exceeds %d entries", oldest.key, c.cfg.maximumSize)
	}
}

func (c *Cache[K, V]) recordLoad(ok bool, elapsed time.Duration) {
	c.mutex.Lock()
	if ok {
		c.stats.LoadSuccesses++
	} else {
		c.stats.LoadFailures++
	}
	c.stats.TotalLoadTime += elapsed
	c.mutex.Unlock()
}

// remove requires the mutex to be held.
func (c *Cache[K, V]) remove(e *entry[K, V]) {
	delete(c.cache, e.key)
	c.recency.Remove(e.elem)
}

func (c *Cache[K, V]) expired(e *entry[K, V], now time.Time) bool {
	if c.cfg.expireAfterWrite > 0 && now.Sub(e.written) >= c.cfg.expireAfterWrite {
		return true
	}
	return c.cfg.expireAfterAccess > 0 && now.Sub(e.accessed) >= c.cfg.expireAfterAccess
}

func (c *Cache[K, V]) sweep() int {
	now := c.cfg.now()
	c.mutex.Lock()
	defer c.mutex.Unlock()
	var n int
	for _, e := range c.cache {
		if c.expired(e, now) {
			c.remove(e)
			c.stats.Evictions++
			n++
		}
	}
	return n
}

func (c *Cache[K, V]) run() {
	defer c.waitGroup.Done()
	ticker := time.NewTicker(c.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if n := c.sweep(); n > 0 {
				c.log.Trace("swept %d expired entries", n)
			}
		}
	}
}

func flightKey[K comparable](key K) string {
	return fmt.Sprintf("%T:%#v", key, key)
}
