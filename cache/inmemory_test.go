package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentuity/go-fallback/loader"
	"github.com/agentuity/go-fallback/logger"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type countingLoader struct {
	calls atomic.Int32
	err   error
}

func (c *countingLoader) Load(_ context.Context, key string) (string, error) {
	c.calls.Add(1)
	if c.err != nil {
		return "", c.err
	}
	return "value-of-" + key, nil
}

func newTestCache(t *testing.T, opts ...Option) *Cache[string, string] {
	t.Helper()
	opts = append([]Option{WithLogger(logger.NewTestLogger())}, opts...)
	c := New[string, string](context.Background(), opts...)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSimpleCache(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := New[string, string](ctx, WithExpiryCheck(time.Second), WithLogger(logger.NewTestLogger()))
	assert.Contains(t, c.Name(), "cache-")
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
	cancel()
}

func TestGetLoadsOnceThenHits(t *testing.T) {
	c := newTestCache(t)
	l := &countingLoader{}
	ctx := context.Background()

	v, err := c.Get(ctx, "a", l)
	require.NoError(t, err)
	assert.Equal(t, "value-of-a", v)
	v, err = c.Get(ctx, "a", l)
	require.NoError(t, err)
	assert.Equal(t, "value-of-a", v)
	assert.Equal(t, int32(1), l.calls.Load())

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Requests)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.LoadSuccesses)
	assert.InDelta(t, 0.5, stats.HitRate(), 0.001)
	assert.InDelta(t, 0.5, stats.MissRate(), 0.001)
}

func TestLoadErrorsAreNotCached(t *testing.T) {
	c := newTestCache(t)
	boom := errors.New("boom")
	l := &countingLoader{err: boom}

	_, err := c.Get(context.Background(), "a", l)
	assert.True(t, errors.Is(err, boom))
	_, err = c.Get(context.Background(), "a", l)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, int32(2), l.calls.Load())
	assert.Equal(t, uint64(2), c.Stats().LoadFailures)
	assert.Equal(t, 0, c.Len())
}

func TestConcurrentMissesShareOneLoad(t *testing.T) {
	c := newTestCache(t)
	release := make(chan struct{})
	var calls atomic.Int32
	l := loader.Func[string, string](func(ctx context.Context, key string) (string, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	})

	var wg sync.WaitGroup
	results := make([]string, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Get(context.Background(), "k", l)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	assert.Eventually(t, func() bool { return c.Stats().Misses == 20 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, "shared", v)
	}
}

type boxedKey struct {
	V any
}

func TestKeysRenderingAlikeDoNotShareLoads(t *testing.T) {
	c := New[any, string](context.Background(), WithLogger(logger.NewTestLogger()))
	t.Cleanup(func() { c.Close() })

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	l := loader.Func[any, string](func(ctx context.Context, key any) (string, error) {
		if key == any(boxedKey{V: 1}) {
			once.Do(func() { close(started) })
			<-release
		}
		return fmt.Sprintf("%T", key.(boxedKey).V), nil
	})

	var first string
	done := make(chan struct{})
	go func() {
		defer close(done)
		v, err := c.Get(context.Background(), boxedKey{V: 1}, l)
		assert.NoError(t, err)
		first = v
	}()
	<-started

	var second string
	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		v, err := c.Get(context.Background(), boxedKey{V: int64(1)}, l)
		assert.NoError(t, err)
		second = v
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	<-done
	<-secondDone

	assert.Equal(t, "int", first)
	assert.Equal(t, "int64", second)
	assert.Equal(t, 2, c.Len())

	for _, key := range []any{1, int64(1)} {
		v, err := c.Get(context.Background(), key, loader.Func[any, string](func(ctx context.Context, key any) (string, error) {
			return fmt.Sprintf("%T", key), nil
		}))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("%T", key), v)
	}
}

func TestExpireAfterWrite(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := newTestCache(t, WithClock(clock.Now), WithExpireAfterWrite(time.Minute), WithExpiryCheck(0))
	l := &countingLoader{}
	ctx := context.Background()

	_, err := c.Get(ctx, "a", l)
	require.NoError(t, err)
	clock.Advance(59 * time.Second)
	_, err = c.Get(ctx, "a", l)
	require.NoError(t, err)
	assert.Equal(t, int32(1), l.calls.Load())

	clock.Advance(time.Second)
	_, err = c.Get(ctx, "a", l)
	require.NoError(t, err)
	assert.Equal(t, int32(2), l.calls.Load())
	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestExpireAfterAccess(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := newTestCache(t, WithClock(clock.Now), WithExpireAfterWrite(0), WithExpireAfterAccess(time.Minute), WithExpiryCheck(0))
	l := &countingLoader{}
	ctx := context.Background()

	_, err := c.Get(ctx, "a", l)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		clock.Advance(50 * time.Second)
		_, err = c.Get(ctx, "a", l)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), l.calls.Load(), "reads keep the entry alive")

	clock.Advance(2 * time.Minute)
	_, ok := c.GetIfPresent("a")
	assert.False(t, ok)
}

func TestMaximumSizeEvictsLeastRecentlyUsed(t *testing.T) {
	c := newTestCache(t, WithMaximumSize(2))
	c.Put("a", "1")
	c.Put("b", "2")
	_, ok := c.GetIfPresent("a")
	require.True(t, ok)
	c.Put("c", "3")

	assert.Equal(t, 2, c.Len())
	_, ok = c.GetIfPresent("b")
	assert.False(t, ok, "b was least recently used")
	v, ok := c.GetIfPresent("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestInvalidate(t *testing.T) {
	c := newTestCache(t)
	c.Put("a", "1")
	c.Put("b", "2")
	c.Put("c", "3")

	c.Invalidate("a", "missing")
	assert.Equal(t, 2, c.Len())
	_, ok := c.GetIfPresent("a")
	assert.False(t, ok)

	c.InvalidateAll()
	assert.Equal(t, 0, c.Len())
	c.Put("d", "4")
	assert.Equal(t, 1, c.Len())
}

func TestCacheBackgroundExpire(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := newTestCache(t, WithClock(clock.Now), WithExpireAfterWrite(time.Minute), WithExpiryCheck(10*time.Millisecond))
	c.Put("a", "1")
	clock.Advance(2 * time.Minute)

	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestAsLoader(t *testing.T) {
	c := newTestCache(t)
	l := &countingLoader{}
	cached := c.AsLoader(l)

	for i := 0; i < 3; i++ {
		v, err := cached.Load(context.Background(), "x")
		require.NoError(t, err)
		assert.Equal(t, "value-of-x", v)
	}
	assert.Equal(t, int32(1), l.calls.Load())
}
