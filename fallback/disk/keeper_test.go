package disk

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentuity/go-fallback/logger"
	"github.com/agentuity/go-fallback/marshal"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T, opts ...Option) (*Resolver[string], *logger.TestLogger) {
	t.Helper()
	log := logger.NewTestLogger()
	opts = append([]Option{WithLogger(log)}, opts...)
	return NewResolver[string](t.TempDir(), KeyAsFileName[string](), opts...), log
}

// blockingMarshaller writes half of the value, then waits for release before
// writing the rest.
type blockingMarshaller struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingMarshaller) Marshal(w io.Writer, v string) error {
	half := len(v) / 2
	if _, err := io.WriteString(w, v[:half]); err != nil {
		return err
	}
	close(b.started)
	<-b.release
	_, err := io.WriteString(w, v[half:])
	return err
}

func (b *blockingMarshaller) Unmarshal(r io.Reader) (string, error) {
	buf, err := io.ReadAll(r)
	return string(buf), err
}

func TestKeepThenLoad(t *testing.T) {
	resolver, _ := newTestResolver(t)
	keeper := NewKeeper[string, string](resolver, marshal.Msgpack[string]{})
	loader := NewLoader[string, string](resolver, marshal.Msgpack[string]{})
	ctx := context.Background()

	_, err := loader.Load(ctx, "k")
	assert.True(t, errors.Is(err, ErrNotYetWritten))

	require.NoError(t, keeper.Keep(ctx, "k", "v1"))
	v, err := loader.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	require.NoError(t, keeper.Keep(ctx, "k", "v2"))
	v, err = loader.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)

	raw, err := ReadRaw(resolver, "k")
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
}

func TestKeepSkipsWhileAnotherWriterHoldsTheLock(t *testing.T) {
	resolver, log := newTestResolver(t)
	slow := &blockingMarshaller{started: make(chan struct{}), release: make(chan struct{})}
	keeperA := NewKeeper[string, string](resolver, slow)
	keeperB := NewKeeper[string, string](resolver, marshal.Func[string]{
		MarshalFunc: func(w io.Writer, v string) error {
			t.Error("writer B must not write while A holds the lock")
			return nil
		},
	})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- keeperA.Keep(ctx, "k", "AAAAAAAAAAAA") }()
	<-slow.started

	require.NoError(t, keeperB.Keep(ctx, "k", "B"))
	assert.NotEmpty(t, log.Find("DEBUG", "skipped writing fallback value"))

	_, err := NewLoader[string, string](resolver, slow).Load(ctx, "k")
	assert.True(t, errors.Is(err, ErrNotYetWritten), "a half written value must not be visible")

	close(slow.release)
	require.NoError(t, <-done)

	raw, err := ReadRaw(resolver, "k")
	require.NoError(t, err)
	assert.Equal(t, "AAAAAAAAAAAA", string(raw))
}

func TestConcurrentKeepsNeverOverlap(t *testing.T) {
	resolver, _ := newTestResolver(t)
	var active, maxActive atomic.Int32
	m := marshal.Func[string]{
		MarshalFunc: func(w io.Writer, v string) error {
			n := active.Add(1)
			defer active.Add(-1)
			for {
				cur := maxActive.Load()
				if n <= cur || maxActive.CompareAndSwap(cur, n) {
					break
				}
			}
			for i := 0; i < 3; i++ {
				if _, err := io.WriteString(w, v); err != nil {
					return err
				}
				time.Sleep(time.Millisecond)
			}
			return nil
		},
	}
	keeper := NewKeeper[string, string](resolver, m)

	var wg sync.WaitGroup
	values := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(v string) {
			defer wg.Done()
			assert.NoError(t, keeper.Keep(context.Background(), "k", v))
		}(values[i%len(values)])
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
	raw, err := ReadRaw(resolver, "k")
	require.NoError(t, err)
	require.Len(t, raw, 3)
	assert.Equal(t, strings.Repeat(string(raw[0]), 3), string(raw), "the value must be one complete write")
	assert.Equal(t, []string{"k"}, dirEntries(t, resolver.Dir()))
}

func TestKeepReclaimsStaleLock(t *testing.T) {
	resolver, log := newTestResolver(t)
	file, err := resolver.Resolve("k")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(file.Lock().LockPath(), nil, 0o644))
	stale := time.Now().Add(-(DefaultMaxLockDuration + time.Minute))
	require.NoError(t, os.Chtimes(file.Lock().LockPath(), stale, stale))

	keeper := NewKeeper[string, string](resolver, marshal.JSON[string]{})
	require.NoError(t, keeper.Keep(context.Background(), "k", "fresh"))

	v, err := NewLoader[string, string](resolver, marshal.JSON[string]{}).Load(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
	assert.False(t, file.Lock().IsLocked())
	assert.NotEmpty(t, log.Find("WARNING", "considered expired"))
}

func TestKeepWithFreshLockOfOtherWriterIsSkipped(t *testing.T) {
	resolver, _ := newTestResolver(t)
	file, err := resolver.Resolve("k")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(file.Lock().LockPath(), nil, 0o644))

	keeper := NewKeeper[string, string](resolver, marshal.JSON[string]{})
	require.NoError(t, keeper.Keep(context.Background(), "k", "value"))
	assert.NoFileExists(t, file.Path())
	assert.True(t, file.Lock().IsLocked(), "a lock held by someone else must be left alone")
}

func TestKeepMarshalFailureKeepsPreviousValue(t *testing.T) {
	resolver, _ := newTestResolver(t)
	ctx := context.Background()
	require.NoError(t, NewKeeper[string, string](resolver, marshal.JSON[string]{}).Keep(ctx, "k", "good"))

	boom := errors.New("cannot encode")
	failing := NewKeeper[string, string](resolver, marshal.Func[string]{
		MarshalFunc: func(w io.Writer, v string) error {
			io.WriteString(w, "partial")
			return boom
		},
	})
	err := failing.Keep(ctx, "k", "bad")
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))

	v, err := NewLoader[string, string](resolver, marshal.JSON[string]{}).Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "good", v)
	assert.Equal(t, []string{"k"}, dirEntries(t, resolver.Dir()), "neither lock nor temp file may be left behind")
}

func TestLoadUndecodableValue(t *testing.T) {
	resolver, _ := newTestResolver(t)
	file, err := resolver.Resolve("k")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(file.Path(), []byte("{not json"), 0o644))

	_, err = NewLoader[string, string](resolver, marshal.JSON[string]{}).Load(context.Background(), "k")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotYetWritten))
	assert.Contains(t, err.Error(), "json decode")
}
