package fallback

import (
	"context"
	"fmt"
	"testing"

	"github.com/agentuity/go-fallback/loader"
	"github.com/agentuity/go-fallback/logger"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryKeeper struct {
	values map[string]string
	err    error
}

func (m *memoryKeeper) Keep(_ context.Context, key, value string) error {
	if m.err != nil {
		return m.err
	}
	m.values[key] = value
	return nil
}

func (m *memoryKeeper) Load(_ context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", errors.Wrapf(loader.ErrNotFound, "no fallback for %q", key)
	}
	return v, nil
}

func constant(v string) loader.Loader[string, string] {
	return loader.Func[string, string](func(context.Context, string) (string, error) { return v, nil })
}

func failing(err error) loader.Loader[string, string] {
	return loader.Func[string, string](func(context.Context, string) (string, error) { return "", err })
}

func TestPrimarySuccessIsKept(t *testing.T) {
	keeper := &memoryKeeper{values: map[string]string{}}
	l := New(constant("fresh"), loader.Loader[string, string](keeper), Config[string, string]{
		Keeper: keeper,
		Logger: logger.NewTestLogger(),
	})

	v, err := l.Load(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
	assert.Equal(t, "fresh", keeper.values["k"])
}

func TestPrimaryFailureIsRecovered(t *testing.T) {
	log := logger.NewTestLogger()
	keeper := &memoryKeeper{values: map[string]string{"k": "stale"}}
	l := New(failing(errors.New("timeout")), loader.Loader[string, string](keeper), Config[string, string]{
		Keeper: keeper,
		Logger: log,
	})

	v, err := l.Load(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "stale", v)
	warnings := log.Find("WARNING", "Attempting to load from fallback")
	require.Len(t, warnings, 1)
	assert.Equal(t, "[fallback]", warnings[0].Metadata["prefix"])
}

func TestBothFailingKeepsPrimaryErrorDominant(t *testing.T) {
	primaryErr := errors.New("primary down")
	keeper := &memoryKeeper{values: map[string]string{}}
	l := New(failing(primaryErr), loader.Loader[string, string](keeper), Config[string, string]{
		Logger: logger.NewTestLogger(),
	})

	v, err := l.Load(context.Background(), "k")
	require.Error(t, err)
	assert.Empty(t, v)
	assert.True(t, errors.Is(err, primaryErr))
	assert.False(t, errors.Is(err, loader.ErrNotFound), "the fallback error is only attached, not matched")
	assert.Equal(t, "primary down", err.Error())
	assert.Contains(t, fmt.Sprintf("%+v", err), `no fallback for "k"`)
}

func TestKeepFailureHandlers(t *testing.T) {
	keepErr := errors.New("disk full")
	keeper := &memoryKeeper{values: map[string]string{}, err: keepErr}
	ctx := context.Background()

	t.Run("default logs and returns the value", func(t *testing.T) {
		log := logger.NewTestLogger()
		l := New(constant("v"), loader.Loader[string, string](keeper), Config[string, string]{Keeper: keeper, Logger: log})
		v, err := l.Load(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v", v)
		entries := log.Find("ERROR", "disk full")
		require.Len(t, entries, 1)
		assert.Contains(t, entries[0].Formatted(), "failed to keep value for key 'k' for use as fallback")
		assert.NotContains(t, entries[0].Formatted(), "to disk")
	})

	t.Run("rethrow fails the load", func(t *testing.T) {
		l := New(constant("v"), loader.Loader[string, string](keeper), Config[string, string]{
			Keeper:       keeper,
			OnKeepFailed: Rethrow[string, string](),
			Logger:       logger.NewTestLogger(),
		})
		v, err := l.Load(ctx, "k")
		require.Error(t, err)
		assert.Empty(t, v)
		assert.True(t, IsWriteFailed(err))
		assert.True(t, errors.Is(err, keepErr))
		var wf *WriteFailedError
		require.True(t, errors.As(err, &wf))
		assert.Equal(t, "k", wf.Key)
		assert.Equal(t, "v", wf.Value)
	})

	t.Run("custom handler sees key, value and cause", func(t *testing.T) {
		var seen []any
		l := New(constant("v"), loader.Loader[string, string](keeper), Config[string, string]{
			Keeper: keeper,
			OnKeepFailed: HandlerFunc[string, string](func(key, value string, cause error) error {
				seen = append(seen, key, value, cause)
				return nil
			}),
			Logger: logger.NewTestLogger(),
		})
		v, err := l.Load(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v", v)
		assert.Equal(t, []any{"k", "v", keepErr}, seen)
	})
}

func TestNoKeepingByDefault(t *testing.T) {
	keeper := &memoryKeeper{values: map[string]string{}}
	l := New(constant("v"), loader.Loader[string, string](keeper), Config[string, string]{Logger: logger.NewTestLogger()})
	_, err := l.Load(context.Background(), "k")
	require.NoError(t, err)
	assert.Empty(t, keeper.values)
}

func TestNewRequiresLoaders(t *testing.T) {
	assert.Panics(t, func() {
		New[string, string](nil, constant("v"), Config[string, string]{})
	})
	assert.Panics(t, func() {
		New[string, string](constant("v"), nil, Config[string, string]{})
	})
}
