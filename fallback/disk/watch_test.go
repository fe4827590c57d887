package disk

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/agentuity/go-fallback/logger"
	"github.com/agentuity/go-fallback/marshal"
	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		event fsnotify.Event
		want  Event
		ok    bool
	}{
		{fsnotify.Event{Name: "/d/k", Op: fsnotify.Create}, Event{EventCommitted, "k"}, true},
		{fsnotify.Event{Name: "/d/k", Op: fsnotify.Remove}, Event{EventRemoved, "k"}, true},
		{fsnotify.Event{Name: "/d/k" + LockSuffix, Op: fsnotify.Create}, Event{EventLocked, "k"}, true},
		{fsnotify.Event{Name: "/d/k" + LockSuffix, Op: fsnotify.Remove}, Event{EventUnlocked, "k"}, true},
		{fsnotify.Event{Name: "/d/k" + LockSuffix, Op: fsnotify.Chmod}, Event{}, false},
		{fsnotify.Event{Name: "/d/k.1700000000123.0123456789", Op: fsnotify.Create}, Event{}, false},
	}
	for _, tt := range tests {
		got, ok := classify(tt.event)
		assert.Equal(t, tt.ok, ok, tt.event.String())
		assert.Equal(t, tt.want, got, tt.event.String())
	}
}

func TestWatchReportsKeep(t *testing.T) {
	resolver, _ := newTestResolver(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := Watch(ctx, resolver.Dir(), WithLogger(logger.NewTestLogger()))
	require.NoError(t, err)

	keeper := NewKeeper[string, string](resolver, marshal.JSON[string]{})
	require.NoError(t, keeper.Keep(ctx, "k", "v"))

	seen := map[EventType]bool{}
	timeout := time.After(5 * time.Second)
	for !(seen[EventLocked] && seen[EventCommitted] && seen[EventUnlocked]) {
		select {
		case e := <-events:
			assert.Equal(t, "k", e.Slot)
			seen[e.Type] = true
		case <-timeout:
			t.Fatalf("missing events, saw %v", seen)
		}
	}

	cancel()
	for range events {
	}
}

func TestWatchMissingDir(t *testing.T) {
	_, err := Watch(context.Background(), os.DevNull+"/missing", WithLogger(logger.NewTestLogger()))
	assert.Error(t, err)
}
