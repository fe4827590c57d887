package disk

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
)

// EventType classifies what happened to a slot in a watched directory.
type EventType int

const (
	EventCommitted EventType = iota
	EventRemoved
	EventLocked
	EventUnlocked
)

func (t EventType) String() string {
	switch t {
	case EventCommitted:
		return "committed"
	case EventRemoved:
		return "removed"
	case EventLocked:
		return "locked"
	case EventUnlocked:
		return "unlocked"
	default:
		return "unknown"
	}
}

// Event is a change to one slot of a fallback directory.
type Event struct {
	Type EventType
	Slot string
}

// Watch reports commits, removals and lock activity in dir until ctx is done.
// Temp files are not reported. Events are dropped when the receiver falls
// behind.
func Watch(ctx context.Context, dir string, opts ...Option) (<-chan Event, error) {
	cfg := applyOptions(opts)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create file system watcher")
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "watch %s", dir)
	}

	events := make(chan Event, 64)
	go func() {
		defer watcher.Close()
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case fsEvent, ok := <-watcher.Events:
				if !ok {
					return
				}
				event, ok := classify(fsEvent)
				if !ok {
					continue
				}
				select {
				case events <- event:
				default:
					cfg.log.Warn("dropping %s event for %s, receiver is not keeping up", event.Type, event.Slot)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				cfg.log.Error("watching %s failed: %v", dir, err)
			}
		}
	}()
	return events, nil
}

func classify(e fsnotify.Event) (Event, bool) {
	name := filepath.Base(e.Name)
	if tempFilePattern.MatchString(name) {
		return Event{}, false
	}
	if strings.HasSuffix(name, LockSuffix) {
		slot := strings.TrimSuffix(name, LockSuffix)
		switch {
		case e.Has(fsnotify.Create):
			return Event{Type: EventLocked, Slot: slot}, true
		case e.Has(fsnotify.Remove):
			return Event{Type: EventUnlocked, Slot: slot}, true
		}
		return Event{}, false
	}
	switch {
	case e.Has(fsnotify.Create), e.Has(fsnotify.Write):
		return Event{Type: EventCommitted, Slot: name}, true
	case e.Has(fsnotify.Remove), e.Has(fsnotify.Rename):
		return Event{Type: EventRemoved, Slot: name}, true
	}
	return Event{}, false
}
