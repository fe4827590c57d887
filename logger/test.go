package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

type TestLogEntry struct {
	Severity  string
	Message   string
	Arguments []interface{}
	Metadata  map[string]interface{}
}

// Formatted returns the message with its arguments applied.
func (e TestLogEntry) Formatted() string {
	if len(e.Arguments) == 0 {
		return e.Message
	}
	return fmt.Sprintf(e.Message, e.Arguments...)
}

type testLogStore struct {
	mu      sync.Mutex
	entries []TestLogEntry
}

// TestLogger records every entry in memory. Loggers derived with With or
// WithPrefix share the parent's store, so assertions can be made on the root.
// It is safe for concurrent use.
type TestLogger struct {
	metadata map[string]interface{}
	store    *testLogStore
}

var _ Logger = (*TestLogger)(nil)

// WithPrefix will return a new logger with a prefix prepended to the message
func (c *TestLogger) WithPrefix(prefix string) Logger {
	return c.With(map[string]interface{}{"prefix": prefix})
}

func (c *TestLogger) With(metadata map[string]interface{}) Logger {
	kv := make(map[string]interface{}, len(c.metadata)+len(metadata))
	for k, v := range c.metadata {
		kv[k] = v
	}
	for k, v := range metadata {
		kv[k] = v
	}
	return &TestLogger{metadata: kv, store: c.store}
}

func (c *TestLogger) Log(level string, msg string, args ...interface{}) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.store.entries = append(c.store.entries, TestLogEntry{level, msg, args, c.metadata})
}

func (c *TestLogger) Trace(msg string, args ...interface{}) {
	c.Log("TRACE", msg, args...)
}

func (c *TestLogger) Debug(msg string, args ...interface{}) {
	c.Log("DEBUG", msg, args...)
}

func (c *TestLogger) Info(msg string, args ...interface{}) {
	c.Log("INFO", msg, args...)
}

func (c *TestLogger) Warn(msg string, args ...interface{}) {
	c.Log("WARNING", msg, args...)
}

func (c *TestLogger) Error(msg string, args ...interface{}) {
	c.Log("ERROR", msg, args...)
}

func (c *TestLogger) Fatal(msg string, args ...interface{}) {
	c.Log("FATAL", msg, args...)
	os.Exit(1)
}

func (c *TestLogger) IsLevelEnabled(level LogLevel) bool {
	return true
}

func (c *TestLogger) IsDebugEnabled() bool {
	return true
}

// Logs returns a snapshot of everything logged so far.
func (c *TestLogger) Logs() []TestLogEntry {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	out := make([]TestLogEntry, len(c.store.entries))
	copy(out, c.store.entries)
	return out
}

// Find returns the logged entries of the given severity whose formatted
// message contains substr.
func (c *TestLogger) Find(severity string, substr string) []TestLogEntry {
	var found []TestLogEntry
	for _, e := range c.Logs() {
		if e.Severity == severity && strings.Contains(e.Formatted(), substr) {
			found = append(found, e)
		}
	}
	return found
}

// NewTestLogger returns a new Logger instance useful for testing
func NewTestLogger() *TestLogger {
	return &TestLogger{store: &testLogStore{}}
}
