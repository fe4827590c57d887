package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// JSONLogEntry defines a single JSON log line.
type JSONLogEntry struct {
	Timestamp time.Time              `json:"timestamp,omitempty"`
	Message   string                 `json:"message"`
	Severity  string                 `json:"severity,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Component string                 `json:"component,omitempty"`
}

// String renders the entry as a JSON object.
func (e JSONLogEntry) String() string {
	if e.Severity == "" {
		e.Severity = "INFO"
	}
	out, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"severity":"ERROR","message":%q}`, err.Error())
	}
	return string(out)
}

type jsonLogger struct {
	metadata  map[string]interface{}
	component string
	sink      Sink
	mu        *sync.Mutex
	logLevel  LogLevel
	now       func() time.Time
}

var _ Logger = (*jsonLogger)(nil)

func (c *jsonLogger) clone() *jsonLogger {
	metadata := make(map[string]interface{}, len(c.metadata))
	for k, v := range c.metadata {
		metadata[k] = v
	}
	return &jsonLogger{
		metadata:  metadata,
		component: c.component,
		sink:      c.sink,
		mu:        c.mu,
		logLevel:  c.logLevel,
		now:       c.now,
	}
}

// WithPrefix will return a new logger with a prefix appended to the component
func (c *jsonLogger) WithPrefix(prefix string) Logger {
	clone := c.clone()
	switch {
	case clone.component == "":
		clone.component = prefix
	case !strings.Contains(clone.component, prefix):
		clone.component = clone.component + " " + prefix
	}
	return clone
}

func (c *jsonLogger) With(newFields map[string]interface{}) Logger {
	clone := c.clone()
	for k, v := range newFields {
		clone.metadata[k] = v
	}
	if comp, ok := clone.metadata["component"].(string); ok {
		clone.component = comp
		delete(clone.metadata, "component")
	}
	return clone
}

func (c *jsonLogger) log(level LogLevel, severity string, msg string, args ...interface{}) {
	if level < c.logLevel {
		return
	}
	_msg := msg
	if len(args) > 0 {
		_msg = fmt.Sprintf(msg, args...)
	}
	entry := JSONLogEntry{
		Severity:  severity,
		Message:   ansiColorStripper.ReplaceAllString(_msg, ""),
		Component: c.component,
		Timestamp: c.now(),
	}
	if len(c.metadata) > 0 {
		entry.Metadata = c.metadata
	}
	line := entry.String() + "\n"
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink.Write([]byte(line))
}

func (c *jsonLogger) Trace(msg string, args ...interface{}) {
	c.log(LevelTrace, "TRACE", msg, args...)
}

func (c *jsonLogger) Debug(msg string, args ...interface{}) {
	c.log(LevelDebug, "DEBUG", msg, args...)
}

func (c *jsonLogger) Info(msg string, args ...interface{}) {
	c.log(LevelInfo, "INFO", msg, args...)
}

func (c *jsonLogger) Warn(msg string, args ...interface{}) {
	c.log(LevelWarn, "WARNING", msg, args...)
}

func (c *jsonLogger) Error(msg string, args ...interface{}) {
	c.log(LevelError, "ERROR", msg, args...)
}

func (c *jsonLogger) Fatal(msg string, args ...interface{}) {
	c.log(LevelError, "ERROR", msg, args...)
	os.Exit(1)
}

func (c *jsonLogger) IsLevelEnabled(level LogLevel) bool {
	return level >= c.logLevel
}

func (c *jsonLogger) IsDebugEnabled() bool {
	return c.IsLevelEnabled(LevelDebug)
}

// NewJSONLogger returns a new Logger instance which writes JSON lines to stderr
func NewJSONLogger(levels ...LogLevel) Logger {
	return NewJSONLoggerWithSink(os.Stderr, levels...)
}

// NewJSONLoggerWithSink returns a new Logger instance writing JSON lines to sink
func NewJSONLoggerWithSink(sink Sink, levels ...LogLevel) Logger {
	level := GetLevelFromEnv()
	if len(levels) > 0 {
		level = levels[0]
	}
	return &jsonLogger{
		metadata: make(map[string]interface{}),
		sink:     sink,
		mu:       &sync.Mutex{},
		logLevel: level,
		now:      time.Now,
	}
}
