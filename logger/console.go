package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

const isWindows = runtime.GOOS == "windows"

var noColor = os.Getenv("TERM") == "dumb" ||
	(!isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()))

func color(val string) string {
	if isWindows || noColor {
		return ""
	}
	return val
}

const (
	Reset       = "\033[0m"
	Red         = "\033[31m"
	Green       = "\033[32m"
	Magenta     = "\033[35m"
	BlueBold    = "\033[34;1m"
	MagentaBold = "\033[35;1m"
	RedBold     = "\033[31;1m"
	YellowBold  = "\033[33;1m"
	WhiteBold   = "\033[37;1m"
	CyanBold    = "\033[36;1m"
	Gray        = "\033[1;90m"
	Purple      = "\u001b[38;5;200m"
)

type levelStyle struct {
	name         string
	levelColor   string
	messageColor string
}

var consoleStyles = map[LogLevel]levelStyle{
	LevelTrace: {"TRACE", CyanBold, Gray},
	LevelDebug: {"DEBUG", BlueBold, Green},
	LevelInfo:  {"INFO", YellowBold, WhiteBold},
	LevelWarn:  {"WARN", MagentaBold, Magenta},
	LevelError: {"ERROR", RedBold, Red},
}

type consoleLogger struct {
	prefixes []string
	metadata map[string]interface{}
	out      io.Writer
	mu       *sync.Mutex
	logLevel LogLevel
	now      func() time.Time
}

var _ Logger = (*consoleLogger)(nil)

// WithPrefix will return a new logger with a prefix prepended to the message
func (c *consoleLogger) WithPrefix(prefix string) Logger {
	l := c.clone()
	if !slices.Contains(l.prefixes, prefix) {
		l.prefixes = append(l.prefixes, prefix)
	}
	return l
}

func (c *consoleLogger) clone() *consoleLogger {
	prefixes := make([]string, len(c.prefixes))
	copy(prefixes, c.prefixes)
	metadata := make(map[string]interface{}, len(c.metadata))
	for k, v := range c.metadata {
		metadata[k] = v
	}
	return &consoleLogger{
		prefixes: prefixes,
		metadata: metadata,
		out:      c.out,
		mu:       c.mu,
		logLevel: c.logLevel,
		now:      c.now,
	}
}

func (c *consoleLogger) With(metadata map[string]interface{}) Logger {
	clone := c.clone()
	for k, v := range metadata {
		clone.metadata[k] = v
	}
	return clone
}

func (c *consoleLogger) log(level LogLevel, msg string, args ...interface{}) {
	if level < c.logLevel {
		return
	}
	style := consoleStyles[level]
	_msg := msg
	if len(args) > 0 {
		_msg = fmt.Sprintf(msg, args...)
	}
	var prefix string
	var suffix string
	if len(c.prefixes) > 0 {
		prefix = color(Purple) + strings.Join(c.prefixes, " ") + color(Reset) + " "
	}
	if len(c.metadata) > 0 {
		buf, _ := json.Marshal(c.metadata)
		suffix = " " + color(Gray) + string(buf) + color(Reset)
	}
	var levelSuffix string
	if len(style.name) < 5 {
		levelSuffix = strings.Repeat(" ", 5-len(style.name))
	}
	levelText := color(style.levelColor) + fmt.Sprintf("[%s]%s", style.name, levelSuffix) + color(Reset)
	message := color(style.messageColor) + _msg + color(Reset)
	ts := c.now().Format("2006/01/02 15:04:05.000")
	c.mu.Lock()
	fmt.Fprintf(c.out, "%s %s %s%s%s\n", ts, levelText, prefix, message, suffix)
	c.mu.Unlock()
}

func (c *consoleLogger) Trace(msg string, args ...interface{}) {
	c.log(LevelTrace, msg, args...)
}

func (c *consoleLogger) Debug(msg string, args ...interface{}) {
	c.log(LevelDebug, msg, args...)
}

func (c *consoleLogger) Info(msg string, args ...interface{}) {
	c.log(LevelInfo, msg, args...)
}

func (c *consoleLogger) Warn(msg string, args ...interface{}) {
	c.log(LevelWarn, msg, args...)
}

func (c *consoleLogger) Error(msg string, args ...interface{}) {
	c.log(LevelError, msg, args...)
}

func (c *consoleLogger) Fatal(msg string, args ...interface{}) {
	c.log(LevelError, msg, args...)
	os.Exit(1)
}

func (c *consoleLogger) IsLevelEnabled(level LogLevel) bool {
	return level >= c.logLevel
}

func (c *consoleLogger) IsDebugEnabled() bool {
	return c.IsLevelEnabled(LevelDebug)
}

// NewConsoleLogger returns a new Logger instance which will log to stderr
func NewConsoleLogger(levels ...LogLevel) Logger {
	return NewConsoleLoggerWithSink(os.Stderr, levels...)
}

// NewConsoleLoggerWithSink returns a console Logger writing to sink. Colour
// escapes are stripped unless sink is a terminal.
func NewConsoleLoggerWithSink(sink Sink, levels ...LogLevel) Logger {
	level := GetLevelFromEnv()
	if len(levels) > 0 {
		level = levels[0]
	}
	var out io.Writer = sink
	if f, ok := sink.(*os.File); !ok || !isatty.IsTerminal(f.Fd()) {
		out = stripWriter{sink}
	}
	return &consoleLogger{
		metadata: make(map[string]interface{}),
		out:      out,
		mu:       &sync.Mutex{},
		logLevel: level,
		now:      time.Now,
	}
}

type stripWriter struct {
	w io.Writer
}

func (s stripWriter) Write(p []byte) (int, error) {
	if _, err := s.w.Write(ansiColorStripper.ReplaceAll(p, nil)); err != nil {
		return 0, err
	}
	return len(p), nil
}
