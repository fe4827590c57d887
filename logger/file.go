package logger

import (
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileSinkConfig configures a rotating log file.
type FileSinkConfig struct {
	// Filename is the file to write to. Backups are kept next to it.
	Filename string
	// MaxSize is the size in megabytes at which the file is rotated.
	MaxSize int
	// MaxBackups is the number of rotated files to keep.
	MaxBackups int
	// MaxAge is the number of days to keep rotated files.
	MaxAge int
	// Compress gzips rotated files.
	Compress bool
}

// NewFileSink returns a Sink writing to a size-rotated log file. Close the
// returned sink on shutdown.
func NewFileSink(config FileSinkConfig) *lumberjack.Logger {
	if config.MaxSize <= 0 {
		config.MaxSize = 100
	}
	return &lumberjack.Logger{
		Filename:   config.Filename,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}
}
