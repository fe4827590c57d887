// Command fallbackctl inspects and repairs disk fallback directories.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentuity/go-fallback/fallback/disk"
	"github.com/agentuity/go-fallback/logger"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/xhit/go-str2duration/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "fallbackctl",
		Short:         "Inspect and repair disk fallback directories",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.String("log-level", "", "log level: trace, debug, info, warn, error (env "+logger.EnvLogLevel+")")
	flags.Bool("json", false, "log JSON lines instead of console output")
	flags.String("log-file", "", "write logs to a rotated file instead of stderr")
	flags.String("max-lock-duration", "10m", "age after which a lock is considered expired, e.g. 10m or 1d")

	root.AddCommand(
		newInspectCommand(),
		newUnlockCommand(),
		newCleanCommand(),
		newCatCommand(),
		newWatchCommand(),
	)
	return root
}

// flagOrEnv returns the flag value if set, then the environment value, then def.
func flagOrEnv(cmd *cobra.Command, flagName, envName, def string) string {
	if v, _ := cmd.Flags().GetString(flagName); v != "" {
		return v
	}
	if v, ok := os.LookupEnv(envName); ok {
		return v
	}
	return def
}

// newLogger builds the logger selected by the persistent flags. The returned
// closer must be called before exiting.
func newLogger(cmd *cobra.Command) (logger.Logger, io.Closer) {
	level := logger.ParseLevel(flagOrEnv(cmd, "log-level", logger.EnvLogLevel, "info"), logger.LevelInfo)
	var sink logger.Sink = cmd.ErrOrStderr()
	var closer io.Closer = nopCloser{}
	if path, _ := cmd.Flags().GetString("log-file"); path != "" {
		file := logger.NewFileSink(logger.FileSinkConfig{Filename: path, MaxBackups: 3})
		sink, closer = file, file
	}
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return logger.NewJSONLoggerWithSink(sink, level), closer
	}
	return logger.NewConsoleLoggerWithSink(sink, level), closer
}

// durationFlag parses a duration flag, accepting days and weeks as well.
func durationFlag(cmd *cobra.Command, name string) (time.Duration, error) {
	raw, _ := cmd.Flags().GetString(name)
	d, err := str2duration.ParseDuration(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid --%s %q", name, raw)
	}
	if d <= 0 {
		return 0, errors.Newf("--%s must be positive, got %q", name, raw)
	}
	return d, nil
}

// diskOptions returns the options shared by every command touching a directory.
func diskOptions(cmd *cobra.Command, log logger.Logger) ([]disk.Option, error) {
	maxLock, err := durationFlag(cmd, "max-lock-duration")
	if err != nil {
		return nil, err
	}
	return []disk.Option{disk.WithLogger(log), disk.WithMaxLockDuration(maxLock)}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
