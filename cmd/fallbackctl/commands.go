package main

import (
	"fmt"
	"time"

	"github.com/agentuity/go-fallback/fallback/disk"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <dir>",
		Short: "List the values, locks and leftover temp files in a fallback directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, closer := newLogger(cmd)
			defer closer.Close()
			opts, err := diskOptions(cmd, log)
			if err != nil {
				return err
			}
			report, err := disk.Inspect(args[0], opts...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderReport(report, time.Now()))
			return nil
		},
	}
}

func newUnlockCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <dir>",
		Short: "Remove lock markers older than --max-lock-duration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, closer := newLogger(cmd)
			defer closer.Close()
			opts, err := diskOptions(cmd, log)
			if err != nil {
				return err
			}
			removed, err := disk.RemoveExpiredLocks(args[0], opts...)
			for _, path := range removed {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return err
		},
	}
}

func newCleanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean <dir>",
		Short: "Remove temp files left behind by crashed writers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, closer := newLogger(cmd)
			defer closer.Close()
			opts, err := diskOptions(cmd, log)
			if err != nil {
				return err
			}
			olderThan, err := durationFlag(cmd, "older-than")
			if err != nil {
				return err
			}
			removed, err := disk.RemoveOrphanedTemps(args[0], olderThan, opts...)
			for _, path := range removed {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return err
		},
	}
	cmd.Flags().String("older-than", "1h", "only remove temp files older than this, e.g. 1h or 2d")
	return cmd
}

func newCatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cat <dir> <key>",
		Short: "Print the raw persisted value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, closer := newLogger(cmd)
			defer closer.Close()
			opts, err := diskOptions(cmd, log)
			if err != nil {
				return err
			}
			namingFlag, _ := cmd.Flags().GetString("naming")
			naming, err := namingStrategy(namingFlag)
			if err != nil {
				return err
			}
			data, err := disk.ReadRaw(disk.NewResolver(args[0], naming, opts...), args[1])
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().String("naming", "key", "naming strategy used by the writers: key, hashed or readable")
	return cmd
}

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <dir>",
		Short: "Print commits and lock activity in a fallback directory as they happen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, closer := newLogger(cmd)
			defer closer.Close()
			opts, err := diskOptions(cmd, log)
			if err != nil {
				return err
			}
			events, err := disk.Watch(cmd.Context(), args[0], opts...)
			if err != nil {
				return err
			}
			for event := range events {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", time.Now().Format(time.RFC3339), renderEventType(event.Type), event.Slot)
			}
			return nil
		},
	}
}

func namingStrategy(name string) (disk.NamingStrategy[string], error) {
	switch name {
	case "key":
		return disk.KeyAsFileName[string](), nil
	case "hashed":
		return disk.Hashed[string](), nil
	case "readable":
		return disk.Readable[string](), nil
	}
	return nil, errors.Newf("unknown naming strategy %q, expected key, hashed or readable", name)
}
