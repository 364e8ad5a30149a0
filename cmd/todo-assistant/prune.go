package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aixgo-dev/todo-assistant/internal/retention"
)

func newPruneCmd(root *rootOptions) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete conversations idle longer than a duration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load(os.Getenv)
			if err != nil {
				return err
			}
			if olderThan == 0 {
				olderThan = cfg.Retention.MaxIdle
			}
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			logger, err := newLogger(cfg, os.Stderr)
			if err != nil {
				return err
			}

			a, err := newStores(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := retention.NewSweeper(a.sessions, olderThan, logger).Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d conversation(s) idle for more than %s\n", n, olderThan)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "idle window (default retention.max_idle)")
	return cmd
}
