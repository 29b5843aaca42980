package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/abduss/ciphare/internal/app"
	"github.com/abduss/ciphare/internal/config"
	"github.com/abduss/ciphare/internal/janitor"
	"github.com/abduss/ciphare/internal/logger"
)

var gcDryRun bool

func init() {
	gcCmd.Flags().BoolVar(&gcDryRun, "dry-run", false, "report orphaned blobs without deleting them")
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired and exhausted shares once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) (*janitor.Stats, error) {
			return s.Sweeper.RunNow(ctx)
		}, cmd)
	},
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete blobs no share references",
	Long: `Lists blobs under the configured prefix and deletes those that no
metadata record references and that are older than the janitor grace period.

Use --dry-run to preview what would be removed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(ctx context.Context, s *app.Services) (*janitor.Stats, error) {
			if gcDryRun {
				return s.Collector.DryRun(ctx)
			}
			return s.Collector.RunNow(ctx)
		}, cmd)
	},
}

func withServices(ctx context.Context, run func(context.Context, *app.Services) (*janitor.Stats, error), cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logg, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logg.Sync()

	backends, err := app.Open(ctx, cfg, logg)
	if err != nil {
		return err
	}
	defer backends.Close()

	stats, err := run(ctx, app.NewServices(cfg, backends, logg))
	if err != nil {
		logg.Error("janitor run failed", zap.Error(err))
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), stats.Summary())
	return nil
}
