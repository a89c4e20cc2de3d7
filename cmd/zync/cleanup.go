package main

import (
	"github.com/fgeck/zync/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune snapshots under each template's retention rules",
	Long: `Apply the ordered retention rules of every autoprune template to the
snapshot inventories of its datasets, on the source and on every
destination. With --dry-run the delete set is reported, not acted on.

Only snapshots following this tool's naming convention are considered;
foreign snapshots are never touched.`,
	RunE: runCleanup,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	runnerSvc := runner.New(log.Logger, cfg.Settings)
	result, err := runnerSvc.Cleanup(ctx, *cfg, onlyDataset, dryRun)
	if err != nil {
		log.Error().Err(err).Msg("cleanup failed")
		return err
	}

	log.Info().
		Int("planned", result.Planned).
		Int("deleted", result.Deleted).
		Int("failed", result.Failed).
		Bool("dry_run", result.DryRun).
		Msg("cleanup completed")

	return nil
}
