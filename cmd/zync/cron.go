package main

import (
	"github.com/fgeck/zync/internal/services/schedule"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var forceCron bool

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "(Re)generate the cron schedule file",
	Long: `Generate one staggered cron entry per unique (dataset, template)
pair and write the schedule file atomically. Without --force the file
is only rewritten when the configuration changed since the last
generation; otherwise the command is a no-op that reports "unchanged".`,
	RunE: generateCron,
}

func init() {
	cronCmd.Flags().BoolVar(&forceCron, "force", false, "bypass the staleness check")
}

func generateCron(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	scheduleSvc := schedule.New(log.Logger)
	result, err := scheduleSvc.Generate(ctx, *cfg, forceCron, dryRun)
	if err != nil {
		// Failing to produce the requested schedule file is fatal.
		log.Error().Err(err).Msg("schedule generation failed")
		return err
	}

	switch {
	case result.Unchanged:
		log.Info().Str("path", result.Path).Msg("unchanged")
	case result.Written:
		log.Info().
			Str("path", result.Path).
			Int("entries", result.Entries).
			Bool("reloaded", result.Reloaded).
			Msg("schedule generated")
	}

	return nil
}
