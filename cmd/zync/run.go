package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fgeck/zync/internal/config"
	"github.com/fgeck/zync/internal/models"
	"github.com/fgeck/zync/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute replication commands for all (or one) datasets",
	Long: `Execute the replication workflow:
1. Resolve templates into per-dataset policies
2. Expand datasets and destinations into replication commands
3. Check each destination pool before running its command
4. Run the commands under a bounded worker pool, appending output
   to one log file per dataset

One dataset's failure is logged against that dataset only and never
blocks the rest of the fleet.`,
	RunE: runReplication,
}

// loadConfig loads and logs the configuration shared by all
// subcommands. A missing or unparseable config is the one condition
// that aborts before any other work.
func loadConfig(cmd *cobra.Command) (*models.Config, error) {
	if configFile == "" {
		log.Error().Msg("config file is required")
		_ = cmd.Help()
		// Help succeeding must not look like success to the caller.
		return nil, errors.New("config file is required")
	}

	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return nil, err
	}

	if onlyDataset != "" {
		if _, ok := cfg.FindDataset(onlyDataset); !ok {
			err := fmt.Errorf("dataset %q not declared in %s", onlyDataset, configFile)
			log.Error().Err(err).Msg("unknown dataset")
			return nil, err
		}
	}

	log.Info().
		Str("config", configFile).
		Int("templates", len(cfg.Templates)).
		Int("datasets", len(cfg.Datasets)).
		Msg("configuration loaded")

	return cfg, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
		cancel()
	}()

	return ctx, cancel
}

func runReplication(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	runnerSvc := runner.New(log.Logger, cfg.Settings)
	result, err := runnerSvc.Run(ctx, *cfg, onlyDataset, dryRun)
	if err != nil {
		log.Error().Err(err).Msg("replication run failed")
		return err
	}

	if result.Locked {
		// Graceful skip: another instance holds the lock.
		return nil
	}

	log.Info().
		Int("executed", result.Executed).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Msg("replication run completed")

	return nil
}
