package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile  string
	onlyDataset string
	dryRun      bool
	verbose     bool
	quiet       bool
	jsonOutput  bool
)

var rootCmd = &cobra.Command{
	Use:   "zync",
	Short: "A ZFS replication and snapshot retention orchestrator",
	Long: `zync is a Go-based orchestrator around syncoid-style replication:
  - Resolves a template-based configuration into per-dataset policies
  - Generates a deterministic, staggered cron schedule
  - Runs replication commands with per-dataset failure isolation
  - Prunes snapshots under ordered retention rules
  - Verifies replication freshness on every destination

Use as a one-shot command driven by the cron schedule it generates itself.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (required)")
	rootCmd.PersistentFlags().StringVarP(&onlyDataset, "dataset", "d", "", "restrict processing to one dataset")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "report actions without executing or deleting")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cronCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(validateCmd)
}

func setupLogging() {
	// Set output format
	if jsonOutput {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
