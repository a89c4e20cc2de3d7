package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/fgeck/zync/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file without executing any replication or deletion.`,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		log.Error().Msg("config file is required")
		return cmd.Help()
	}

	// Check if file exists
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		log.Error().Str("file", configFile).Msg("config file not found")
		return fmt.Errorf("config file not found: %s", configFile)
	}

	parser := config.NewParser()
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to parse config")
		return err
	}

	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Settings:")
	fmt.Printf("  Binary: %s\n", cfg.Settings.Binary)
	fmt.Printf("  Schedule file: %s\n", cfg.Settings.CrontabPath)
	fmt.Printf("  Log directory: %s\n", cfg.Settings.LogDir)
	fmt.Printf("  Jobs: %d\n", cfg.Settings.Jobs)

	fmt.Println()
	fmt.Println("Templates:")
	names := make([]string, 0, len(cfg.Templates))
	for name := range cfg.Templates {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		tpl := cfg.Templates[name]
		fmt.Printf("  %s: frequency=%s retention=%v autosnap=%v autoprune=%v\n",
			name, tpl.Frequency, tpl.Retention, tpl.AutoSnap, tpl.AutoPrune)
	}

	fmt.Println()
	fmt.Println("Datasets:")
	for _, ds := range cfg.Datasets {
		tplNote := ds.TemplateName
		if tplNote == "" {
			tplNote = "(none)"
		}
		if _, err := cfg.ResolveTemplate(ds); err != nil {
			tplNote += " (UNRESOLVED)"
		}
		fmt.Printf("  %s: template=%s destinations=%d options=%d\n",
			ds.Source, tplNote, len(ds.Destinations), len(ds.Options))
		for _, dest := range ds.Destinations {
			fmt.Printf("    -> %s\n", dest.String())
		}
	}

	return nil
}
