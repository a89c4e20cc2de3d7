// Package command expands datasets and destinations into replication
// command specs.
package command

import (
	"github.com/fgeck/zync/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for command generation.
type Service interface {
	Generate(cfg models.Config, only string) []models.CommandSpec
}

// Impl implements the command Service interface.
type Impl struct {
	logger zerolog.Logger
}

// New creates a new command service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{logger: logger}
}

// Generate emits one command spec per dataset x destination pair,
// skipping ignored datasets and datasets whose template reference does
// not resolve. When only is non-empty, generation is restricted to
// that dataset. Datasets without destinations yield nothing.
func (s *Impl) Generate(cfg models.Config, only string) []models.CommandSpec {
	var specs []models.CommandSpec

	for _, ds := range cfg.Datasets {
		if only != "" && ds.Source != only {
			continue
		}
		if ds.Ignored() {
			s.logger.Debug().Str("dataset", ds.Source).Msg("ignore template, no commands")
			continue
		}
		if _, err := cfg.ResolveTemplate(ds); err != nil {
			s.logger.Warn().Err(err).Str("dataset", ds.Source).Msg("excluded from command generation")
			continue
		}

		for _, dest := range ds.Destinations {
			specs = append(specs, buildSpec(cfg.Settings.Binary, ds, dest))
		}
	}

	return specs
}

// buildSpec assembles the fixed argument order: elevation-avoidance
// flag, options, source, destination.
func buildSpec(binary string, ds models.Dataset, dest models.Destination) models.CommandSpec {
	args := []string{"--no-privilege-elevation"}
	for _, opt := range ds.Options {
		args = append(args, opt.Flag())
	}
	args = append(args, ds.Source, dest.String())

	return models.CommandSpec{
		Binary:      binary,
		Args:        args,
		Source:      ds.Source,
		Destination: dest,
	}
}
