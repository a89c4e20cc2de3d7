package command

import (
	"io"
	"testing"

	"github.com/fgeck/zync/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func baseConfig() models.Config {
	return models.Config{
		Settings: models.Settings{Binary: "syncoid"},
		Templates: map[string]models.Template{
			"daily": {Name: "daily", Frequency: "1d"},
		},
		Datasets: []models.Dataset{
			{
				Source:       "tank/vm",
				TemplateName: "daily",
				Options: []models.Option{
					{Name: "recursive"},
					{Name: "compress", Value: "zstd"},
				},
				Destinations: []models.Destination{
					{Path: "backup/vm"},
					{Host: "nas", Path: "pool2/vm"},
				},
			},
		},
	}
}

func TestGenerate_FixedArgumentOrder(t *testing.T) {
	specs := New(testLogger()).Generate(baseConfig(), "")

	require.Len(t, specs, 2)

	assert.Equal(t, "syncoid", specs[0].Binary)
	assert.Equal(t, []string{
		"--no-privilege-elevation",
		"--recursive",
		"--compress=zstd",
		"tank/vm",
		"backup/vm",
	}, specs[0].Args)

	assert.Equal(t, []string{
		"--no-privilege-elevation",
		"--recursive",
		"--compress=zstd",
		"tank/vm",
		"nas:pool2/vm",
	}, specs[1].Args)
	assert.Equal(t, "nas", specs[1].Destination.Host)
}

func TestGenerate_IgnoreTemplateExcluded(t *testing.T) {
	cfg := baseConfig()
	cfg.Datasets = append(cfg.Datasets, models.Dataset{
		Source:       "tank/scratch",
		TemplateName: "ignore",
		Destinations: []models.Destination{{Path: "backup/scratch"}},
	})

	specs := New(testLogger()).Generate(cfg, "")

	require.Len(t, specs, 2)
	for _, spec := range specs {
		assert.Equal(t, "tank/vm", spec.Source)
	}
}

func TestGenerate_UnresolvedTemplateExcluded(t *testing.T) {
	cfg := baseConfig()
	cfg.Datasets = append(cfg.Datasets, models.Dataset{
		Source:       "tank/orphan",
		TemplateName: "nosuch",
		Destinations: []models.Destination{{Path: "backup/orphan"}},
	})

	specs := New(testLogger()).Generate(cfg, "")

	assert.Len(t, specs, 2)
}

func TestGenerate_NoDestinationsNoCommands(t *testing.T) {
	cfg := baseConfig()
	cfg.Datasets = []models.Dataset{{Source: "tank/lonely", TemplateName: "daily"}}

	specs := New(testLogger()).Generate(cfg, "")

	assert.Empty(t, specs)
}

func TestGenerate_NoTemplateStillReplicated(t *testing.T) {
	cfg := baseConfig()
	cfg.Datasets = []models.Dataset{{
		Source:       "tank/plain",
		Destinations: []models.Destination{{Path: "backup/plain"}},
	}}

	specs := New(testLogger()).Generate(cfg, "")

	require.Len(t, specs, 1)
	assert.Equal(t, []string{"--no-privilege-elevation", "tank/plain", "backup/plain"}, specs[0].Args)
}

func TestGenerate_OnlyFilter(t *testing.T) {
	cfg := baseConfig()
	cfg.Datasets = append(cfg.Datasets, models.Dataset{
		Source:       "tank/db",
		TemplateName: "daily",
		Destinations: []models.Destination{{Path: "backup/db"}},
	})

	specs := New(testLogger()).Generate(cfg, "tank/db")

	require.Len(t, specs, 1)
	assert.Equal(t, "tank/db", specs[0].Source)
}
