package main

import (
	"fmt"
	"time"

	"github.com/fgeck/zync/internal/models"
	"github.com/fgeck/zync/internal/services/remote"
	"github.com/fgeck/zync/internal/services/verify"
	"github.com/fgeck/zync/internal/services/zfs"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check replication freshness on every destination",
	Long: `Inspect the newest matching snapshot on each destination and classify
it against the owning template's age threshold: fresh, stale, critical,
or unknown when no snapshot exists or its creation time cannot be read.`,
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	remoteSvc := remote.New(log.Logger, cfg.Settings)
	zfsSvc := zfs.New(log.Logger, remoteSvc)
	verifySvc := verify.New(log.Logger, zfsSvc)

	reports := verifySvc.Verify(ctx, *cfg, onlyDataset)
	if len(reports) == 0 {
		log.Info().Msg("nothing to verify")
		return nil
	}

	stale := 0
	for _, r := range reports {
		switch r.Status {
		case models.StatusFresh:
			fmt.Printf("OK       %-30s %-30s age %s\n", r.Source, r.Destination.String(), r.Age.Round(time.Second))
		case models.StatusStale:
			stale++
			fmt.Printf("STALE    %-30s %-30s age %s (threshold %s)\n", r.Source, r.Destination.String(), r.Age.Round(time.Second), r.Threshold)
		case models.StatusCritical:
			stale++
			fmt.Printf("CRITICAL %-30s %-30s age %s (threshold %s)\n", r.Source, r.Destination.String(), r.Age.Round(time.Second), r.Threshold)
		case models.StatusUnknown:
			stale++
			fmt.Printf("UNKNOWN  %-30s %-30s %s\n", r.Source, r.Destination.String(), r.Reason)
		}
	}

	log.Info().
		Int("destinations", len(reports)).
		Int("unhealthy", stale).
		Msg("verification completed")

	return nil
}
