// Package verify classifies replication freshness per destination.
package verify

import (
	"context"
	"time"

	"github.com/fgeck/zync/internal/models"
	"github.com/fgeck/zync/internal/services/zfs"
	"github.com/rs/zerolog"
)

// Service defines the interface for age verification.
type Service interface {
	Verify(ctx context.Context, cfg models.Config, only string) []models.VerifyReport
}

// Impl implements the verify Service interface.
type Impl struct {
	zfsSvc zfs.Service
	now    func() time.Time
	logger zerolog.Logger
}

// New creates a new verify service.
func New(logger zerolog.Logger, zfsSvc zfs.Service) *Impl {
	return &Impl{
		zfsSvc: zfsSvc,
		now:    time.Now,
		logger: logger,
	}
}

// NewWithClock creates a new verify service with a fixed clock (for testing).
func NewWithClock(logger zerolog.Logger, zfsSvc zfs.Service, now func() time.Time) *Impl {
	s := New(logger, zfsSvc)
	s.now = now
	return s
}

// Verify inspects the newest matching snapshot on every destination
// and classifies it against the owning template's age threshold.
// Listing failures and unparseable or absent snapshots yield the
// distinct unknown status; they are never reported as fresh or stale.
func (s *Impl) Verify(ctx context.Context, cfg models.Config, only string) []models.VerifyReport {
	var reports []models.VerifyReport

	for _, ds := range cfg.Datasets {
		if only != "" && ds.Source != only {
			continue
		}
		if ds.Ignored() {
			continue
		}

		tpl, err := cfg.ResolveTemplate(ds)
		if err != nil {
			s.logger.Warn().Err(err).Str("dataset", ds.Source).Msg("excluded from verification")
			continue
		}
		if tpl == nil {
			continue
		}

		threshold, ok := ageThreshold(*tpl)
		if !ok {
			s.logger.Warn().
				Str("dataset", ds.Source).
				Str("template", tpl.Name).
				Msg("no frequency or warn_age, cannot derive age threshold")
			continue
		}

		for _, dest := range ds.Destinations {
			reports = append(reports, s.check(ctx, cfg.Settings, ds.Source, dest, threshold, tpl.CritAge))
		}
	}

	return reports
}

// ageThreshold derives the maximum acceptable age: warn_age when set,
// otherwise the template's replication frequency.
func ageThreshold(tpl models.Template) (time.Duration, bool) {
	if tpl.WarnAge > 0 {
		return tpl.WarnAge, true
	}
	freq, err := models.ParseFrequency(tpl.Frequency)
	if err != nil {
		return 0, false
	}
	return freq.Duration(), true
}

func (s *Impl) check(ctx context.Context, settings models.Settings, source string, dest models.Destination, threshold, critAge time.Duration) models.VerifyReport {
	report := models.VerifyReport{
		Source:      source,
		Destination: dest,
		Threshold:   threshold,
	}

	newest, err := s.zfsSvc.NewestSnapshot(ctx, dest.Host, dest.Path, settings.SnapshotPrefix)
	if err != nil {
		report.Status = models.StatusUnknown
		report.Reason = err.Error()
		s.logger.Error().Err(err).
			Str("dataset", source).
			Str("destination", dest.String()).
			Msg("freshness unknown")
		return report
	}

	report.Snapshot = newest.Name
	report.Age = s.now().Sub(newest.Creation)

	switch {
	case critAge > 0 && report.Age > critAge:
		report.Status = models.StatusCritical
	case report.Age > threshold:
		report.Status = models.StatusStale
	default:
		report.Status = models.StatusFresh
	}

	s.logger.Info().
		Str("dataset", source).
		Str("destination", dest.String()).
		Str("status", string(report.Status)).
		Dur("age", report.Age).
		Dur("threshold", threshold).
		Msg("destination verified")

	return report
}
