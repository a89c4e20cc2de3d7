// Package retention partitions snapshot inventories into keep and
// delete sets under an ordered list of retention rules.
package retention

import (
	"context"
	"sort"
	"time"

	"github.com/fgeck/zync/internal/models"
	"github.com/fgeck/zync/internal/services/zfs"
	"github.com/rs/zerolog"
)

// Service defines the interface for retention pruning.
type Service interface {
	Plan(target string, snapshots []models.Snapshot, rules []models.RetentionRule, prefix string, now time.Time) models.PrunePlan
	Apply(ctx context.Context, host string, plan models.PrunePlan, dryRun bool) *models.PruneResult
}

// Impl implements the retention Service interface.
type Impl struct {
	zfsSvc zfs.Service
	logger zerolog.Logger
}

// New creates a new retention service.
func New(logger zerolog.Logger, zfsSvc zfs.Service) *Impl {
	return &Impl{zfsSvc: zfsSvc, logger: logger}
}

// Plan partitions snapshots under the rules, in declaration order.
// Each rule sees only snapshots inside its (now-window, now] interval
// that no earlier rule claimed; the newest keep-count of those are
// kept, the rest deleted. Snapshots outside every window, and foreign
// snapshots not matching the naming prefix, are left untouched.
func (s *Impl) Plan(target string, snapshots []models.Snapshot, rules []models.RetentionRule, prefix string, now time.Time) models.PrunePlan {
	plan := models.PrunePlan{Target: target}
	claimed := make(map[string]bool)

	for _, rule := range rules {
		threshold := now.Add(-rule.Window())

		var eligible []models.Snapshot
		for _, snap := range snapshots {
			if claimed[snap.Name] || !snap.Ours(prefix) {
				continue
			}
			if snap.Creation.After(threshold) && !snap.Creation.After(now) {
				eligible = append(eligible, snap)
			}
		}

		sort.Slice(eligible, func(i, j int) bool {
			return eligible[i].Creation.After(eligible[j].Creation)
		})

		for i, snap := range eligible {
			claimed[snap.Name] = true
			if i < rule.Keep {
				plan.Kept = append(plan.Kept, snap)
			} else {
				plan.Delete = append(plan.Delete, snap)
			}
		}

		s.logger.Debug().
			Str("target", target).
			Str("rule", rule.String()).
			Int("eligible", len(eligible)).
			Msg("retention bucket evaluated")
	}

	return plan
}

// Apply destroys the plan's delete set one snapshot at a time. A
// single failed deletion is logged and does not abort the rest. In
// dry-run mode nothing is destroyed.
func (s *Impl) Apply(ctx context.Context, host string, plan models.PrunePlan, dryRun bool) *models.PruneResult {
	start := time.Now()
	result := &models.PruneResult{Planned: len(plan.Delete), DryRun: dryRun}

	for _, snap := range plan.Delete {
		if dryRun {
			s.logger.Info().
				Str("target", plan.Target).
				Str("snapshot", snap.Name).
				Msg("dry-run: would destroy")
			continue
		}
		if err := s.zfsSvc.Destroy(ctx, host, snap.Name); err != nil {
			s.logger.Error().Err(err).
				Str("target", plan.Target).
				Str("snapshot", snap.Name).
				Msg("failed to destroy snapshot")
			result.Failed++
			continue
		}
		s.logger.Info().
			Str("target", plan.Target).
			Str("snapshot", snap.Name).
			Msg("snapshot destroyed")
		result.Deleted++
	}

	result.Duration = time.Since(start)
	return result
}
