package retention

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/fgeck/zync/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockZFSService struct {
	destroyFunc func(ctx context.Context, host, snapshot string) error
	destroyed   []string
}

func (m *mockZFSService) Snapshots(ctx context.Context, host, dataset string) ([]models.Snapshot, error) {
	return nil, nil
}

func (m *mockZFSService) NewestSnapshot(ctx context.Context, host, dataset, prefix string) (*models.Snapshot, error) {
	return nil, models.ErrNoSnapshots
}

func (m *mockZFSService) Destroy(ctx context.Context, host, snapshot string) error {
	m.destroyed = append(m.destroyed, snapshot)
	if m.destroyFunc != nil {
		return m.destroyFunc(ctx, host, snapshot)
	}
	return nil
}

func (m *mockZFSService) PoolExists(ctx context.Context, host, pool string) (bool, error) {
	return true, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func dailySnapshots(now time.Time, days int) []models.Snapshot {
	snaps := make([]models.Snapshot, 0, days)
	for i := 0; i < days; i++ {
		created := now.Add(-time.Duration(i)*24*time.Hour - time.Hour)
		snaps = append(snaps, models.Snapshot{
			Name:     fmt.Sprintf("tank/vm@autosnap_%s", created.Format("2006-01-02_15:04:05")),
			Creation: created,
		})
	}
	return snaps
}

func rules(specs ...string) []models.RetentionRule {
	out := make([]models.RetentionRule, 0, len(specs))
	for _, s := range specs {
		rule, err := models.ParseRetentionRule(s)
		if err != nil {
			panic(err)
		}
		out = append(out, rule)
	}
	return out
}

func TestPlan_TenDailySnapshotsTwoWindows(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	snaps := dailySnapshots(now, 10)

	plan := New(testLogger(), &mockZFSService{}).Plan("tank/vm", snaps, rules("24h:2", "7d:3"), "autosnap_", now)

	// One snapshot lies within 24h, so at most 2 kept there; the 7d
	// window keeps 3 more of the remaining; snapshots older than 7
	// days are untouched.
	assert.LessOrEqual(t, len(plan.Kept), 5)

	claimed := make(map[string]bool)
	for _, s := range plan.Kept {
		assert.False(t, claimed[s.Name], "snapshot in both sets: %s", s.Name)
		claimed[s.Name] = true
	}
	for _, s := range plan.Delete {
		assert.False(t, claimed[s.Name], "snapshot in both sets: %s", s.Name)
		claimed[s.Name] = true
	}

	// The three oldest (days 8, 9, 10) fall outside every window.
	untouched := 0
	for _, s := range snaps {
		if !claimed[s.Name] {
			untouched++
			assert.True(t, s.Creation.Before(now.Add(-7*24*time.Hour)), s.Name)
		}
	}
	assert.Equal(t, 3, untouched)
}

func TestPlan_KeepsNewestPerWindow(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	var snaps []models.Snapshot
	for i := 0; i < 6; i++ {
		created := now.Add(-time.Duration(i+1) * time.Hour)
		snaps = append(snaps, models.Snapshot{
			Name:     fmt.Sprintf("tank/vm@autosnap_h%d", i+1),
			Creation: created,
		})
	}

	plan := New(testLogger(), &mockZFSService{}).Plan("tank/vm", snaps, rules("24h:2"), "autosnap_", now)

	require.Len(t, plan.Kept, 2)
	assert.Equal(t, "tank/vm@autosnap_h1", plan.Kept[0].Name)
	assert.Equal(t, "tank/vm@autosnap_h2", plan.Kept[1].Name)
	assert.Len(t, plan.Delete, 4)
}

func TestPlan_EarlierRuleClaimsFirst(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	snap := models.Snapshot{Name: "tank/vm@autosnap_recent", Creation: now.Add(-time.Hour)}

	// The snapshot is inside both windows but the first rule claims it;
	// the second rule must not reconsider it.
	plan := New(testLogger(), &mockZFSService{}).Plan("tank/vm",
		[]models.Snapshot{snap}, rules("24h:1", "7d:0"), "autosnap_", now)

	require.Len(t, plan.Kept, 1)
	assert.Empty(t, plan.Delete)
}

func TestPlan_ForeignSnapshotsUntouched(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	snaps := []models.Snapshot{
		{Name: "tank/vm@manual-before-upgrade", Creation: now.Add(-time.Hour)},
		{Name: "tank/vm@autosnap_a", Creation: now.Add(-2 * time.Hour)},
	}

	plan := New(testLogger(), &mockZFSService{}).Plan("tank/vm", snaps, rules("24h:0"), "autosnap_", now)

	require.Len(t, plan.Delete, 1)
	assert.Equal(t, "tank/vm@autosnap_a", plan.Delete[0].Name)
}

func TestPlan_FutureSnapshotsNotEligible(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	snaps := []models.Snapshot{
		{Name: "tank/vm@autosnap_clockskew", Creation: now.Add(time.Hour)},
	}

	plan := New(testLogger(), &mockZFSService{}).Plan("tank/vm", snaps, rules("24h:0"), "autosnap_", now)

	assert.Empty(t, plan.Kept)
	assert.Empty(t, plan.Delete)
}

func TestApply_DryRunDestroysNothing(t *testing.T) {
	zfsMock := &mockZFSService{}
	plan := models.PrunePlan{
		Target: "tank/vm",
		Delete: []models.Snapshot{{Name: "tank/vm@autosnap_old"}},
	}

	result := New(testLogger(), zfsMock).Apply(context.Background(), "", plan, true)

	assert.True(t, result.DryRun)
	assert.Equal(t, 1, result.Planned)
	assert.Equal(t, 0, result.Deleted)
	assert.Empty(t, zfsMock.destroyed)
}

func TestApply_OneFailureDoesNotAbortOthers(t *testing.T) {
	zfsMock := &mockZFSService{
		destroyFunc: func(ctx context.Context, host, snapshot string) error {
			if snapshot == "tank/vm@autosnap_b" {
				return errors.New("dataset is busy")
			}
			return nil
		},
	}
	plan := models.PrunePlan{
		Target: "tank/vm",
		Delete: []models.Snapshot{
			{Name: "tank/vm@autosnap_a"},
			{Name: "tank/vm@autosnap_b"},
			{Name: "tank/vm@autosnap_c"},
		},
	}

	result := New(testLogger(), zfsMock).Apply(context.Background(), "", plan, false)

	assert.Equal(t, 3, result.Planned)
	assert.Equal(t, 2, result.Deleted)
	assert.Equal(t, 1, result.Failed)
	assert.Len(t, zfsMock.destroyed, 3)
}
