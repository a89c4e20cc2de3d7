//go:build integration

package integration

import (
	"context"
	"os"
	"testing"

	"github.com/fgeck/zync/internal/models"
	"github.com/fgeck/zync/internal/services/remote"
	"github.com/fgeck/zync/internal/services/zfs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests talk to a real local zfs installation. Point
// TEST_ZFS_DATASET at a dataset that is safe to snapshot and destroy
// snapshots on.

func getTestDataset(t *testing.T) string {
	t.Helper()

	dataset := os.Getenv("TEST_ZFS_DATASET")
	if dataset == "" {
		t.Skip("TEST_ZFS_DATASET not set")
	}
	return dataset
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func newZFSService() zfs.Service {
	logger := testLogger()
	return zfs.New(logger, remote.New(logger, models.Settings{}))
}

func TestZFSSnapshots_Integration(t *testing.T) {
	dataset := getTestDataset(t)

	svc := newZFSService()
	snaps, err := svc.Snapshots(context.Background(), "", dataset)

	require.NoError(t, err)
	for _, snap := range snaps {
		assert.Contains(t, snap.Name, "@")
		assert.False(t, snap.Creation.IsZero(), snap.Name)
	}
}

func TestZFSPoolExists_Integration(t *testing.T) {
	dataset := getTestDataset(t)

	svc := newZFSService()
	pool := models.Destination{Path: dataset}.Pool()

	exists, err := svc.PoolExists(context.Background(), "", pool)

	require.NoError(t, err)
	assert.True(t, exists)
}

func TestZFSPoolExists_MissingPool_Integration(t *testing.T) {
	getTestDataset(t) // only to confirm zfs is available

	svc := newZFSService()
	exists, err := svc.PoolExists(context.Background(), "", "zync-no-such-pool")

	assert.False(t, exists)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrPoolMissing)
}

func TestZFSDestroyRefusesDataset_Integration(t *testing.T) {
	dataset := getTestDataset(t)

	// Guard behavior needs no snapshots to exist: a name without "@"
	// must be rejected before any command runs.
	svc := newZFSService()
	err := svc.Destroy(context.Background(), "", dataset)

	require.Error(t, err)
}
