// Package zfs builds and runs zfs commands, locally or on remote hosts.
// It only shells out to the external tooling; nothing here touches
// storage directly.
package zfs

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/zync/internal/models"
	"github.com/fgeck/zync/internal/services/remote"
	"github.com/rs/zerolog"
)

// Service defines the interface for zfs operations.
type Service interface {
	Snapshots(ctx context.Context, host, dataset string) ([]models.Snapshot, error)
	NewestSnapshot(ctx context.Context, host, dataset, prefix string) (*models.Snapshot, error)
	Destroy(ctx context.Context, host, snapshot string) error
	PoolExists(ctx context.Context, host, pool string) (bool, error)
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	Execute(ctx context.Context, name string, args ...string) ([]byte, error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// Execute runs a command and returns its combined output.
func (e *DefaultExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// Impl implements the zfs Service interface.
type Impl struct {
	executor CommandExecutor
	remote   remote.Service
	logger   zerolog.Logger
}

// New creates a new zfs service.
func New(logger zerolog.Logger, remoteSvc remote.Service) *Impl {
	return &Impl{
		executor: &DefaultExecutor{},
		remote:   remoteSvc,
		logger:   logger,
	}
}

// NewWithExecutor creates a new zfs service with a custom executor
// (for testing).
func NewWithExecutor(logger zerolog.Logger, remoteSvc remote.Service, executor CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		remote:   remoteSvc,
		logger:   logger,
	}
}

// run executes the zfs command locally, or on host when set.
func (s *Impl) run(ctx context.Context, host string, args ...string) ([]byte, error) {
	if host == "" {
		return s.executor.Execute(ctx, "zfs", args...)
	}
	return s.remote.Run(ctx, host, "zfs "+strings.Join(args, " "))
}

// Accepted creation timestamp formats, tried in order. zfs emits
// different forms depending on -p, locale and version.
var creationLayouts = []string{
	"Mon Jan _2 15:04 2006", // zfs get creation, default output
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// ParseCreation parses a snapshot creation timestamp. Total failure is
// reported as ErrBadTimestamp, never as a zero time.
func ParseCreation(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", models.ErrBadTimestamp)
	}

	// Epoch seconds from `zfs get -p`.
	if epoch, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(epoch, 0), nil
	}

	for _, layout := range creationLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", models.ErrBadTimestamp, value)
}

// Snapshots lists the snapshots directly under a dataset, oldest first.
// Entries with unparseable creation times are logged and excluded.
func (s *Impl) Snapshots(ctx context.Context, host, dataset string) ([]models.Snapshot, error) {
	output, err := s.run(ctx, host,
		"list", "-H", "-t", "snapshot", "-o", "name,creation", "-s", "creation", "-d", "1", dataset)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots of %s: %w, output: %s", dataset, err, string(output))
	}

	var snapshots []models.Snapshot
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, creation, found := strings.Cut(line, "\t")
		if !found {
			s.logger.Warn().Str("line", line).Msg("unexpected zfs list output, entry skipped")
			continue
		}
		created, err := ParseCreation(creation)
		if err != nil {
			s.logger.Warn().Err(err).Str("snapshot", name).Msg("snapshot excluded")
			continue
		}
		snapshots = append(snapshots, models.Snapshot{Name: name, Creation: created})
	}

	s.logger.Debug().
		Str("dataset", dataset).
		Str("host", host).
		Int("count", len(snapshots)).
		Msg("snapshots listed")

	return snapshots, nil
}

// NewestSnapshot returns the most recent snapshot matching the naming
// prefix, or ErrNoSnapshots when none exists.
func (s *Impl) NewestSnapshot(ctx context.Context, host, dataset, prefix string) (*models.Snapshot, error) {
	snapshots, err := s.Snapshots(ctx, host, dataset)
	if err != nil {
		return nil, err
	}

	var newest *models.Snapshot
	for i := range snapshots {
		if !snapshots[i].Ours(prefix) {
			continue
		}
		if newest == nil || snapshots[i].Creation.After(newest.Creation) {
			newest = &snapshots[i]
		}
	}
	if newest == nil {
		return nil, fmt.Errorf("%w on %s", models.ErrNoSnapshots, dataset)
	}
	return newest, nil
}

// Destroy removes a single snapshot.
func (s *Impl) Destroy(ctx context.Context, host, snapshot string) error {
	if !strings.Contains(snapshot, "@") {
		// Refuse anything that is not unambiguously a snapshot name.
		return fmt.Errorf("refusing to destroy %q: not a snapshot", snapshot)
	}
	output, err := s.run(ctx, host, "destroy", snapshot)
	if err != nil {
		return fmt.Errorf("destroying %s: %w, output: %s", snapshot, err, string(output))
	}
	return nil
}

// PoolExists checks whether the top-level pool is present. Any failure,
// a missing pool or an unreachable host alike, comes back as an error
// for the caller to log and skip on.
func (s *Impl) PoolExists(ctx context.Context, host, pool string) (bool, error) {
	output, err := s.run(ctx, host, "list", "-H", "-o", "name", pool)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", models.ErrPoolMissing, pool, err)
	}
	for _, line := range strings.Split(string(output), "\n") {
		if strings.TrimSpace(line) == pool {
			return true, nil
		}
	}
	return false, fmt.Errorf("%w: %s", models.ErrPoolMissing, pool)
}
