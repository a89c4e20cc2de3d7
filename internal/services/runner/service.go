// Package runner executes replication commands and retention pruning,
// isolating failures per dataset.
package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fgeck/zync/internal/models"
	"github.com/fgeck/zync/internal/services/command"
	"github.com/fgeck/zync/internal/services/remote"
	"github.com/fgeck/zync/internal/services/retention"
	"github.com/fgeck/zync/internal/services/wol"
	"github.com/fgeck/zync/internal/services/zfs"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Service defines the interface for the execution engine.
type Service interface {
	Run(ctx context.Context, cfg models.Config, only string, dryRun bool) (*models.RunResult, error)
	Cleanup(ctx context.Context, cfg models.Config, only string, dryRun bool) (*models.PruneResult, error)
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

// Locker is the single-instance guard. *flock.Flock satisfies it.
type Locker interface {
	TryLock() (bool, error)
	Unlock() error
}

// Impl implements the runner Service interface.
type Impl struct {
	executor     CommandExecutor
	zfsSvc       zfs.Service
	wolSvc       wol.Service
	commandSvc   command.Service
	retentionSvc retention.Service
	lockerFor    func(path string) Locker
	now          func() time.Time
	logger       zerolog.Logger
}

// New creates a new runner service wired to the real collaborators.
func New(logger zerolog.Logger, settings models.Settings) *Impl {
	remoteSvc := remote.New(logger, settings)
	zfsSvc := zfs.New(logger, remoteSvc)
	return &Impl{
		executor:     &DefaultExecutor{},
		zfsSvc:       zfsSvc,
		wolSvc:       wol.New(logger),
		commandSvc:   command.New(logger),
		retentionSvc: retention.New(logger, zfsSvc),
		lockerFor:    func(path string) Locker { return flock.New(path) },
		now:          time.Now,
		logger:       logger,
	}
}

// NewWithServices creates a new runner service with custom
// collaborators (for testing).
func NewWithServices(
	logger zerolog.Logger,
	executor CommandExecutor,
	zfsSvc zfs.Service,
	wolSvc wol.Service,
	commandSvc command.Service,
	retentionSvc retention.Service,
	lockerFor func(path string) Locker,
) *Impl {
	return &Impl{
		executor:     executor,
		zfsSvc:       zfsSvc,
		wolSvc:       wolSvc,
		commandSvc:   commandSvc,
		retentionSvc: retentionSvc,
		lockerFor:    lockerFor,
		now:          time.Now,
		logger:       logger,
	}
}

// acquireLock takes the single-instance lock. A held lock is a
// graceful skip; an unusable lock file is logged and the run proceeds,
// matching the pre-lock behavior rather than bricking on permissions.
func (s *Impl) acquireLock(settings models.Settings) (Locker, bool) {
	if err := os.MkdirAll(filepath.Dir(settings.LockPath), 0o755); err != nil {
		s.logger.Warn().Err(err).Str("path", settings.LockPath).Msg("cannot prepare lock directory, proceeding unlocked")
		return nil, true
	}
	locker := s.lockerFor(settings.LockPath)
	locked, err := locker.TryLock()
	if err != nil {
		s.logger.Warn().Err(err).Str("path", settings.LockPath).Msg("lock unavailable, proceeding unlocked")
		return nil, true
	}
	if !locked {
		s.logger.Warn().Str("path", settings.LockPath).Msg("another instance is running, skipping")
		return nil, false
	}
	return locker, true
}

// Run executes the generated replication commands. Datasets are
// processed under a bounded worker pool (default bound 1, the
// sequential reference behavior); one command's failure is logged
// against its dataset only.
func (s *Impl) Run(ctx context.Context, cfg models.Config, only string, dryRun bool) (*models.RunResult, error) {
	start := s.now()
	result := &models.RunResult{}

	locker, proceed := s.acquireLock(cfg.Settings)
	if !proceed {
		result.Locked = true
		return result, nil
	}
	if locker != nil {
		defer func() { _ = locker.Unlock() }()
	}

	specs := s.commandSvc.Generate(cfg, only)
	result.Commands = len(specs)
	if len(specs) == 0 {
		s.logger.Info().Msg("no replication commands to run")
		return result, nil
	}

	// Group by dataset so hooks and log files stay per-dataset even
	// when several destinations are declared.
	var order []string
	grouped := make(map[string][]models.CommandSpec)
	for _, spec := range specs {
		if _, seen := grouped[spec.Source]; !seen {
			order = append(order, spec.Source)
		}
		grouped[spec.Source] = append(grouped[spec.Source], spec)
	}

	jobs := cfg.Settings.Jobs
	if jobs < 1 {
		jobs = 1
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(jobs)

	for _, source := range order {
		source := source
		cmds := grouped[source]
		g.Go(func() error {
			executed, skipped, failed := s.runDataset(ctx, cfg, source, cmds, dryRun)
			mu.Lock()
			result.Executed += executed
			result.Skipped += skipped
			result.Failed += failed
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	result.Duration = time.Since(start)
	s.logger.Info().
		Int("commands", result.Commands).
		Int("executed", result.Executed).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Dur("duration", result.Duration).
		Msg("replication run finished")

	return result, nil
}

func (s *Impl) runDataset(ctx context.Context, cfg models.Config, source string, cmds []models.CommandSpec, dryRun bool) (executed, skipped, failed int) {
	ds, ok := cfg.FindDataset(source)
	if !ok {
		return 0, len(cmds), 0
	}
	tpl, _ := cfg.ResolveTemplate(*ds)

	if tpl != nil && tpl.PreScript != "" {
		if err := s.runHook(ctx, source, "pre_script", tpl.PreScript, dryRun); err != nil {
			s.logger.Error().Err(err).Str("dataset", source).Msg("pre_script failed, dataset skipped")
			return 0, len(cmds), 0
		}
	}

	for _, spec := range cmds {
		switch s.runCommand(ctx, cfg, *ds, spec, dryRun) {
		case outcomeExecuted:
			executed++
		case outcomeSkipped:
			skipped++
		case outcomeFailed:
			failed++
		}
	}

	if tpl != nil && tpl.PostScript != "" {
		if err := s.runHook(ctx, source, "post_script", tpl.PostScript, dryRun); err != nil {
			s.logger.Error().Err(err).Str("dataset", source).Msg("post_script failed")
		}
	}

	return executed, skipped, failed
}

type outcome int

const (
	outcomeExecuted outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (s *Impl) runCommand(ctx context.Context, cfg models.Config, ds models.Dataset, spec models.CommandSpec, dryRun bool) outcome {
	dest := spec.Destination

	if dest.Remote() && ds.WakeMAC != "" && !dryRun {
		if err := s.wolSvc.Wake(ctx, ds.WakeMAC, ds.WakeBroadcast); err != nil {
			s.logger.Warn().Err(err).
				Str("dataset", ds.Source).
				Str("host", dest.Host).
				Msg("wake-on-LAN failed, trying destination anyway")
		}
	}

	// Existence check strictly precedes execution for this destination.
	if exists, err := s.zfsSvc.PoolExists(ctx, dest.Host, dest.Pool()); err != nil || !exists {
		s.logger.Warn().Err(err).
			Str("dataset", ds.Source).
			Str("destination", dest.String()).
			Str("pool", dest.Pool()).
			Msg("destination unavailable, command skipped")
		return outcomeSkipped
	}

	if dryRun {
		s.logger.Info().
			Str("dataset", ds.Source).
			Str("command", spec.Binary+" "+strings.Join(spec.Args, " ")).
			Msg("dry-run: would replicate")
		return outcomeSkipped
	}

	s.logger.Info().
		Str("dataset", ds.Source).
		Str("destination", dest.String()).
		Msg("replicating")

	output, err := s.executor.Execute(ctx, spec.Binary, spec.Args...)
	s.appendLog(cfg.Settings.LogDir, ds.Source, spec, output, err)

	if err != nil {
		s.logger.Error().Err(err).
			Str("dataset", ds.Source).
			Str("destination", dest.String()).
			Msg("replication command failed")
		return outcomeFailed
	}
	return outcomeExecuted
}

// LogPath returns the per-dataset log file path, derived
// deterministically from the dataset name.
func LogPath(logDir, source string) string {
	return filepath.Join(logDir, strings.ReplaceAll(source, "/", "_")+".log")
}

// appendLog appends the command output to the dataset's log file,
// never truncating. Log-file trouble is confined to this command: the
// output still went through the logger, the run continues.
func (s *Impl) appendLog(logDir, source string, spec models.CommandSpec, output []byte, cmdErr error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		s.logger.Warn().Err(err).Str("dataset", source).Msg("cannot create log directory, output not persisted")
		return
	}
	path := LogPath(logDir, source)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("cannot open log file, output not persisted")
		return
	}
	defer func() { _ = f.Close() }()

	header := fmt.Sprintf("=== %s %s %s\n", s.now().Format(time.RFC3339), spec.Binary, strings.Join(spec.Args, " "))
	_, _ = f.WriteString(header)
	_, _ = f.Write(output)
	if cmdErr != nil {
		_, _ = f.WriteString(fmt.Sprintf("=== error: %v\n", cmdErr))
	}
}

func (s *Impl) runHook(ctx context.Context, source, kind, script string, dryRun bool) error {
	if dryRun {
		s.logger.Info().Str("dataset", source).Str(kind, script).Msg("dry-run: would run hook")
		return nil
	}
	output, err := s.executor.Execute(ctx, "sh", "-c", script)
	if err != nil {
		return fmt.Errorf("%s: %w, output: %s", kind, err, string(output))
	}
	return nil
}

// Cleanup applies retention pruning to every dataset whose template
// enables autoprune, on the source and on each destination. One
// target's listing or deletion failure never blocks the others.
func (s *Impl) Cleanup(ctx context.Context, cfg models.Config, only string, dryRun bool) (*models.PruneResult, error) {
	start := s.now()
	result := &models.PruneResult{DryRun: dryRun}

	locker, proceed := s.acquireLock(cfg.Settings)
	if !proceed {
		return result, nil
	}
	if locker != nil {
		defer func() { _ = locker.Unlock() }()
	}

	for _, ds := range cfg.Datasets {
		if only != "" && ds.Source != only {
			continue
		}
		if ds.Ignored() {
			s.logger.Debug().Str("dataset", ds.Source).Msg("ignore template, not pruned")
			continue
		}

		tpl, err := cfg.ResolveTemplate(ds)
		if err != nil {
			s.logger.Warn().Err(err).Str("dataset", ds.Source).Msg("excluded from pruning")
			continue
		}
		if tpl == nil || !tpl.AutoPrune || len(tpl.Retention) == 0 {
			continue
		}

		type target struct {
			host string
			path string
		}
		targets := []target{{host: "", path: ds.Source}}
		for _, dest := range ds.Destinations {
			targets = append(targets, target{host: dest.Host, path: dest.Path})
		}

		for _, tgt := range targets {
			id := tgt.path
			if tgt.host != "" {
				id = tgt.host + ":" + tgt.path
			}

			snaps, err := s.zfsSvc.Snapshots(ctx, tgt.host, tgt.path)
			if err != nil {
				s.logger.Error().Err(err).Str("target", id).Msg("cannot list snapshots, target skipped")
				continue
			}

			plan := s.retentionSvc.Plan(id, snaps, tpl.Retention, cfg.Settings.SnapshotPrefix, s.now())
			res := s.retentionSvc.Apply(ctx, tgt.host, plan, dryRun)

			result.Planned += res.Planned
			result.Deleted += res.Deleted
			result.Failed += res.Failed
		}
	}

	result.Duration = time.Since(start)
	s.logger.Info().
		Int("planned", result.Planned).
		Int("deleted", result.Deleted).
		Int("failed", result.Failed).
		Bool("dry_run", result.DryRun).
		Dur("duration", result.Duration).
		Msg("retention pruning finished")

	return result, nil
}
