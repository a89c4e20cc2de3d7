// Package schedule generates the staggered cron schedule for all datasets.
package schedule

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/zync/internal/models"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Stagger hash salts. Versioned so the deterministic-schedule contract
// survives process restarts and future tweaks: changing the stagger
// means bumping the version, never silently reshuffling the fleet.
const (
	hourSalt    = "zync.hour.v1|"
	weekdaySalt = "zync.weekday.v1|"
)

// Service defines the interface for schedule generation.
type Service interface {
	Entries(cfg models.Config) []models.ScheduleEntry
	Generate(ctx context.Context, cfg models.Config, force, dryRun bool) (*models.ScheduleResult, error)
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

// Impl implements the schedule Service interface.
type Impl struct {
	executor CommandExecutor
	parser   cron.Parser
	now      func() time.Time
	logger   zerolog.Logger
}

// New creates a new schedule service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &DefaultExecutor{},
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		now:      time.Now,
		logger:   logger,
	}
}

// NewWithExecutor creates a new schedule service with a custom executor
// (for testing).
func NewWithExecutor(logger zerolog.Logger, executor CommandExecutor) *Impl {
	s := New(logger)
	s.executor = executor
	return s
}

func fnvSum(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// StaggerHour returns the deterministic hour-of-day (1..23) for a
// dataset name. FNV-1a is fixed by specification, so the same name
// maps to the same hour in every process, on every host.
func StaggerHour(name string) int {
	return int(fnvSum(hourSalt+name)%23) + 1
}

// StaggerWeekday returns the deterministic cron weekday (0=Sunday) for
// a dataset name. 70% of the hash space lands on Mon-Fri uniformly,
// the rest splits between Saturday and Sunday. The salt differs from
// the hour salt so hour and weekday stay uncorrelated per dataset.
func StaggerWeekday(name string) int {
	h := fnvSum(weekdaySalt + name)
	if h%10 < 7 {
		return 1 + int((h/10)%5) // Mon-Fri
	}
	if (h/10)%2 == 0 {
		return 6 // Saturday
	}
	return 0 // Sunday
}

// entryFor maps a parsed frequency to cron time fields.
func entryFor(source, template string, freq models.Frequency) models.ScheduleEntry {
	e := models.ScheduleEntry{
		Minute:     "0",
		Hour:       "*",
		DayOfMonth: "*",
		Month:      "*",
		DayOfWeek:  "*",
		Source:     source,
		Template:   template,
	}

	hour := fmt.Sprintf("%d", StaggerHour(source))

	switch freq.Unit {
	case "m":
		e.Minute = fmt.Sprintf("*/%d", freq.N)
	case "h":
		e.Hour = fmt.Sprintf("*/%d", freq.N)
	case "d":
		e.Hour = hour
		e.DayOfMonth = fmt.Sprintf("*/%d", freq.N)
	case "w":
		e.Hour = hour
		e.DayOfWeek = fmt.Sprintf("%d", StaggerWeekday(source))
	case "mo":
		e.Hour = hour
		e.DayOfMonth = "1"
		e.Month = fmt.Sprintf("*/%d", freq.N)
	case "y":
		e.Hour = hour
		e.DayOfMonth = "1"
		e.Month = "1"
	}

	return e
}

// fallbackEntry is the once-yearly schedule substituted when a
// frequency string cannot be parsed.
func fallbackEntry(source, template string) models.ScheduleEntry {
	return entryFor(source, template, models.Frequency{N: 1, Unit: "y"})
}

// Entries produces one schedule entry per unique (source, template)
// pair with a non-ignore template and a declared frequency, in
// discovery order.
func (s *Impl) Entries(cfg models.Config) []models.ScheduleEntry {
	var entries []models.ScheduleEntry
	seen := make(map[string]bool)

	for _, ds := range cfg.Datasets {
		if ds.Ignored() {
			s.logger.Debug().Str("dataset", ds.Source).Msg("ignore template, not scheduled")
			continue
		}

		tpl, err := cfg.ResolveTemplate(ds)
		if err != nil {
			s.logger.Warn().Err(err).Str("dataset", ds.Source).Msg("excluded from schedule")
			continue
		}
		if tpl == nil || tpl.Frequency == "" {
			continue
		}

		key := ds.Source + "\x00" + tpl.Name
		if seen[key] {
			continue
		}
		seen[key] = true

		var entry models.ScheduleEntry
		freq, err := models.ParseFrequency(tpl.Frequency)
		if err != nil {
			s.logger.Warn().Err(err).
				Str("dataset", ds.Source).
				Str("template", tpl.Name).
				Msg("falling back to once yearly")
			entry = fallbackEntry(ds.Source, tpl.Name)
		} else {
			entry = entryFor(ds.Source, tpl.Name, freq)
		}

		// Guard against ever emitting a line the crontab would reject.
		sched, err := s.parser.Parse(entry.CronFields())
		if err != nil {
			s.logger.Error().Err(err).
				Str("fields", entry.CronFields()).
				Str("dataset", ds.Source).
				Msg("generated invalid cron fields, entry dropped")
			continue
		}
		s.logger.Debug().
			Str("dataset", ds.Source).
			Str("fields", entry.CronFields()).
			Time("next_run", sched.Next(s.now())).
			Msg("schedule entry")

		entries = append(entries, entry)
	}

	return entries
}

// Generate (re)writes the schedule file. Without force, the write only
// happens when the configuration is newer than the last-generated
// marker; otherwise the call is a no-op that still reports status.
func (s *Impl) Generate(ctx context.Context, cfg models.Config, force, dryRun bool) (*models.ScheduleResult, error) {
	result := &models.ScheduleResult{Path: cfg.Settings.CrontabPath, Forced: force}

	if !force && cfg.Path != "" {
		stale, err := s.configChanged(cfg.Path, cfg.Settings.MarkerPath)
		if err != nil {
			return nil, err
		}
		if !stale {
			s.logger.Info().Str("path", result.Path).Msg("schedule unchanged")
			result.Unchanged = true
			return result, nil
		}
	}

	entries := s.Entries(cfg)
	result.Entries = len(entries)

	if dryRun {
		for _, e := range entries {
			s.logger.Info().
				Str("dataset", e.Source).
				Str("fields", e.CronFields()).
				Msg("dry-run: would schedule")
		}
		return result, nil
	}

	content := s.render(cfg, entries)
	if err := atomicWrite(cfg.Settings.CrontabPath, content); err != nil {
		return nil, fmt.Errorf("writing schedule file: %w", err)
	}
	result.Written = true

	if err := s.touchMarker(cfg.Settings.MarkerPath); err != nil {
		// A missing marker only means the next run regenerates again.
		s.logger.Warn().Err(err).Str("path", cfg.Settings.MarkerPath).Msg("failed to update marker")
	}

	if err := s.reloadScheduler(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("failed to reload cron daemon")
	} else {
		result.Reloaded = true
	}

	s.logger.Info().
		Int("entries", result.Entries).
		Str("path", result.Path).
		Msg("schedule written")

	return result, nil
}

// configChanged reports whether the config file is newer than the marker.
func (s *Impl) configChanged(configPath, markerPath string) (bool, error) {
	cfgInfo, err := os.Stat(configPath)
	if err != nil {
		return false, fmt.Errorf("stat config: %w", err)
	}
	markerInfo, err := os.Stat(markerPath)
	if err != nil {
		// No marker yet means the schedule was never generated.
		return true, nil //nolint:nilerr // absence is the signal, not an error
	}
	return cfgInfo.ModTime().After(markerInfo.ModTime()), nil
}

func (s *Impl) render(cfg models.Config, entries []models.ScheduleEntry) string {
	var b strings.Builder
	b.WriteString("# Generated by zync. Do not edit; changes are overwritten.\n")
	b.WriteString(fmt.Sprintf("# Source configuration: %s\n", cfg.Path))
	b.WriteString("#\n")
	b.WriteString("SHELL=/bin/sh\n")
	b.WriteString("PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin\n")
	b.WriteString("MAILTO=root\n")
	b.WriteString("\n")
	for _, e := range entries {
		b.WriteString(fmt.Sprintf("%s root %s run --config %s --dataset %s\n",
			e.CronFields(), cfg.Settings.RunnerPath, cfg.Path, e.Source))
	}
	return b.String()
}

// atomicWrite writes content to a temp file in the target directory and
// renames it into place, so a concurrent crontab reader never observes
// a partial file.
func atomicWrite(path, content string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (s *Impl) touchMarker(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(s.now().Format(time.RFC3339)+"\n"), 0o644)
}

func (s *Impl) reloadScheduler(ctx context.Context) error {
	output, err := s.executor.Execute(ctx, "systemctl", "reload-or-restart", "cron.service")
	if err != nil {
		return fmt.Errorf("reload cron: %w, output: %s", err, string(output))
	}
	return nil
}
