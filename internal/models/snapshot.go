package models

import (
	"strings"
	"time"
)

// Snapshot is a read-only view of one snapshot observed on a dataset
// or destination. The only mutation ever applied is destruction.
type Snapshot struct {
	Name     string // full name, e.g. "tank/vm@autosnap_2026-08-29_00:00:01"
	Creation time.Time
}

// ShortName returns the part after the '@' separator.
func (s Snapshot) ShortName() string {
	if i := strings.IndexByte(s.Name, '@'); i >= 0 {
		return s.Name[i+1:]
	}
	return s.Name
}

// Ours reports whether the snapshot follows our naming convention and
// is therefore eligible for pruning and age verification. Foreign
// snapshots are never touched.
func (s Snapshot) Ours(prefix string) bool {
	return strings.HasPrefix(s.ShortName(), prefix)
}

// ScheduleEntry is one generated cron line for a unique
// (source, template) pair.
type ScheduleEntry struct {
	Minute     string
	Hour       string
	DayOfMonth string
	Month      string
	DayOfWeek  string
	Source     string
	Template   string
}

// CronFields returns the five cron time fields, space separated.
func (e ScheduleEntry) CronFields() string {
	return strings.Join([]string{e.Minute, e.Hour, e.DayOfMonth, e.Month, e.DayOfWeek}, " ")
}

// CommandSpec is one executable replication command for a
// dataset x destination pair.
type CommandSpec struct {
	Binary      string
	Args        []string // everything after the binary, in fixed order
	Source      string
	Destination Destination
}

// ScheduleResult holds the outcome of a schedule generation attempt.
type ScheduleResult struct {
	Written   bool // false for the unchanged no-op case
	Unchanged bool
	Forced    bool
	Entries   int
	Path      string
	Reloaded  bool // scheduler daemon reload succeeded
}

// PrunePlan partitions a snapshot inventory under an ordered rule set.
// Snapshots in neither list fell outside every rule's window and are
// left alone.
type PrunePlan struct {
	Target string // dataset or destination identifier
	Kept   []Snapshot
	Delete []Snapshot
}

// PruneResult holds the outcome of applying prune plans.
type PruneResult struct {
	Planned  int
	Deleted  int
	Failed   int
	DryRun   bool
	Duration time.Duration
}

// RunResult holds the outcome of one replication batch.
type RunResult struct {
	Commands int
	Executed int
	Skipped  int // destination pool missing, failed pre_script, dry run
	Failed   int
	Locked   bool // another instance held the lock; nothing was run
	Duration time.Duration
}

// VerifyStatus classifies the newest snapshot age on a destination.
// Unknown is a distinct outcome and is never folded into fresh or stale.
type VerifyStatus string

const (
	StatusFresh    VerifyStatus = "fresh"
	StatusStale    VerifyStatus = "stale"
	StatusCritical VerifyStatus = "critical"
	StatusUnknown  VerifyStatus = "unknown"
)

// VerifyReport is the age classification for one destination.
type VerifyReport struct {
	Source      string
	Destination Destination
	Status      VerifyStatus
	Snapshot    string        // newest matching snapshot, if any
	Age         time.Duration // zero when Status is unknown
	Threshold   time.Duration
	Reason      string // populated for unknown
}
