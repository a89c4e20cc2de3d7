// Package models contains the data structures used throughout zync.
package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// IgnoreTemplate is the reserved template name that disables all
// processing for datasets referencing it.
const IgnoreTemplate = "ignore"

// Config holds the complete parsed configuration for a run.
type Config struct {
	Path      string // file the config was loaded from, empty for readers
	Settings  Settings
	Templates map[string]Template
	Datasets  []Dataset // in declaration order
}

// Settings holds engine-level paths and knobs from the [settings] section.
type Settings struct {
	Binary         string // replication binary, default "syncoid"
	RunnerPath     string // path written into generated cron lines
	CrontabPath    string // generated schedule file
	MarkerPath     string // last-generated marker file
	LockPath       string // single-instance lock file
	LogDir         string // per-dataset command logs
	SnapshotPrefix string // short-name prefix marking our snapshots
	Jobs           int    // worker-pool bound, default 1
	SSHUser        string
	SSHPort        int
	SSHKeyPath     string
}

// Template is a named, reusable bundle of settings applied to datasets.
type Template struct {
	Name       string
	Frequency  string // raw frequency string, e.g. "2h"
	Retention  []RetentionRule
	AutoSnap   bool
	AutoPrune  bool
	PreScript  string
	PostScript string
	WarnAge    time.Duration // overrides the frequency-derived age threshold
	CritAge    time.Duration // upgrades stale to critical
}

// Overrides carries per-dataset values for the template policy keys.
// Only keys the dataset actually sets are recorded; at resolution time
// they win over the referenced template's values.
type Overrides struct {
	Frequency  *string
	Retention  []RetentionRule
	AutoSnap   *bool
	AutoPrune  *bool
	PreScript  *string
	PostScript *string
	WarnAge    *time.Duration
	CritAge    *time.Duration
}

// Empty reports whether no policy key is set.
func (o Overrides) Empty() bool {
	return o.Frequency == nil && o.Retention == nil &&
		o.AutoSnap == nil && o.AutoPrune == nil &&
		o.PreScript == nil && o.PostScript == nil &&
		o.WarnAge == nil && o.CritAge == nil
}

// ApplyTo overlays the set keys onto a template.
func (o Overrides) ApplyTo(tpl *Template) {
	if o.Frequency != nil {
		tpl.Frequency = *o.Frequency
	}
	if o.Retention != nil {
		tpl.Retention = o.Retention
	}
	if o.AutoSnap != nil {
		tpl.AutoSnap = *o.AutoSnap
	}
	if o.AutoPrune != nil {
		tpl.AutoPrune = *o.AutoPrune
	}
	if o.PreScript != nil {
		tpl.PreScript = *o.PreScript
	}
	if o.PostScript != nil {
		tpl.PostScript = *o.PostScript
	}
	if o.WarnAge != nil {
		tpl.WarnAge = *o.WarnAge
	}
	if o.CritAge != nil {
		tpl.CritAge = *o.CritAge
	}
}

// RetentionRule buckets snapshots by age and caps how many survive.
// Rules are evaluated in declaration order; earlier rules claim
// snapshots before later ones see them.
type RetentionRule struct {
	Magnitude int
	Unit      string // m, h, d, w, mo, y
	Keep      int
}

// Window returns the rule's age window as a duration.
func (r RetentionRule) Window() time.Duration {
	return Frequency{N: r.Magnitude, Unit: r.Unit}.Duration()
}

func (r RetentionRule) String() string {
	return fmt.Sprintf("%d%s:%d", r.Magnitude, r.Unit, r.Keep)
}

// Dataset is a source storage unit tracked for replication and retention.
type Dataset struct {
	Source        string    // unique key, e.g. "tank/vm"
	TemplateName  string    // empty if no use_template
	Overrides     Overrides // dataset-level values for template policy keys
	Options       []Option
	Destinations  []Destination
	WakeMAC       string // optional wake-on-LAN before remote replication
	WakeBroadcast string
}

// Ignored reports whether the dataset references the reserved ignore template.
func (d Dataset) Ignored() bool {
	return d.TemplateName == IgnoreTemplate
}

// Option is a single replication option flag from an option_<name> key.
type Option struct {
	Name  string
	Value string // empty for plain boolean flags
}

// Flag renders the option as a command-line argument.
func (o Option) Flag() string {
	if o.Value == "" {
		return "--" + o.Name
	}
	return "--" + o.Name + "=" + o.Value
}

// Destination is a replication target, remote iff Host is set.
type Destination struct {
	Host string
	Path string
}

// Remote reports whether the destination lives on another host.
func (d Destination) Remote() bool { return d.Host != "" }

// Pool returns the top-level pool name, the substring before the
// first path separator.
func (d Destination) Pool() string {
	if i := strings.IndexByte(d.Path, '/'); i >= 0 {
		return d.Path[:i]
	}
	return d.Path
}

func (d Destination) String() string {
	if d.Remote() {
		return d.Host + ":" + d.Path
	}
	return d.Path
}

// Frequency is a parsed "<integer><unit>" replication frequency.
type Frequency struct {
	N    int
	Unit string
}

// Duration returns the frequency interval. Months and years use the
// 30/365 day approximations; exactness only matters for age thresholds,
// scheduling goes through cron fields instead.
func (f Frequency) Duration() time.Duration {
	day := 24 * time.Hour
	switch f.Unit {
	case "m":
		return time.Duration(f.N) * time.Minute
	case "h":
		return time.Duration(f.N) * time.Hour
	case "d":
		return time.Duration(f.N) * day
	case "w":
		return time.Duration(f.N) * 7 * day
	case "mo":
		return time.Duration(f.N) * 30 * day
	case "y":
		return time.Duration(f.N) * 365 * day
	}
	return 0
}

// ParseFrequency parses strings like "15m", "2h", "1d", "1w", "3mo", "1y".
func ParseFrequency(s string) (Frequency, error) {
	s = strings.TrimSpace(s)
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i == len(s) {
		return Frequency{}, fmt.Errorf("%w: %q", ErrBadFrequency, s)
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil || n <= 0 {
		return Frequency{}, fmt.Errorf("%w: %q", ErrBadFrequency, s)
	}
	unit := s[i:]
	switch unit {
	case "m", "h", "d", "w", "mo", "y":
		return Frequency{N: n, Unit: unit}, nil
	}
	return Frequency{}, fmt.Errorf("%w: unit %q in %q", ErrBadFrequency, unit, s)
}

// ParseRetentionRule parses a single "<dur>:<count>" spec, e.g. "24h:2".
func ParseRetentionRule(s string) (RetentionRule, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return RetentionRule{}, fmt.Errorf("retention rule %q: want <duration>:<count>", s)
	}
	freq, err := ParseFrequency(parts[0])
	if err != nil {
		return RetentionRule{}, fmt.Errorf("retention rule %q: %w", s, err)
	}
	keep, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || keep < 0 {
		return RetentionRule{}, fmt.Errorf("retention rule %q: bad keep count", s)
	}
	return RetentionRule{Magnitude: freq.N, Unit: freq.Unit, Keep: keep}, nil
}
