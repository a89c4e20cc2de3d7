// Package config provides configuration file parsing.
package config

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/fgeck/zync/internal/models"
	"gopkg.in/ini.v1"
)

// ConfigError is the fatal taxonomy entry: the configuration could not
// be read or parsed, and the process must exit non-zero before doing
// any other work.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Parser handles configuration file parsing.
type Parser struct {
	opts ini.LoadOptions
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	return &Parser{
		// Section names are ZFS dataset paths and must keep their case.
		// Duplicate sections must surface as distinct entries so parse
		// can reject them instead of ini merging them silently.
		opts: ini.LoadOptions{AllowNonUniqueSections: true},
	}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.Config, error) {
	f, err := ini.LoadSources(p.opts, path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	cfg, err := p.parse(f)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	cfg.Path = path
	return cfg, nil
}

// LoadReader loads configuration from raw content (useful for testing).
func (p *Parser) LoadReader(content string) (*models.Config, error) {
	f, err := ini.LoadSources(p.opts, []byte(content))
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	cfg, err := p.parse(f)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	return cfg, nil
}

var destinationKey = regexp.MustCompile(`^destination_(\d+)$`)

func (p *Parser) parse(f *ini.File) (*models.Config, error) {
	cfg := &models.Config{
		Settings:  defaultSettings(),
		Templates: make(map[string]models.Template),
	}

	for _, section := range f.Sections() {
		name := section.Name()
		switch {
		case name == ini.DefaultSection:
			if len(section.Keys()) > 0 {
				return nil, fmt.Errorf("keys outside any section: %s", section.KeyStrings()[0])
			}
		case name == "settings":
			if err := p.parseSettings(section, &cfg.Settings); err != nil {
				return nil, err
			}
		case strings.HasPrefix(name, "template_"):
			tpl, err := p.parseTemplate(section)
			if err != nil {
				return nil, err
			}
			if _, dup := cfg.Templates[tpl.Name]; dup {
				return nil, fmt.Errorf("template %q declared twice", tpl.Name)
			}
			cfg.Templates[tpl.Name] = tpl
		default:
			ds, err := p.parseDataset(section)
			if err != nil {
				return nil, err
			}
			for _, existing := range cfg.Datasets {
				if existing.Source == ds.Source {
					return nil, fmt.Errorf("dataset %q declared twice", ds.Source)
				}
			}
			cfg.Datasets = append(cfg.Datasets, ds)
		}
	}

	return cfg, nil
}

func defaultSettings() models.Settings {
	return models.Settings{
		Binary:         "syncoid",
		RunnerPath:     "/usr/local/bin/zync",
		CrontabPath:    "/etc/cron.d/zync",
		MarkerPath:     "/var/lib/zync/last-generated",
		LockPath:       "/var/lib/zync/zync.lock",
		LogDir:         "/var/log/zync",
		SnapshotPrefix: "autosnap_",
		Jobs:           1,
		SSHUser:        "root",
		SSHPort:        22,
	}
}

func (p *Parser) parseSettings(section *ini.Section, s *models.Settings) error {
	for _, key := range section.Keys() {
		val := key.String()
		switch key.Name() {
		case "binary":
			s.Binary = val
		case "runner_path":
			s.RunnerPath = val
		case "crontab_path":
			s.CrontabPath = val
		case "marker_path":
			s.MarkerPath = val
		case "lock_path":
			s.LockPath = val
		case "log_dir":
			s.LogDir = val
		case "snapshot_prefix":
			s.SnapshotPrefix = val
		case "jobs":
			jobs, err := strconv.Atoi(val)
			if err != nil || jobs < 1 {
				return fmt.Errorf("settings: jobs must be a positive integer, got %q", val)
			}
			s.Jobs = jobs
		case "ssh_user":
			s.SSHUser = val
		case "ssh_port":
			port, err := strconv.Atoi(val)
			if err != nil || port < 1 || port > 65535 {
				return fmt.Errorf("settings: invalid ssh_port %q", val)
			}
			s.SSHPort = port
		case "ssh_key":
			s.SSHKeyPath = val
		default:
			return fmt.Errorf("settings: unrecognized key %q", key.Name())
		}
	}
	return nil
}

// parsePolicyKey handles the policy keys shared by template sections
// and dataset sections. It reports whether the key was recognized;
// unrecognized keys are left for the caller to reject.
func parsePolicyKey(scope string, key *ini.Key, o *models.Overrides) (bool, error) {
	val := key.String()
	switch key.Name() {
	case "frequency":
		o.Frequency = &val
	case "retention":
		var rules []models.RetentionRule
		for _, spec := range strings.Split(val, ",") {
			rule, err := models.ParseRetentionRule(spec)
			if err != nil {
				return true, fmt.Errorf("%s: %w", scope, err)
			}
			rules = append(rules, rule)
		}
		o.Retention = rules
	case "autosnap":
		b, err := key.Bool()
		if err != nil {
			return true, fmt.Errorf("%s: autosnap: %w", scope, err)
		}
		o.AutoSnap = &b
	case "autoprune":
		b, err := key.Bool()
		if err != nil {
			return true, fmt.Errorf("%s: autoprune: %w", scope, err)
		}
		o.AutoPrune = &b
	case "pre_script":
		o.PreScript = &val
	case "post_script":
		o.PostScript = &val
	case "warn_age":
		freq, err := models.ParseFrequency(val)
		if err != nil {
			return true, fmt.Errorf("%s: warn_age: %w", scope, err)
		}
		d := freq.Duration()
		o.WarnAge = &d
	case "crit_age":
		freq, err := models.ParseFrequency(val)
		if err != nil {
			return true, fmt.Errorf("%s: crit_age: %w", scope, err)
		}
		d := freq.Duration()
		o.CritAge = &d
	default:
		return false, nil
	}
	return true, nil
}

func (p *Parser) parseTemplate(section *ini.Section) (models.Template, error) {
	name := strings.TrimPrefix(section.Name(), "template_")
	if name == "" {
		return models.Template{}, fmt.Errorf("template section with empty name")
	}

	scope := fmt.Sprintf("template %q", name)
	var o models.Overrides
	for _, key := range section.Keys() {
		handled, err := parsePolicyKey(scope, key, &o)
		if err != nil {
			return models.Template{}, err
		}
		if !handled {
			// Unrecognized keys are rejected, not silently carried.
			return models.Template{}, fmt.Errorf("%s: unrecognized key %q", scope, key.Name())
		}
	}

	tpl := models.Template{Name: name}
	o.ApplyTo(&tpl)
	return tpl, nil
}

func (p *Parser) parseDataset(section *ini.Section) (models.Dataset, error) {
	ds := models.Dataset{Source: section.Name()}

	type numberedDest struct {
		n    int
		dest models.Destination
	}
	var dests []numberedDest

	for _, key := range section.Keys() {
		val := key.String()
		kn := key.Name()
		switch {
		case kn == "use_template":
			// Resolution happens at use time, not here; a dangling
			// reference only excludes the dataset from generation.
			ds.TemplateName = val
		case kn == "wol_mac":
			ds.WakeMAC = val
		case kn == "wol_broadcast":
			ds.WakeBroadcast = val
		case destinationKey.MatchString(kn):
			n, _ := strconv.Atoi(destinationKey.FindStringSubmatch(kn)[1])
			dest, err := parseDestination(val)
			if err != nil {
				return models.Dataset{}, fmt.Errorf("dataset %q: %s: %w", ds.Source, kn, err)
			}
			dests = append(dests, numberedDest{n: n, dest: dest})
		case strings.HasPrefix(kn, "option_"):
			optName := strings.TrimPrefix(kn, "option_")
			if optName == "" {
				return models.Dataset{}, fmt.Errorf("dataset %q: empty option name", ds.Source)
			}
			opt := models.Option{Name: optName}
			if val != "true" {
				opt.Value = val
			}
			ds.Options = append(ds.Options, opt)
		default:
			// Policy keys on the dataset itself override the
			// referenced template's values at resolution time.
			handled, err := parsePolicyKey(fmt.Sprintf("dataset %q", ds.Source), key, &ds.Overrides)
			if err != nil {
				return models.Dataset{}, err
			}
			if !handled {
				return models.Dataset{}, fmt.Errorf("dataset %q: unrecognized key %q", ds.Source, kn)
			}
		}
	}

	sort.Slice(dests, func(i, j int) bool { return dests[i].n < dests[j].n })
	for _, d := range dests {
		ds.Destinations = append(ds.Destinations, d.dest)
	}

	return ds, nil
}

func parseDestination(val string) (models.Destination, error) {
	val = strings.TrimSpace(val)
	if val == "" {
		return models.Destination{}, fmt.Errorf("empty destination")
	}
	if i := strings.IndexByte(val, ':'); i >= 0 {
		host, path := val[:i], val[i+1:]
		if host == "" || path == "" {
			return models.Destination{}, fmt.Errorf("invalid destination %q", val)
		}
		return models.Destination{Host: host, Path: path}, nil
	}
	return models.Destination{Path: val}, nil
}
