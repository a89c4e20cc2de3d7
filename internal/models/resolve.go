package models

import "fmt"

// ResolveTemplate resolves a dataset's effective policy: the referenced
// template's settings overlaid by the dataset's own policy keys, with
// dataset values winning. A nil template with a nil error means the
// dataset declares neither a template nor any policy keys.
// The reserved ignore template always resolves, declared or not.
// A dangling reference returns ErrUnknownTemplate; callers log it and
// exclude the dataset from generation rather than aborting the run.
func (c *Config) ResolveTemplate(d Dataset) (*Template, error) {
	if d.TemplateName == IgnoreTemplate {
		tpl := Template{Name: IgnoreTemplate}
		return &tpl, nil
	}

	var tpl Template
	if d.TemplateName != "" {
		base, ok := c.Templates[d.TemplateName]
		if !ok {
			return nil, fmt.Errorf("%w: %q referenced by dataset %q", ErrUnknownTemplate, d.TemplateName, d.Source)
		}
		tpl = base
	} else if d.Overrides.Empty() {
		return nil, nil
	}

	d.Overrides.ApplyTo(&tpl)
	return &tpl, nil
}

// FindDataset returns the dataset with the given source path.
func (c *Config) FindDataset(source string) (*Dataset, bool) {
	for i := range c.Datasets {
		if c.Datasets[i].Source == source {
			return &c.Datasets[i], true
		}
	}
	return nil, false
}
