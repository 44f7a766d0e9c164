// Package catalog loads work templates from YAML.
//
// A catalog file lists templates under a top-level "templates" key:
//
//	templates:
//	  - id: reflection
//	    name: Reflection
//	    action_sequence: [recall_recent, reflect, write_journal]
//	    duration: 30m
//	    estimated_cost: 0.05
//	    priority: 2
//	    category: reflection
//	    preferred_windows:
//	      - start_hour: 20
//	        end_hour: 23
//	        preference_weight: 0.9
//	        days: [sat, sun]
//
// When no file is configured the built-in Default catalog is used.
package catalog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/cadence/internal/workunit"
)

const maxCatalogFileSize = 1024 * 1024 // 1MB

var (
	ErrEmptyCatalog = errors.New("catalog has no templates")
	ErrDuplicateID  = errors.New("duplicate template id")
	ErrTooLarge     = errors.New("catalog file too large")
	ErrUnknownDay   = errors.New("unknown weekday")
)

type fileWindow struct {
	StartHour        int      `koanf:"start_hour"`
	EndHour          int      `koanf:"end_hour"`
	Days             []string `koanf:"days"`
	PreferenceWeight float64  `koanf:"preference_weight"`
}

type fileTemplate struct {
	ID               string        `koanf:"id"`
	Name             string        `koanf:"name"`
	Description      string        `koanf:"description"`
	RunnerKey        string        `koanf:"runner_key"`
	ActionSequence   []string      `koanf:"action_sequence"`
	Duration         time.Duration `koanf:"duration"`
	EstimatedCost    float64       `koanf:"estimated_cost"`
	PreferredWindows []fileWindow  `koanf:"preferred_windows"`
	Priority         int           `koanf:"priority"`
	RequiresIdle     bool          `koanf:"requires_idle"`
	Category         string        `koanf:"category"`
}

// Load reads and validates the catalog file at path.
func Load(path string) ([]*workunit.Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat catalog: %w", err)
	}
	if info.Size() > maxCatalogFileSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, info.Size())
	}
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	templates, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return templates, nil
}

// Parse decodes and validates catalog YAML.
func Parse(content []byte) ([]*workunit.Template, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	var raw []fileTemplate
	if err := k.Unmarshal("templates", &raw); err != nil {
		return nil, fmt.Errorf("failed to decode templates: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrEmptyCatalog
	}

	seen := make(map[string]bool, len(raw))
	out := make([]*workunit.Template, 0, len(raw))
	for i, ft := range raw {
		spec, err := ft.spec()
		if err != nil {
			return nil, fmt.Errorf("template %d (%s): %w", i, ft.ID, err)
		}
		t, err := workunit.NewTemplate(spec)
		if err != nil {
			return nil, fmt.Errorf("template %d: %w", i, err)
		}
		if seen[t.ID()] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, t.ID())
		}
		seen[t.ID()] = true
		out = append(out, t)
	}
	return out, nil
}

func (ft fileTemplate) spec() (workunit.TemplateSpec, error) {
	cat, err := workunit.ParseCategory(ft.Category)
	if err != nil {
		return workunit.TemplateSpec{}, err
	}
	windows := make([]workunit.TimeWindow, 0, len(ft.PreferredWindows))
	for _, fw := range ft.PreferredWindows {
		days, err := parseDays(fw.Days)
		if err != nil {
			return workunit.TemplateSpec{}, err
		}
		windows = append(windows, workunit.TimeWindow{
			StartHour:        fw.StartHour,
			EndHour:          fw.EndHour,
			Days:             days,
			PreferenceWeight: fw.PreferenceWeight,
		})
	}
	return workunit.TemplateSpec{
		ID:               ft.ID,
		Name:             ft.Name,
		Description:      ft.Description,
		RunnerKey:        ft.RunnerKey,
		ActionSequence:   ft.ActionSequence,
		DefaultDuration:  ft.Duration,
		EstimatedCost:    ft.EstimatedCost,
		PreferredWindows: windows,
		Priority:         ft.Priority,
		RequiresIdle:     ft.RequiresIdle,
		Category:         cat,
	}, nil
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

func parseDays(names []string) ([]time.Weekday, error) {
	if len(names) == 0 {
		return nil, nil
	}
	out := make([]time.Weekday, 0, len(names))
	for _, n := range names {
		d, ok := weekdays[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownDay, n)
		}
		out = append(out, d)
	}
	return out, nil
}

// ActionIDs returns every action id referenced by templates, in first-seen
// order.
func ActionIDs(templates []*workunit.Template) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range templates {
		for _, a := range t.ActionSequence() {
			if !seen[a] {
				seen[a] = true
				out = append(out, a)
			}
		}
	}
	return out
}
