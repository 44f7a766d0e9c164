package workunit

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Priority bounds. Lower values run sooner.
const (
	MinPriority     = 1
	MaxPriority     = 10
	DefaultPriority = 5
)

// Template is an immutable blueprint for work units. Fields are unexported
// so a template cannot change after NewTemplate validates it.
type Template struct {
	id               string
	name             string
	description      string
	runnerKey        string
	actionSequence   []string
	defaultDuration  time.Duration
	estimatedCost    float64
	preferredWindows []TimeWindow
	priority         int
	requiresIdle     bool
	category         Category
}

// TemplateSpec carries the fields used to build a Template.
type TemplateSpec struct {
	ID               string
	Name             string
	Description      string
	RunnerKey        string
	ActionSequence   []string
	DefaultDuration  time.Duration
	EstimatedCost    float64
	PreferredWindows []TimeWindow
	Priority         int
	RequiresIdle     bool
	Category         Category
}

// NewTemplate validates spec and returns an immutable Template.
func NewTemplate(spec TemplateSpec) (*Template, error) {
	if spec.ID == "" {
		return nil, ErrEmptyTemplateID
	}
	if spec.Name == "" {
		return nil, ErrEmptyName
	}
	if spec.RunnerKey == "" && len(spec.ActionSequence) == 0 {
		return nil, fmt.Errorf("template %s: %w", spec.ID, ErrNoExecutionTarget)
	}
	if spec.RunnerKey != "" && len(spec.ActionSequence) > 0 {
		return nil, fmt.Errorf("template %s: %w", spec.ID, ErrBothTargets)
	}
	if spec.EstimatedCost < 0 {
		return nil, fmt.Errorf("template %s: %w", spec.ID, ErrNegativeCost)
	}
	if !spec.Category.Valid() {
		return nil, fmt.Errorf("template %s: %w: %q", spec.ID, ErrUnknownCategory, spec.Category)
	}
	for _, w := range spec.PreferredWindows {
		if err := w.Validate(); err != nil {
			return nil, fmt.Errorf("template %s: %w", spec.ID, err)
		}
	}

	priority := spec.Priority
	if priority == 0 {
		priority = DefaultPriority
	}
	duration := spec.DefaultDuration
	if duration <= 0 {
		duration = 30 * time.Minute
	}

	return &Template{
		id:               spec.ID,
		name:             spec.Name,
		description:      spec.Description,
		runnerKey:        spec.RunnerKey,
		actionSequence:   append([]string(nil), spec.ActionSequence...),
		defaultDuration:  duration,
		estimatedCost:    spec.EstimatedCost,
		preferredWindows: append([]TimeWindow(nil), spec.PreferredWindows...),
		priority:         clampPriority(priority),
		requiresIdle:     spec.RequiresIdle,
		category:         spec.Category,
	}, nil
}

// MustTemplate is NewTemplate for static catalogs; it panics on invalid input.
func MustTemplate(spec TemplateSpec) *Template {
	t, err := NewTemplate(spec)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Template) ID() string                     { return t.id }
func (t *Template) Name() string                   { return t.name }
func (t *Template) Description() string            { return t.description }
func (t *Template) RunnerKey() string              { return t.runnerKey }
func (t *Template) DefaultDuration() time.Duration { return t.defaultDuration }
func (t *Template) EstimatedCost() float64         { return t.estimatedCost }
func (t *Template) Priority() int                  { return t.priority }
func (t *Template) RequiresIdle() bool             { return t.requiresIdle }
func (t *Template) Category() Category             { return t.category }

// ActionSequence returns a copy of the ordered action ids.
func (t *Template) ActionSequence() []string {
	return append([]string(nil), t.actionSequence...)
}

// PreferredWindows returns a copy of the preferred windows.
func (t *Template) PreferredWindows() []TimeWindow {
	return append([]TimeWindow(nil), t.preferredWindows...)
}

// Spec returns the fields of t as a TemplateSpec.
func (t *Template) Spec() TemplateSpec {
	return TemplateSpec{
		ID:               t.id,
		Name:             t.name,
		Description:      t.description,
		RunnerKey:        t.runnerKey,
		ActionSequence:   t.ActionSequence(),
		DefaultDuration:  t.defaultDuration,
		EstimatedCost:    t.estimatedCost,
		PreferredWindows: t.PreferredWindows(),
		Priority:         t.priority,
		RequiresIdle:     t.requiresIdle,
		Category:         t.category,
	}
}

// Override adjusts a freshly instantiated unit.
type Override func(*WorkUnit)

// WithDuration overrides the estimated duration.
func WithDuration(d time.Duration) Override {
	return func(u *WorkUnit) {
		if d > 0 {
			u.EstimatedDuration = d
		}
	}
}

// WithCost overrides the estimated cost.
func WithCost(cost float64) Override {
	return func(u *WorkUnit) {
		if cost >= 0 {
			u.EstimatedCost = cost
		}
	}
}

// WithPriority overrides the priority.
func WithPriority(p int) Override {
	return func(u *WorkUnit) {
		u.Priority = clampPriority(p)
	}
}

// WithName overrides the display name.
func WithName(name string) Override {
	return func(u *WorkUnit) {
		if name != "" {
			u.Name = name
		}
	}
}

// Instantiate creates a new planned WorkUnit with a fresh identity.
func (t *Template) Instantiate(focus, motivation string, overrides ...Override) *WorkUnit {
	u := &WorkUnit{
		ID:                uuid.NewString(),
		Name:              t.name,
		Description:       t.description,
		ActionSequence:    t.ActionSequence(),
		RunnerKey:         t.runnerKey,
		TemplateID:        t.id,
		Category:          t.category,
		PreferredWindows:  t.PreferredWindows(),
		EstimatedDuration: t.defaultDuration,
		EstimatedCost:     t.estimatedCost,
		Priority:          t.priority,
		RequiresIdle:      t.requiresIdle,
		Focus:             focus,
		Motivation:        motivation,
		Status:            StatusPlanned,
		CreatedAt:         now(),
	}
	for _, o := range overrides {
		o(u)
	}
	return u
}

func clampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}
