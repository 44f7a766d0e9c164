package workunit

import (
	"fmt"
	"strings"
	"time"
)

// Category is a budget category. The set is closed; use ParseCategory at
// boundaries instead of converting arbitrary strings.
type Category string

const (
	CategoryReflection  Category = "reflection"
	CategoryResearch    Category = "research"
	CategoryCreative    Category = "creative"
	CategoryMaintenance Category = "maintenance"
	CategoryCuriosity   Category = "curiosity"
	CategoryGrowth      Category = "growth"
	CategorySocial      Category = "social"
)

// AllCategories returns every known category in a stable order.
func AllCategories() []Category {
	return []Category{
		CategoryReflection,
		CategoryResearch,
		CategoryCreative,
		CategoryMaintenance,
		CategoryCuriosity,
		CategoryGrowth,
		CategorySocial,
	}
}

// ParseCategory converts a string into a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
	return c, nil
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryReflection, CategoryResearch, CategoryCreative, CategoryMaintenance,
		CategoryCuriosity, CategoryGrowth, CategorySocial:
		return true
	}
	return false
}

func (c Category) String() string { return string(c) }

// Status represents the lifecycle state of a work unit.
type Status string

const (
	StatusPlanned   Status = "planned"
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ValidTransitions defines allowed status transitions.
var ValidTransitions = map[Status][]Status{
	StatusPlanned:   {StatusScheduled, StatusRunning, StatusCancelled},
	StatusScheduled: {StatusRunning, StatusCancelled},
	StatusRunning:   {StatusCompleted, StatusFailed},
	StatusCompleted: {}, // terminal
	StatusFailed:    {}, // terminal
	StatusCancelled: {}, // terminal
}

// CanTransitionTo checks if a transition from s to target is valid.
func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range ValidTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// TimeWindow is a preferred hour range. EndHour is exclusive; a window whose
// end is before its start wraps past midnight (22→6). StartHour == EndHour
// covers the whole day.
type TimeWindow struct {
	StartHour        int            `json:"start_hour" yaml:"start_hour" koanf:"start_hour"`
	EndHour          int            `json:"end_hour" yaml:"end_hour" koanf:"end_hour"`
	Days             []time.Weekday `json:"days,omitempty" yaml:"days,omitempty" koanf:"days"`
	PreferenceWeight float64        `json:"preference_weight" yaml:"preference_weight" koanf:"preference_weight"`
}

// Validate checks hour bounds and weight range.
func (w TimeWindow) Validate() error {
	if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < 0 || w.EndHour > 23 {
		return fmt.Errorf("%w: %d-%d", ErrInvalidWindow, w.StartHour, w.EndHour)
	}
	if w.PreferenceWeight < 0 || w.PreferenceWeight > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidWeight, w.PreferenceWeight)
	}
	return nil
}

// Contains reports whether t falls inside the window.
func (w TimeWindow) Contains(t time.Time) bool {
	if len(w.Days) > 0 && !w.hasDay(t.Weekday()) {
		return false
	}
	return HourInRange(t.Hour(), w.StartHour, w.EndHour)
}

// Hours returns the hours of the day covered by the window.
func (w TimeWindow) Hours() []int {
	hours := make([]int, 0, 24)
	for h := 0; h < 24; h++ {
		if HourInRange(h, w.StartHour, w.EndHour) {
			hours = append(hours, h)
		}
	}
	return hours
}

func (w TimeWindow) hasDay(d time.Weekday) bool {
	for _, day := range w.Days {
		if day == d {
			return true
		}
	}
	return false
}

// HourInRange reports whether hour lies in [start, end) with wraparound.
func HourInRange(hour, start, end int) bool {
	switch {
	case start == end:
		return true
	case start < end:
		return hour >= start && hour < end
	default:
		return hour >= start || hour < end
	}
}

// ActionResult is the outcome of a single atomic action.
type ActionResult struct {
	ActionID   string         `json:"action_id"`
	Success    bool           `json:"success"`
	Message    string         `json:"message,omitempty"`
	CostUSD    float64        `json:"cost_usd"`
	Data       map[string]any `json:"data,omitempty"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// AbortSequence reports whether the action asked to halt the remaining
// sequence via data.abort_sequence.
func (r ActionResult) AbortSequence() bool {
	if r.Data == nil {
		return false
	}
	v, ok := r.Data["abort_sequence"].(bool)
	return ok && v
}
