// Package dayphase maps wall-clock time onto the four phases of the agent's
// day and reports transitions between them.
package dayphase

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/cadence/internal/workunit"
)

// Phase is one of four non-overlapping time-of-day buckets.
type Phase string

const (
	Night     Phase = "night"
	Morning   Phase = "morning"
	Afternoon Phase = "afternoon"
	Evening   Phase = "evening"
)

var (
	ErrUnknownPhase     = errors.New("unknown day phase")
	ErrWindowsOverlap   = errors.New("phase windows overlap")
	ErrWindowsGap       = errors.New("phase windows leave hours uncovered")
	ErrWindowOutOfRange = errors.New("phase window hours must be within 0-23")
	ErrMissingPhase     = errors.New("phase windows must cover every phase")
)

// All returns the phases in clock order starting at midnight.
func All() []Phase {
	return []Phase{Night, Morning, Afternoon, Evening}
}

// Cycle returns the planning cycle order: morning through night.
func Cycle() []Phase {
	return []Phase{Morning, Afternoon, Evening, Night}
}

// RemainingCycle returns the phases from p through the end of the cycle.
func RemainingCycle(p Phase) []Phase {
	cycle := Cycle()
	for i, c := range cycle {
		if c == p {
			return cycle[i:]
		}
	}
	return cycle
}

// ParsePhase converts a string into a Phase.
func ParsePhase(s string) (Phase, error) {
	p := Phase(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case Night, Morning, Afternoon, Evening:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPhase, s)
}

func (p Phase) String() string { return string(p) }

// Window maps a phase to an hour range [StartHour, EndHour). The range may
// wrap past midnight.
type Window struct {
	Phase     Phase `json:"phase" koanf:"phase"`
	StartHour int   `json:"start_hour" koanf:"start_hour"`
	EndHour   int   `json:"end_hour" koanf:"end_hour"`
}

// Contains reports whether hour falls in the window.
func (w Window) Contains(hour int) bool {
	if w.StartHour == w.EndHour {
		return false
	}
	return workunit.HourInRange(hour, w.StartHour, w.EndHour)
}

// Hours returns the hours covered by the window.
func (w Window) Hours() []int {
	var hours []int
	for h := 0; h < 24; h++ {
		if w.Contains(h) {
			hours = append(hours, h)
		}
	}
	return hours
}

// DefaultWindows returns night 22-6, morning 6-12, afternoon 12-17,
// evening 17-22.
func DefaultWindows() []Window {
	return []Window{
		{Phase: Night, StartHour: 22, EndHour: 6},
		{Phase: Morning, StartHour: 6, EndHour: 12},
		{Phase: Afternoon, StartHour: 12, EndHour: 17},
		{Phase: Evening, StartHour: 17, EndHour: 22},
	}
}

// ValidateWindows checks that windows cover every phase and partition all
// 24 hours exactly once.
func ValidateWindows(windows []Window) error {
	seen := make(map[Phase]bool, 4)
	var cover [24]int
	for _, w := range windows {
		if _, err := ParsePhase(string(w.Phase)); err != nil {
			return err
		}
		if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < 0 || w.EndHour > 23 {
			return fmt.Errorf("%w: %s %d-%d", ErrWindowOutOfRange, w.Phase, w.StartHour, w.EndHour)
		}
		seen[w.Phase] = true
		for _, h := range w.Hours() {
			cover[h]++
		}
	}
	for _, p := range All() {
		if !seen[p] {
			return fmt.Errorf("%w: %s", ErrMissingPhase, p)
		}
	}
	for h, n := range cover {
		switch {
		case n == 0:
			return fmt.Errorf("%w: hour %d", ErrWindowsGap, h)
		case n > 1:
			return fmt.Errorf("%w: hour %d", ErrWindowsOverlap, h)
		}
	}
	return nil
}

// PhaseAt returns the phase covering t. ok is false only when windows do
// not cover t's hour, which ValidateWindows rules out.
func PhaseAt(windows []Window, t time.Time) (Phase, bool) {
	hour := t.Hour()
	for _, w := range windows {
		if w.Contains(hour) {
			return w.Phase, true
		}
	}
	return "", false
}

// WindowFor returns the window configured for p.
func WindowFor(windows []Window, p Phase) (Window, bool) {
	for _, w := range windows {
		if w.Phase == p {
			return w, true
		}
	}
	return Window{}, false
}

// Transition is an immutable record of a phase change.
type Transition struct {
	From      Phase     `json:"from_phase"`
	To        Phase     `json:"to_phase"`
	Timestamp time.Time `json:"timestamp"`
}

// NextTransition describes the upcoming phase boundary.
type NextTransition struct {
	CurrentPhase     Phase  `json:"current_phase"`
	NextPhase        Phase  `json:"next_phase"`
	TransitionAt     string `json:"transition_time"`
	MinutesRemaining int    `json:"minutes_remaining"`
}

// nextTransition scans forward hour by hour for the first boundary.
func nextTransition(windows []Window, now time.Time) NextTransition {
	current, _ := PhaseAt(windows, now)
	hourStart := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location())
	for k := 1; k <= 24; k++ {
		candidate := hourStart.Add(time.Duration(k) * time.Hour)
		next, _ := PhaseAt(windows, candidate)
		if next != current {
			remaining := candidate.Sub(now)
			minutes := int(remaining / time.Minute)
			if remaining%time.Minute != 0 {
				minutes++
			}
			return NextTransition{
				CurrentPhase:     current,
				NextPhase:        next,
				TransitionAt:     candidate.Format(time.RFC3339),
				MinutesRemaining: minutes,
			}
		}
	}
	return NextTransition{CurrentPhase: current, NextPhase: current}
}
