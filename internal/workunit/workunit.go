package workunit

import (
	"fmt"
	"time"
)

// now is replaced in tests.
var now = func() time.Time { return time.Now().UTC() }

// WorkUnit is a single schedulable, stateful item of work.
type WorkUnit struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Description       string         `json:"description"`
	ActionSequence    []string       `json:"action_sequence,omitempty"`
	RunnerKey         string         `json:"runner_key,omitempty"`
	TemplateID        string         `json:"template_id"`
	Category          Category       `json:"category"`
	PreferredWindows  []TimeWindow   `json:"preferred_windows,omitempty"`
	EstimatedDuration time.Duration  `json:"estimated_duration"`
	EstimatedCost     float64        `json:"estimated_cost"`
	Priority          int            `json:"priority"`
	RequiresIdle      bool           `json:"requires_idle"`
	Focus             string         `json:"focus,omitempty"`
	Motivation        string         `json:"motivation,omitempty"`
	Status            Status         `json:"status"`
	CreatedAt         time.Time      `json:"created_at"`
	StartedAt         *time.Time     `json:"started_at,omitempty"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	Result            string         `json:"result,omitempty"`
	Error             string         `json:"error,omitempty"`
	Artifacts         []string       `json:"artifacts,omitempty"`
	ActionResults     []ActionResult `json:"action_results,omitempty"`
}

func (u *WorkUnit) transition(target Status) error {
	if !u.Status.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, u.Status, target)
	}
	u.Status = target
	return nil
}

// Schedule marks a planned unit as queued for a phase.
func (u *WorkUnit) Schedule() error {
	return u.transition(StatusScheduled)
}

// Start marks the unit running and records the start time.
func (u *WorkUnit) Start() error {
	if err := u.transition(StatusRunning); err != nil {
		return err
	}
	t := now()
	u.StartedAt = &t
	return nil
}

// Complete marks a running unit completed.
func (u *WorkUnit) Complete(result string) error {
	if err := u.transition(StatusCompleted); err != nil {
		return err
	}
	t := now()
	u.CompletedAt = &t
	u.Result = result
	return nil
}

// Fail marks a running unit failed.
func (u *WorkUnit) Fail(reason string) error {
	if err := u.transition(StatusFailed); err != nil {
		return err
	}
	t := now()
	u.CompletedAt = &t
	u.Error = reason
	return nil
}

// Cancel is only valid before the unit starts running.
func (u *WorkUnit) Cancel() error {
	if err := u.transition(StatusCancelled); err != nil {
		return err
	}
	t := now()
	u.CompletedAt = &t
	return nil
}

// RecordAction appends an action result to the ordered log.
func (u *WorkUnit) RecordAction(r ActionResult) {
	if r.RecordedAt.IsZero() {
		r.RecordedAt = now()
	}
	u.ActionResults = append(u.ActionResults, r)
}

// AddArtifact records a produced artifact reference, ignoring duplicates.
func (u *WorkUnit) AddArtifact(ref string) {
	for _, a := range u.Artifacts {
		if a == ref {
			return
		}
	}
	u.Artifacts = append(u.Artifacts, ref)
}

// Duration returns the actual run time, or zero if the unit has not finished.
func (u *WorkUnit) Duration() time.Duration {
	if u.StartedAt == nil || u.CompletedAt == nil {
		return 0
	}
	return u.CompletedAt.Sub(*u.StartedAt)
}

// ActualCost sums the cost reported by executed actions.
func (u *WorkUnit) ActualCost() float64 {
	var total float64
	for _, r := range u.ActionResults {
		total += r.CostUSD
	}
	return total
}

// Succeeded reports whether at least one action ran and all of them succeeded.
func (u *WorkUnit) Succeeded() bool {
	if len(u.ActionResults) == 0 {
		return false
	}
	for _, r := range u.ActionResults {
		if !r.Success {
			return false
		}
	}
	return true
}

// ShortID returns the first four characters of the id.
func (u *WorkUnit) ShortID() string {
	if len(u.ID) <= 4 {
		return u.ID
	}
	return u.ID[:4]
}
