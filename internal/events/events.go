// Package events publishes scheduler state deltas to the agent's event bus.
//
// Every phase transition, work start/completion, dispatch and finished day
// plan produces a DeltaEvent. Publishing is best-effort: callers log
// failures and carry on.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event names.
const (
	PhaseTransition = "phase_transition"
	WorkStarted     = "work_started"
	WorkCompleted   = "work_completed"
	WorkFailed      = "work_failed"
	WorkDispatched  = "work_dispatched"
	DayPlanned      = "day_planned"
)

// ErrBusClosed is returned when publishing after Close.
var ErrBusClosed = errors.New("event bus closed")

// DeltaEvent is a state change notification.
type DeltaEvent struct {
	ID        string             `json:"id"`
	Source    string             `json:"source"`
	Name      string             `json:"name"`
	Deltas    map[string]float64 `json:"deltas,omitempty"`
	Payload   map[string]any     `json:"payload,omitempty"`
	Reason    string             `json:"reason,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// New builds an event with a fresh id and timestamp.
func New(source, name, reason string, payload map[string]any) DeltaEvent {
	return DeltaEvent{
		ID:        uuid.NewString(),
		Source:    source,
		Name:      name,
		Payload:   payload,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
}

// WithDeltas returns a copy of e carrying field deltas.
func (e DeltaEvent) WithDeltas(deltas map[string]float64) DeltaEvent {
	e.Deltas = deltas
	return e
}

// Bus publishes delta events.
type Bus interface {
	Publish(ctx context.Context, event DeltaEvent) error
}

// NopBus discards events.
type NopBus struct{}

// Publish does nothing.
func (NopBus) Publish(context.Context, DeltaEvent) error { return nil }

// Recorder keeps the most recent events in memory. It is used by tests and
// by the status endpoint.
type Recorder struct {
	mu     sync.RWMutex
	limit  int
	events []DeltaEvent
}

// NewRecorder creates a recorder that keeps at most limit events
// (limit <= 0 keeps everything).
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

// Publish records the event.
func (r *Recorder) Publish(_ context.Context, event DeltaEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	if r.limit > 0 && len(r.events) > r.limit {
		r.events = r.events[len(r.events)-r.limit:]
	}
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []DeltaEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DeltaEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Named returns recorded events with the given name.
func (r *Recorder) Named(name string) []DeltaEvent {
	var out []DeltaEvent
	for _, e := range r.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Clear drops all recorded events.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Tee fans an event out to several buses. All buses receive the event even
// when an earlier one fails; errors are joined.
type Tee []Bus

// Publish sends to every bus.
func (t Tee) Publish(ctx context.Context, event DeltaEvent) error {
	var errs []error
	for _, b := range t {
		if b == nil {
			continue
		}
		if err := b.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
