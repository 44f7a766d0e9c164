package scheduler

import (
	"github.com/fyrsmithlabs/cadence/internal/dayphase"
	"github.com/fyrsmithlabs/cadence/internal/workunit"
)

// CurrentWorkView describes the running unit.
type CurrentWorkView struct {
	WorkUnitID string            `json:"work_unit_id"`
	Name       string            `json:"name"`
	TemplateID string            `json:"template_id"`
	Category   workunit.Category `json:"category"`
	Phase      dayphase.Phase    `json:"phase"`
	Focus      string            `json:"focus,omitempty"`
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Running      bool                   `json:"running"`
	Phase        dayphase.Status        `json:"phase"`
	Current      *CurrentWorkView       `json:"current,omitempty"`
	LastPlan     *PlanResult            `json:"last_plan,omitempty"`
	QueueLengths map[dayphase.Phase]int `json:"queue_lengths"`
	RecentWork   []WorkRecord           `json:"recent_work,omitempty"`
}

// Status returns the scheduler state. RecentWork holds the last ten
// finished units.
func (s *Scheduler) Status() Status {
	st := Status{
		Phase:        s.tracker.Status(),
		LastPlan:     s.LastPlan(),
		QueueLengths: s.queue.Lengths(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st.Running = s.running
	if s.current != nil {
		st.Current = &CurrentWorkView{
			WorkUnitID: s.current.ID,
			Name:       s.current.Name,
			TemplateID: s.current.TemplateID,
			Category:   s.current.Category,
			Phase:      s.currentPhase,
			Focus:      s.current.Focus,
		}
	}
	recent := s.history
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	st.RecentWork = append([]WorkRecord(nil), recent...)
	return st
}
