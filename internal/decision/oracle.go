package decision

import (
	"context"
	"strings"
	"time"

	"github.com/fyrsmithlabs/cadence/internal/dayphase"
	"github.com/fyrsmithlabs/cadence/internal/workunit"
)

// NoneOption is the oracle's explicit "do nothing" answer.
const NoneOption = "none"

// Option is one candidate offered to the oracle.
type Option struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	DurationMinutes int     `json:"duration_minutes"`
	Cost            float64 `json:"cost"`
	Score           float64 `json:"score"`
}

// Request is the context bundle sent to the oracle.
type Request struct {
	Identity             string                        `json:"identity,omitempty"`
	EmotionalDescription string                        `json:"emotional_description"`
	GrowthEdges          []string                      `json:"growth_edges,omitempty"`
	CuriosityQuestions   []string                      `json:"curiosity_questions,omitempty"`
	Options              []Option                      `json:"options"`
	Now                  time.Time                     `json:"now"`
	RemainingBudget      map[workunit.Category]float64 `json:"remaining_budget"`
	TargetPhases         []dayphase.Phase              `json:"target_phases,omitempty"`
}

// Decision is the oracle's single pick.
type Decision struct {
	ChosenOption string  `json:"chosen_option"`
	Focus        string  `json:"focus"`
	Motivation   string  `json:"motivation"`
	Energy       float64 `json:"energy"`
}

// IsNone reports an explicit decision to rest.
func (d Decision) IsNone() bool {
	return strings.EqualFold(strings.TrimSpace(d.ChosenOption), NoneOption)
}

// PlanEntry is one planned template in a phase.
type PlanEntry struct {
	TemplateID string `json:"template_id"`
	Focus      string `json:"focus"`
	Motivation string `json:"motivation"`
}

// Plan is the oracle's day plan.
type Plan struct {
	Phases    map[dayphase.Phase][]PlanEntry `json:"plan"`
	Intention string                         `json:"day_intention"`
}

// Oracle is the external preference delegate. Implementations may fail in
// any way; the engine treats every error as a reason to fall back.
type Oracle interface {
	Decide(ctx context.Context, req Request) (Decision, error)
	PlanDay(ctx context.Context, req Request, phases []dayphase.Phase) (Plan, error)
}

// buildRequest assembles the oracle request for candidates.
func buildRequest(snap Snapshot, candidates []ScoredCandidate, phases []dayphase.Phase) Request {
	opts := make([]Option, 0, len(candidates))
	for _, c := range candidates {
		t := c.Template
		opts = append(opts, Option{
			ID:              t.ID(),
			Name:            t.Name(),
			Description:     t.Description(),
			DurationMinutes: int(t.DefaultDuration().Minutes()),
			Cost:            t.EstimatedCost(),
			Score:           c.Total,
		})
	}
	budget := make(map[workunit.Category]float64, len(snap.Budget))
	for k, v := range snap.Budget {
		budget[k] = v
	}
	return Request{
		Identity:             snap.Identity,
		EmotionalDescription: snap.EmotionalDescription(),
		GrowthEdges:          snap.GrowthEdges,
		CuriosityQuestions:   snap.OpenQuestions,
		Options:              opts,
		Now:                  snap.Now,
		RemainingBudget:      budget,
		TargetPhases:         phases,
	}
}
