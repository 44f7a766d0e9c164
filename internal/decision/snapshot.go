package decision

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cadence/internal/workunit"
)

// State is the agent's emotional and activity state.
type State struct {
	Valence   float64 `json:"valence"`
	Arousal   float64 `json:"arousal"`
	Coherence float64 `json:"coherence"`
	Activity  string  `json:"activity"`
	Idle      bool    `json:"idle"`
}

// NeutralState is used when no state reader is available. It is not idle,
// so work that requires idleness is held back until real state is known.
func NeutralState() State {
	return State{
		Valence:   0,
		Arousal:   0.5,
		Coherence: 0.5,
		Activity:  "unknown",
		Idle:      false,
	}
}

// StateReader reads the agent's current state from the state bus.
type StateReader interface {
	Snapshot(ctx context.Context) (State, error)
}

// BudgetReader reads remaining spend per category.
type BudgetReader interface {
	Remaining(ctx context.Context) (map[workunit.Category]float64, error)
}

// GrowthReader lists current growth edges.
type GrowthReader interface {
	GrowthEdges(ctx context.Context) ([]string, error)
}

// CuriosityReader lists open curiosity questions.
type CuriosityReader interface {
	OpenQuestions(ctx context.Context) ([]string, error)
}

// IdentityReader summarizes the agent's identity and values.
type IdentityReader interface {
	IdentitySummary(ctx context.Context) (string, error)
}

// Snapshot is everything the engine knows when it decides.
type Snapshot struct {
	State         State                         `json:"state"`
	GrowthEdges   []string                      `json:"growth_edges,omitempty"`
	OpenQuestions []string                      `json:"open_questions,omitempty"`
	Budget        map[workunit.Category]float64 `json:"budget"`
	HasBudget     bool                          `json:"has_budget"`
	Identity      string                        `json:"identity,omitempty"`
	RecentWork    []string                      `json:"recent_work,omitempty"`
	Now           time.Time                     `json:"now"`
}

// TotalBudget sums remaining budget across categories.
func (s Snapshot) TotalBudget() float64 {
	var total float64
	for _, v := range s.Budget {
		total += v
	}
	return total
}

// EmotionalDescription renders the state for the oracle.
func (s Snapshot) EmotionalDescription() string {
	mood := "neutral"
	switch {
	case s.State.Valence > 0.3:
		mood = "positive"
	case s.State.Valence < -0.3:
		mood = "low"
	}
	energy := "moderate"
	switch {
	case s.State.Arousal > 0.6:
		energy = "high"
	case s.State.Arousal < 0.4:
		energy = "low"
	}
	return fmt.Sprintf("mood %s (valence %.2f), energy %s (arousal %.2f), coherence %.2f, activity %q",
		mood, s.State.Valence, energy, s.State.Arousal, s.State.Coherence, s.State.Activity)
}

// snapshot gathers context from every configured reader. A missing or
// failing reader degrades to a neutral value and is logged.
func (e *Engine) snapshot(ctx context.Context) Snapshot {
	snap := Snapshot{
		State:      NeutralState(),
		Budget:     map[workunit.Category]float64{},
		RecentWork: e.History(),
		Now:        e.clock(),
	}

	if e.state != nil {
		st, err := e.state.Snapshot(ctx)
		if err != nil {
			e.logger.Warn("state snapshot unavailable, using neutral state", zap.Error(err))
		} else {
			snap.State = st
		}
	}

	if e.budget != nil {
		remaining, err := e.budget.Remaining(ctx)
		if err != nil {
			e.logger.Warn("budget unavailable, treating nothing as affordable", zap.Error(err))
		} else {
			snap.HasBudget = true
			for k, v := range remaining {
				snap.Budget[k] = v
			}
		}
	} else {
		e.logger.Debug("no budget reader configured", zap.Error(ErrNoBudgetReader))
	}

	if e.growth != nil {
		edges, err := e.growth.GrowthEdges(ctx)
		if err != nil {
			e.logger.Warn("growth edges unavailable", zap.Error(err))
		} else {
			snap.GrowthEdges = edges
		}
	}

	if e.curiosity != nil {
		qs, err := e.curiosity.OpenQuestions(ctx)
		if err != nil {
			e.logger.Warn("curiosity questions unavailable", zap.Error(err))
		} else {
			snap.OpenQuestions = qs
		}
	}

	if e.identity != nil {
		id, err := e.identity.IdentitySummary(ctx)
		if err != nil {
			e.logger.Warn("identity summary unavailable", zap.Error(err))
		} else {
			snap.Identity = id
		}
	}

	return snap
}
