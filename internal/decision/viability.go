package decision

import (
	"github.com/fyrsmithlabs/cadence/internal/workunit"
)

// antiThrashWindow is how many recent history entries block a template.
const antiThrashWindow = 2

// Exclusion reasons.
const (
	ReasonOverBudget   = "over_budget"
	ReasonNotIdle      = "requires_idle"
	ReasonRecentlyDone = "recently_done"
)

// Rejection records why a template was not viable.
type Rejection struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Viable filters templates against snap. Without a budget reading nothing
// is affordable.
func Viable(templates []*workunit.Template, snap Snapshot) ([]*workunit.Template, []Rejection) {
	recent := recentSet(snap.RecentWork, antiThrashWindow)

	var viable []*workunit.Template
	var rejected []Rejection
	for _, t := range templates {
		switch {
		case !affordable(t, snap):
			rejected = append(rejected, Rejection{ID: t.ID(), Reason: ReasonOverBudget})
		case t.RequiresIdle() && !snap.State.Idle:
			rejected = append(rejected, Rejection{ID: t.ID(), Reason: ReasonNotIdle})
		case recent[t.ID()]:
			rejected = append(rejected, Rejection{ID: t.ID(), Reason: ReasonRecentlyDone})
		default:
			viable = append(viable, t)
		}
	}
	return viable, rejected
}

func affordable(t *workunit.Template, snap Snapshot) bool {
	if !snap.HasBudget {
		return false
	}
	return t.EstimatedCost() <= snap.Budget[t.Category()]
}

func recentSet(history []string, n int) map[string]bool {
	set := make(map[string]bool, n)
	for i := len(history) - 1; i >= 0 && i >= len(history)-n; i-- {
		set[history[i]] = true
	}
	return set
}
