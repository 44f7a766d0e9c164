package decision

import (
	"sort"

	"github.com/fyrsmithlabs/cadence/internal/workunit"
)

// Factor names a scoring dimension.
type Factor string

const (
	FactorTimeFit            Factor = "time_fit"
	FactorGrowthAlignment    Factor = "growth_alignment"
	FactorCuriosityAlignment Factor = "curiosity_alignment"
	FactorEmotionalFit       Factor = "emotional_fit"
	FactorVariety            Factor = "variety"
	FactorPriority           Factor = "priority"
)

// Weights are the factor weights; they sum to 1.
var Weights = map[Factor]float64{
	FactorTimeFit:            0.20,
	FactorGrowthAlignment:    0.25,
	FactorCuriosityAlignment: 0.20,
	FactorEmotionalFit:       0.15,
	FactorVariety:            0.10,
	FactorPriority:           0.10,
}

// factorOrder fixes summation order so totals are reproducible.
var factorOrder = []Factor{
	FactorTimeFit,
	FactorGrowthAlignment,
	FactorCuriosityAlignment,
	FactorEmotionalFit,
	FactorVariety,
	FactorPriority,
}

// Templates that receive full alignment credit for their factor.
const (
	GrowthTemplateID    = "growth_edge_work"
	CuriosityTemplateID = "curiosity_exploration"
)

// ScoredCandidate is a viable template with its score breakdown.
type ScoredCandidate struct {
	Template *workunit.Template `json:"-"`
	ID       string             `json:"id"`
	Total    float64            `json:"total"`
	Factors  map[Factor]float64 `json:"factors"`
}

// Score computes the weighted score of t against snap.
func Score(t *workunit.Template, snap Snapshot) ScoredCandidate {
	factors := map[Factor]float64{
		FactorTimeFit:            timeFit(t, snap),
		FactorGrowthAlignment:    growthAlignment(t, snap),
		FactorCuriosityAlignment: curiosityAlignment(t, snap),
		FactorEmotionalFit:       emotionalFit(t, snap.State),
		FactorVariety:            variety(t.ID(), snap.RecentWork),
		FactorPriority:           priorityFactor(t.Priority()),
	}
	var total float64
	for _, f := range factorOrder {
		total += Weights[f] * factors[f]
	}
	return ScoredCandidate{Template: t, ID: t.ID(), Total: total, Factors: factors}
}

// rank scores every template and sorts by total descending. Ties keep the
// catalog order.
func rank(templates []*workunit.Template, snap Snapshot) []ScoredCandidate {
	out := make([]ScoredCandidate, 0, len(templates))
	for _, t := range templates {
		out = append(out, Score(t, snap))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Total > out[j].Total })
	return out
}

// timeFit is the best weight among windows containing now, 0.5 without
// windows and 0 when no window matches.
func timeFit(t *workunit.Template, snap Snapshot) float64 {
	windows := t.PreferredWindows()
	if len(windows) == 0 {
		return 0.5
	}
	best := 0.0
	for _, w := range windows {
		if w.Contains(snap.Now) && w.PreferenceWeight > best {
			best = w.PreferenceWeight
		}
	}
	return best
}

func growthAlignment(t *workunit.Template, snap Snapshot) float64 {
	if len(snap.GrowthEdges) == 0 {
		return 0.5
	}
	switch {
	case t.ID() == GrowthTemplateID:
		return 1.0
	case t.Category() == workunit.CategoryReflection:
		return 0.7
	}
	return 0.4
}

func curiosityAlignment(t *workunit.Template, snap Snapshot) float64 {
	if len(snap.OpenQuestions) == 0 {
		return 0.5
	}
	switch {
	case t.ID() == CuriosityTemplateID:
		return 1.0
	case t.Category() == workunit.CategoryResearch:
		return 0.7
	}
	return 0.4
}

func emotionalFit(t *workunit.Template, st State) float64 {
	lowEnergy := st.Arousal < 0.4 && st.Valence <= 0
	highEnergy := st.Arousal > 0.6 && st.Valence > 0

	switch {
	case lowEnergy:
		if t.Category() == workunit.CategoryReflection {
			return 0.9
		}
		return 0.4
	case highEnergy:
		switch t.Category() {
		case workunit.CategoryCreative, workunit.CategoryResearch, workunit.CategoryCuriosity:
			return 0.8
		case workunit.CategoryReflection, workunit.CategoryMaintenance,
			workunit.CategoryGrowth, workunit.CategorySocial:
			return 0.5
		}
	}
	return 0.5
}

// variety is 1.0 for templates absent from history. Otherwise it rises from
// 0.3 for the most recent entry towards 1.0 for the oldest.
func variety(id string, history []string) float64 {
	n := len(history)
	for pos := 0; pos < n; pos++ {
		if history[n-1-pos] == id {
			return 0.3 + 0.7*float64(pos)/float64(n)
		}
	}
	return 1.0
}

func priorityFactor(p int) float64 {
	if p < 1 {
		p = 1
	}
	if p > 10 {
		p = 10
	}
	return float64(10-p) / 9
}
