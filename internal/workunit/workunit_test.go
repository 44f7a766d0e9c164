package workunit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reflectionTemplate(t *testing.T) *Template {
	t.Helper()
	tmpl, err := NewTemplate(TemplateSpec{
		ID:              "reflection",
		Name:            "Evening Reflection",
		Description:     "Review the day",
		ActionSequence:  []string{"gather_context", "reflect"},
		DefaultDuration: 20 * time.Minute,
		EstimatedCost:   0.10,
		PreferredWindows: []TimeWindow{
			{StartHour: 18, EndHour: 22, PreferenceWeight: 0.9},
		},
		Priority: 3,
		Category: CategoryReflection,
	})
	require.NoError(t, err)
	return tmpl
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		name  string
		from  Status
		to    Status
		valid bool
	}{
		{"planned to scheduled", StatusPlanned, StatusScheduled, true},
		{"planned to running", StatusPlanned, StatusRunning, true},
		{"planned to cancelled", StatusPlanned, StatusCancelled, true},
		{"scheduled to running", StatusScheduled, StatusRunning, true},
		{"scheduled to cancelled", StatusScheduled, StatusCancelled, true},
		{"scheduled to planned", StatusScheduled, StatusPlanned, false},
		{"running to completed", StatusRunning, StatusCompleted, true},
		{"running to failed", StatusRunning, StatusFailed, true},
		{"running to cancelled", StatusRunning, StatusCancelled, false},
		{"completed to running", StatusCompleted, StatusRunning, false},
		{"failed to completed", StatusFailed, StatusCompleted, false},
		{"cancelled to scheduled", StatusCancelled, StatusScheduled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusPlanned.IsTerminal())
	assert.False(t, StatusScheduled.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
}

func TestTimeWindowContains(t *testing.T) {
	at := func(hour int) time.Time {
		return time.Date(2026, 10, 15, hour, 30, 0, 0, time.UTC) // a Thursday
	}

	t.Run("simple range", func(t *testing.T) {
		w := TimeWindow{StartHour: 9, EndHour: 12}
		assert.False(t, w.Contains(at(8)))
		assert.True(t, w.Contains(at(9)))
		assert.True(t, w.Contains(at(11)))
		assert.False(t, w.Contains(at(12)))
	})

	t.Run("wraparound", func(t *testing.T) {
		w := TimeWindow{StartHour: 22, EndHour: 6}
		assert.True(t, w.Contains(at(23)))
		assert.True(t, w.Contains(at(0)))
		assert.True(t, w.Contains(at(5)))
		assert.False(t, w.Contains(at(6)))
		assert.False(t, w.Contains(at(12)))
	})

	t.Run("whole day", func(t *testing.T) {
		w := TimeWindow{StartHour: 0, EndHour: 0}
		for h := 0; h < 24; h++ {
			assert.True(t, w.Contains(at(h)), "hour %d", h)
		}
	})

	t.Run("day filter", func(t *testing.T) {
		w := TimeWindow{StartHour: 9, EndHour: 17, Days: []time.Weekday{time.Saturday, time.Sunday}}
		assert.False(t, w.Contains(at(10)))
		saturday := time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)
		assert.True(t, w.Contains(saturday))
	})
}

func TestTimeWindowHours(t *testing.T) {
	assert.Equal(t, []int{0, 1, 22, 23}, TimeWindow{StartHour: 22, EndHour: 2}.Hours())
	assert.Len(t, TimeWindow{StartHour: 5, EndHour: 5}.Hours(), 24)
}

func TestNewTemplate_Validation(t *testing.T) {
	base := TemplateSpec{
		ID:             "t1",
		Name:           "Template",
		ActionSequence: []string{"a"},
		Category:       CategoryResearch,
	}

	tests := []struct {
		name   string
		mutate func(*TemplateSpec)
		want   error
	}{
		{"missing id", func(s *TemplateSpec) { s.ID = "" }, ErrEmptyTemplateID},
		{"missing name", func(s *TemplateSpec) { s.Name = "" }, ErrEmptyName},
		{"no target", func(s *TemplateSpec) { s.ActionSequence = nil }, ErrNoExecutionTarget},
		{"both targets", func(s *TemplateSpec) { s.RunnerKey = "session" }, ErrBothTargets},
		{"negative cost", func(s *TemplateSpec) { s.EstimatedCost = -1 }, ErrNegativeCost},
		{"unknown category", func(s *TemplateSpec) { s.Category = "gardening" }, ErrUnknownCategory},
		{"bad window", func(s *TemplateSpec) {
			s.PreferredWindows = []TimeWindow{{StartHour: 25, EndHour: 3}}
		}, ErrInvalidWindow},
		{"bad weight", func(s *TemplateSpec) {
			s.PreferredWindows = []TimeWindow{{StartHour: 1, EndHour: 3, PreferenceWeight: 2}}
		}, ErrInvalidWeight},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := base
			tt.mutate(&spec)
			_, err := NewTemplate(spec)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestNewTemplate_Defaults(t *testing.T) {
	tmpl, err := NewTemplate(TemplateSpec{
		ID:        "session",
		Name:      "Research session",
		RunnerKey: "research_session",
		Category:  CategoryResearch,
		Priority:  42,
	})
	require.NoError(t, err)
	assert.Equal(t, MaxPriority, tmpl.Priority())
	assert.Equal(t, 30*time.Minute, tmpl.DefaultDuration())
}

func TestTemplate_IsImmutable(t *testing.T) {
	tmpl := reflectionTemplate(t)

	seq := tmpl.ActionSequence()
	seq[0] = "mutated"
	windows := tmpl.PreferredWindows()
	windows[0].PreferenceWeight = 0

	assert.Equal(t, "gather_context", tmpl.ActionSequence()[0])
	assert.Equal(t, 0.9, tmpl.PreferredWindows()[0].PreferenceWeight)
}

func TestTemplate_Instantiate(t *testing.T) {
	tmpl := reflectionTemplate(t)

	a := tmpl.Instantiate("today's conversations", "wind down")
	b := tmpl.Instantiate("", "", WithCost(0.5), WithPriority(0), WithName("Custom"), WithDuration(time.Hour))

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, StatusPlanned, a.Status)
	assert.Equal(t, "reflection", a.TemplateID)
	assert.Equal(t, CategoryReflection, a.Category)
	assert.Equal(t, "today's conversations", a.Focus)
	assert.Equal(t, "wind down", a.Motivation)
	assert.Equal(t, 0.10, a.EstimatedCost)
	assert.False(t, a.CreatedAt.IsZero())

	assert.Equal(t, 0.5, b.EstimatedCost)
	assert.Equal(t, MinPriority, b.Priority)
	assert.Equal(t, "Custom", b.Name)
	assert.Equal(t, time.Hour, b.EstimatedDuration)
}

func TestWorkUnit_Lifecycle(t *testing.T) {
	unit := reflectionTemplate(t).Instantiate("", "")

	require.NoError(t, unit.Schedule())
	require.NoError(t, unit.Start())
	require.NotNil(t, unit.StartedAt)

	err := unit.Cancel()
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, StatusRunning, unit.Status)

	unit.RecordAction(ActionResult{ActionID: "gather_context", Success: true, CostUSD: 0.02})
	unit.RecordAction(ActionResult{ActionID: "reflect", Success: true, CostUSD: 0.05})
	unit.AddArtifact("journal/2026-10-15")
	unit.AddArtifact("journal/2026-10-15")

	require.NoError(t, unit.Complete("done"))
	assert.Equal(t, StatusCompleted, unit.Status)
	assert.NotNil(t, unit.CompletedAt)
	assert.Equal(t, "done", unit.Result)
	assert.Len(t, unit.Artifacts, 1)
	assert.InDelta(t, 0.07, unit.ActualCost(), 1e-9)
	assert.True(t, unit.Succeeded())
	assert.GreaterOrEqual(t, unit.Duration(), time.Duration(0))

	assert.Error(t, unit.Fail("late"))
	assert.Equal(t, StatusCompleted, unit.Status)
}

func TestWorkUnit_CancelBeforeRunning(t *testing.T) {
	planned := reflectionTemplate(t).Instantiate("", "")
	require.NoError(t, planned.Cancel())
	assert.Equal(t, StatusCancelled, planned.Status)
	assert.Error(t, planned.Start())

	scheduled := reflectionTemplate(t).Instantiate("", "")
	require.NoError(t, scheduled.Schedule())
	require.NoError(t, scheduled.Cancel())
}

func TestWorkUnit_Succeeded(t *testing.T) {
	unit := &WorkUnit{}
	assert.False(t, unit.Succeeded(), "no actions means no success")

	unit.RecordAction(ActionResult{ActionID: "a", Success: true})
	unit.RecordAction(ActionResult{ActionID: "b", Success: false})
	assert.False(t, unit.Succeeded())
}

func TestActionResult_AbortSequence(t *testing.T) {
	assert.False(t, ActionResult{}.AbortSequence())
	assert.False(t, ActionResult{Data: map[string]any{"abort_sequence": "yes"}}.AbortSequence())
	assert.True(t, ActionResult{Data: map[string]any{"abort_sequence": true}}.AbortSequence())
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory(" Research ")
	require.NoError(t, err)
	assert.Equal(t, CategoryResearch, c)

	_, err = ParseCategory("misc")
	assert.ErrorIs(t, err, ErrUnknownCategory)

	for _, c := range AllCategories() {
		assert.True(t, c.Valid())
	}
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "abcd", (&WorkUnit{ID: "abcdef"}).ShortID())
	assert.Equal(t, "ab", (&WorkUnit{ID: "ab"}).ShortID())
}
