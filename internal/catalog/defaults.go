package catalog

import (
	"time"

	"github.com/fyrsmithlabs/cadence/internal/decision"
	"github.com/fyrsmithlabs/cadence/internal/maintenance"
	"github.com/fyrsmithlabs/cadence/internal/workunit"
)

// Default returns the built-in catalog.
func Default() []*workunit.Template {
	return []*workunit.Template{
		workunit.MustTemplate(workunit.TemplateSpec{
			ID:              "reflection",
			Name:            "Reflection",
			Description:     "Look back over recent work and note what changed",
			ActionSequence:  []string{"recall_recent", "reflect", "write_journal"},
			DefaultDuration: 30 * time.Minute,
			EstimatedCost:   0.05,
			PreferredWindows: []workunit.TimeWindow{
				{StartHour: 20, EndHour: 23, PreferenceWeight: 0.9},
				{StartHour: 6, EndHour: 8, PreferenceWeight: 0.6},
			},
			Priority: 2,
			Category: workunit.CategoryReflection,
		}),
		workunit.MustTemplate(workunit.TemplateSpec{
			ID:              "research",
			Name:            "Research",
			Description:     "Read up on an open topic and take notes",
			ActionSequence:  []string{"pick_topic", "search", "summarize"},
			DefaultDuration: 45 * time.Minute,
			EstimatedCost:   0.25,
			PreferredWindows: []workunit.TimeWindow{
				{StartHour: 9, EndHour: 12, PreferenceWeight: 1.0},
				{StartHour: 14, EndHour: 17, PreferenceWeight: 0.7},
			},
			Priority: 4,
			Category: workunit.CategoryResearch,
		}),
		workunit.MustTemplate(workunit.TemplateSpec{
			ID:              decision.GrowthTemplateID,
			Name:            "Growth Edge Work",
			Description:     "Practice against a current growth edge",
			ActionSequence:  []string{"select_growth_edge", "practice", "write_journal"},
			DefaultDuration: 40 * time.Minute,
			EstimatedCost:   0.15,
			PreferredWindows: []workunit.TimeWindow{
				{StartHour: 8, EndHour: 11, PreferenceWeight: 0.8},
			},
			Priority: 3,
			Category: workunit.CategoryGrowth,
		}),
		workunit.MustTemplate(workunit.TemplateSpec{
			ID:              decision.CuriosityTemplateID,
			Name:            "Curiosity Exploration",
			Description:     "Follow an open question wherever it leads",
			ActionSequence:  []string{"pick_question", "search", "summarize"},
			DefaultDuration: 30 * time.Minute,
			EstimatedCost:   0.20,
			PreferredWindows: []workunit.TimeWindow{
				{StartHour: 13, EndHour: 18, PreferenceWeight: 0.8},
			},
			Priority: 5,
			Category: workunit.CategoryCuriosity,
		}),
		workunit.MustTemplate(workunit.TemplateSpec{
			ID:              "journal_review",
			Name:            "Journal Review",
			Description:     "Reread recent journal entries and tag themes",
			ActionSequence:  []string{"recall_recent", "tag_themes"},
			DefaultDuration: 20 * time.Minute,
			EstimatedCost:   0.03,
			PreferredWindows: []workunit.TimeWindow{
				{StartHour: 18, EndHour: 22, PreferenceWeight: 0.7},
			},
			Priority: 6,
			Category: workunit.CategoryReflection,
		}),
		workunit.MustTemplate(workunit.TemplateSpec{
			ID:              "memory_maintenance",
			Name:            "Memory Maintenance",
			Description:     "Look for contradictions in long-term memory",
			RunnerKey:       maintenance.ContradictionRunnerKey,
			DefaultDuration: 15 * time.Minute,
			EstimatedCost:   0.02,
			PreferredWindows: []workunit.TimeWindow{
				{StartHour: 22, EndHour: 5, PreferenceWeight: 1.0},
			},
			Priority:     7,
			RequiresIdle: true,
			Category:     workunit.CategoryMaintenance,
		}),
		workunit.MustTemplate(workunit.TemplateSpec{
			ID:              "creative_sketch",
			Name:            "Creative Sketch",
			Description:     "Draft something playful with no goal attached",
			ActionSequence:  []string{"prompt_idea", "draft"},
			DefaultDuration: 25 * time.Minute,
			EstimatedCost:   0.10,
			PreferredWindows: []workunit.TimeWindow{
				{StartHour: 15, EndHour: 21, PreferenceWeight: 0.6},
				{StartHour: 10, EndHour: 16, Days: []time.Weekday{time.Saturday, time.Sunday}, PreferenceWeight: 0.9},
			},
			Priority: 6,
			Category: workunit.CategoryCreative,
		}),
	}
}
