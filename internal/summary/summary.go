// Package summary records what each finished work unit did.
//
// Summaries are addressed by a deterministic slug
// (work/{date}/{phase}-{name}-{id4}) and indexed by date and by date+phase
// so the day's history can be read back without scanning.
package summary

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/fyrsmithlabs/cadence/internal/dayphase"
	"github.com/fyrsmithlabs/cadence/internal/workunit"
)

var (
	ErrNotFound    = errors.New("work summary not found")
	ErrInvalidSlug = errors.New("invalid work summary slug")
	ErrNilSummary  = errors.New("work summary cannot be nil")
)

// DateLayout is the summary date format.
const DateLayout = "2006-01-02"

// maxNameSlug bounds the name portion of a slug.
const maxNameSlug = 30

var slugPattern = regexp.MustCompile(`^[a-z0-9/-]+$`)

// ActionSummary is the persisted outcome of one action.
type ActionSummary struct {
	ActionID string  `json:"action_id"`
	Success  bool    `json:"success"`
	Message  string  `json:"message,omitempty"`
	CostUSD  float64 `json:"cost_usd"`
}

// WorkSummary is the durable record of a finished work unit.
type WorkSummary struct {
	WorkUnitID         string            `json:"work_unit_id"`
	Slug               string            `json:"slug"`
	Name               string            `json:"name"`
	TemplateID         string            `json:"template_id"`
	Phase              dayphase.Phase    `json:"phase"`
	Category           workunit.Category `json:"category"`
	Focus              string            `json:"focus,omitempty"`
	Motivation         string            `json:"motivation,omitempty"`
	Date               string            `json:"date"`
	StartedAt          *time.Time        `json:"started_at,omitempty"`
	CompletedAt        *time.Time        `json:"completed_at,omitempty"`
	DurationMinutes    float64           `json:"duration_minutes"`
	Summary            string            `json:"summary,omitempty"`
	KeyInsights        []string          `json:"key_insights,omitempty"`
	QuestionsAddressed []string          `json:"questions_addressed,omitempty"`
	QuestionsRaised    []string          `json:"questions_raised,omitempty"`
	Actions            []ActionSummary   `json:"actions,omitempty"`
	Artifacts          []string          `json:"artifacts,omitempty"`
	Success            bool              `json:"success"`
	Error              string            `json:"error,omitempty"`
	CostUSD            float64           `json:"cost_usd"`
}

// sortTime is the time a summary is ordered by for recency.
func (s *WorkSummary) sortTime() time.Time {
	switch {
	case s.CompletedAt != nil:
		return *s.CompletedAt
	case s.StartedAt != nil:
		return *s.StartedAt
	}
	t, _ := time.Parse(DateLayout, s.Date)
	return t
}

// matches reports whether the lowercased query occurs in the summary's
// searchable text.
func (s *WorkSummary) matches(q string) bool {
	fields := []string{s.Name, s.Focus, s.Summary}
	fields = append(fields, s.KeyInsights...)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

// FromWorkUnit builds a summary from a finished unit. The date is the unit's
// start time, falling back to at, read in at's location so it lines up with
// the caller's day and phase.
func FromWorkUnit(u *workunit.WorkUnit, phase dayphase.Phase, at time.Time) *WorkSummary {
	date := at
	if u.StartedAt != nil {
		date = u.StartedAt.In(at.Location())
	}
	s := &WorkSummary{
		WorkUnitID:      u.ID,
		Slug:            GenerateSlug(u.Name, u.ID, date, phase),
		Name:            u.Name,
		TemplateID:      u.TemplateID,
		Phase:           phase,
		Category:        u.Category,
		Focus:           u.Focus,
		Motivation:      u.Motivation,
		Date:            date.Format(DateLayout),
		StartedAt:       u.StartedAt,
		CompletedAt:     u.CompletedAt,
		DurationMinutes: u.Duration().Minutes(),
		Summary:         u.Result,
		Artifacts:       append([]string(nil), u.Artifacts...),
		Success:         u.Status == workunit.StatusCompleted,
		Error:           u.Error,
		CostUSD:         u.ActualCost(),
	}
	for _, r := range u.ActionResults {
		s.Actions = append(s.Actions, ActionSummary{
			ActionID: r.ActionID,
			Success:  r.Success,
			Message:  r.Message,
			CostUSD:  r.CostUSD,
		})
	}
	return s
}

// GenerateSlug returns work/{date}/{phase}-{name}-{id4}. The name part is
// lowercased, reduced to [a-z0-9-] and cut to 30 characters.
func GenerateSlug(name, id string, date time.Time, phase dayphase.Phase) string {
	namePart := Slugify(name, maxNameSlug)
	if namePart == "" {
		namePart = "work"
	}
	idPart := Slugify(id, 0)
	if len(idPart) > 4 {
		idPart = idPart[:4]
	}
	idPart = strings.Trim(idPart, "-")
	if idPart == "" {
		idPart = "0000"
	}
	phasePart := Slugify(string(phase), 0)
	if phasePart == "" {
		phasePart = "unphased"
	}
	return "work/" + date.Format(DateLayout) + "/" + phasePart + "-" + namePart + "-" + idPart
}

// Slugify lowercases s and replaces every run of characters outside
// [a-z0-9] with a single dash. max > 0 truncates the result.
func Slugify(s string, max int) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.Trim(b.String(), "-")
	if max > 0 && len(out) > max {
		out = strings.TrimRight(out[:max], "-")
	}
	return out
}

// ValidSlug reports whether slug only contains [a-z0-9/-].
func ValidSlug(slug string) bool {
	return slugPattern.MatchString(slug)
}
