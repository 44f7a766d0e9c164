package oracle

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/fyrsmithlabs/cadence/internal/dayphase"
	"github.com/fyrsmithlabs/cadence/internal/decision"
)

var (
	ErrNoJSON       = errors.New("no JSON object in oracle response")
	ErrMissingField = errors.New("oracle response is missing a required field")
)

// extractJSON returns the outermost {...} span of text, ignoring code fences
// and prose around it. A truncated object (no closing brace) is returned as
// is; gjson reads whatever fields are complete.
func extractJSON(text string) (string, error) {
	start := strings.Index(text, "{")
	if start < 0 {
		return "", ErrNoJSON
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		return text[start:], nil
	}
	return text[start : end+1], nil
}

// firstString returns the first non-empty string among paths.
func firstString(obj gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := obj.Get(p); v.Exists() && strings.TrimSpace(v.String()) != "" {
			return strings.TrimSpace(v.String())
		}
	}
	return ""
}

// ParseDecision reads {chosen_option, focus, motivation, energy} from a model
// response. Aliases ("choice", "option", "template_id") are accepted, energy
// may be a number or numeric string, and a null choice reads as "none".
func ParseDecision(text string) (decision.Decision, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return decision.Decision{}, err
	}
	obj := gjson.Parse(raw)

	chosen := obj.Get("chosen_option")
	var choice string
	switch {
	case chosen.Exists() && chosen.Type == gjson.Null:
		choice = decision.NoneOption
	default:
		choice = firstString(obj, "chosen_option", "choice", "option", "template_id")
	}
	if choice == "" {
		return decision.Decision{}, fmt.Errorf("%w: chosen_option", ErrMissingField)
	}

	d := decision.Decision{
		ChosenOption: choice,
		Focus:        firstString(obj, "focus"),
		Motivation:   firstString(obj, "motivation", "reason"),
	}
	if e := obj.Get("energy"); e.Exists() {
		switch e.Type {
		case gjson.Number:
			d.Energy = e.Float()
		case gjson.String:
			if f, err := strconv.ParseFloat(strings.TrimSpace(e.Str), 64); err == nil {
				d.Energy = f
			}
		}
	}
	return d, nil
}

// ParsePlan reads {plan: {phase: [{template_id, focus, motivation}]},
// day_intention}. Unknown phase names are skipped; entries may be objects or
// bare template id strings.
func ParsePlan(text string) (decision.Plan, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return decision.Plan{}, err
	}
	obj := gjson.Parse(raw)

	planObj := obj.Get("plan")
	if !planObj.Exists() || !planObj.IsObject() {
		return decision.Plan{}, fmt.Errorf("%w: plan", ErrMissingField)
	}

	plan := decision.Plan{
		Phases:    make(map[dayphase.Phase][]decision.PlanEntry),
		Intention: firstString(obj, "day_intention", "intention"),
	}
	planObj.ForEach(func(key, value gjson.Result) bool {
		phase, err := dayphase.ParsePhase(key.String())
		if err != nil {
			return true
		}
		value.ForEach(func(_, item gjson.Result) bool {
			var entry decision.PlanEntry
			switch {
			case item.Type == gjson.String:
				entry.TemplateID = strings.TrimSpace(item.Str)
			case item.IsObject():
				entry = decision.PlanEntry{
					TemplateID: firstString(item, "template_id", "id", "template"),
					Focus:      firstString(item, "focus"),
					Motivation: firstString(item, "motivation", "reason"),
				}
			}
			if entry.TemplateID != "" {
				plan.Phases[phase] = append(plan.Phases[phase], entry)
			}
			return true
		})
		return true
	})
	return plan, nil
}
