// Package oracle implements the preference oracle on top of a language
// model. It renders the decision context into a prompt, calls a rate-limited
// completer and parses the reply with a tolerant JSON reader.
package oracle

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cadence/internal/dayphase"
	"github.com/fyrsmithlabs/cadence/internal/decision"
)

const instrumentationName = "github.com/fyrsmithlabs/cadence/internal/oracle"

// LLMOracle implements decision.Oracle with a Completer.
type LLMOracle struct {
	completer Completer
	logger    *zap.Logger
	tracer    trace.Tracer
}

// New creates an LLM-backed oracle.
func New(completer Completer, logger *zap.Logger) (*LLMOracle, error) {
	if completer == nil {
		return nil, fmt.Errorf("completer cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMOracle{
		completer: completer,
		logger:    logger.Named("oracle"),
		tracer:    otel.Tracer(instrumentationName),
	}, nil
}

// Decide asks the model to pick one option or "none".
func (o *LLMOracle) Decide(ctx context.Context, req decision.Request) (decision.Decision, error) {
	ctx, span := o.tracer.Start(ctx, "oracle.Decide",
		trace.WithAttributes(attribute.Int("oracle.options", len(req.Options))))
	defer span.End()

	prompt, err := render(decideTemplate, req)
	if err != nil {
		return decision.Decision{}, err
	}
	text, err := o.completer.Complete(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return decision.Decision{}, fmt.Errorf("oracle completion: %w", err)
	}
	d, err := ParseDecision(text)
	if err != nil {
		o.logger.Warn("unparseable oracle decision",
			zap.Error(err),
			zap.Int("response_len", len(text)),
		)
		span.RecordError(err)
		return decision.Decision{}, err
	}
	span.SetAttributes(attribute.String("oracle.chosen", d.ChosenOption))
	return d, nil
}

// PlanDay asks the model to assign up to two options to each phase.
func (o *LLMOracle) PlanDay(ctx context.Context, req decision.Request, phases []dayphase.Phase) (decision.Plan, error) {
	ctx, span := o.tracer.Start(ctx, "oracle.PlanDay",
		trace.WithAttributes(
			attribute.Int("oracle.options", len(req.Options)),
			attribute.Int("oracle.phases", len(phases)),
		))
	defer span.End()

	req.TargetPhases = phases
	prompt, err := render(planTemplate, req)
	if err != nil {
		return decision.Plan{}, err
	}
	text, err := o.completer.Complete(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return decision.Plan{}, fmt.Errorf("oracle completion: %w", err)
	}
	plan, err := ParsePlan(text)
	if err != nil {
		o.logger.Warn("unparseable oracle plan",
			zap.Error(err),
			zap.Int("response_len", len(text)),
		)
		span.RecordError(err)
		return decision.Plan{}, err
	}
	return plan, nil
}

var funcs = template.FuncMap{
	"join": strings.Join,
	"clock": func(t time.Time) string {
		return t.Format("Monday 15:04")
	},
	"budget": func(b map[string]float64) string {
		keys := make([]string, 0, len(b))
		for k := range b {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s $%.2f", k, b[k]))
		}
		if len(parts) == 0 {
			return "unknown"
		}
		return strings.Join(parts, ", ")
	},
	"phases": func(ps []dayphase.Phase) string {
		out := make([]string, len(ps))
		for i, p := range ps {
			out[i] = string(p)
		}
		return strings.Join(out, ", ")
	},
}

const contextBlock = `{{if .Identity}}Who you are: {{.Identity}}
{{end}}How you feel: {{.EmotionalDescription}}
Current time: {{clock .Now}}
Remaining budget: {{budget .Budget}}
{{if .GrowthEdges}}Growth edges: {{join .GrowthEdges "; "}}
{{end}}{{if .CuriosityQuestions}}Open questions: {{join .CuriosityQuestions "; "}}
{{end}}
Options:
{{range .Options}}- {{.ID}}: {{.Name}}{{if .Description}} ({{.Description}}){{end}}, ~{{.DurationMinutes}} min, ${{printf "%.2f" .Cost}}, score {{printf "%.2f" .Score}}
{{end}}`

var decideTemplate = template.Must(template.New("decide").Funcs(funcs).Parse(
	`You are choosing your own discretionary work for right now.

` + contextBlock + `
Pick the option you most want to do now, or "none" to rest.
Reply with only JSON:
{"chosen_option": "<option id or none>", "focus": "<what to focus on>", "motivation": "<one sentence>", "energy": <0.0-1.0>}
`))

var planTemplate = template.Must(template.New("plan").Funcs(funcs).Parse(
	`You are planning your discretionary work for the rest of the day.

` + contextBlock + `
Phases to plan: {{phases .TargetPhases}}
Assign zero to two options to each phase. Reply with only JSON:
{"plan": {"<phase>": [{"template_id": "<option id>", "focus": "<focus>", "motivation": "<one sentence>"}]}, "day_intention": "<one sentence>"}
`))

// promptData flattens the request for templates.
type promptData struct {
	decision.Request
	Budget map[string]float64
}

func render(t *template.Template, req decision.Request) (string, error) {
	data := promptData{Request: req, Budget: make(map[string]float64, len(req.RemainingBudget))}
	for k, v := range req.RemainingBudget {
		data.Budget[string(k)] = v
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", t.Name(), err)
	}
	return buf.String(), nil
}

var _ decision.Oracle = (*LLMOracle)(nil)
