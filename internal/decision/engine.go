package decision

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cadence/internal/dayphase"
	"github.com/fyrsmithlabs/cadence/internal/metrics"
	"github.com/fyrsmithlabs/cadence/internal/workunit"
)

const (
	defaultTopK            = 7
	defaultHistorySize     = 10
	defaultMaxPlanPerPhase = 2
)

// Motivations attached to units the engine picks without the oracle.
const (
	MotivationOnlyViable = "Only viable option right now"
	MotivationFallback   = "Fallback: highest-scored candidate"
)

// Choice sources.
const (
	SourceOnlyViable = "only_viable"
	SourceOracle     = "oracle"
	SourceFallback   = "fallback"
)

// Choice is the result of DecideNext.
type Choice struct {
	Unit      *workunit.WorkUnit `json:"unit"`
	Candidate ScoredCandidate    `json:"candidate"`
	Source    string             `json:"source"`
	Energy    float64            `json:"energy,omitempty"`
}

// DayPlan maps each requested phase to at most two work units.
type DayPlan struct {
	Phases    map[dayphase.Phase][]*workunit.WorkUnit `json:"phases"`
	Intention string                                  `json:"intention,omitempty"`
	Fallback  bool                                    `json:"fallback"`
}

// Count returns the number of planned units.
func (p *DayPlan) Count() int {
	n := 0
	for _, units := range p.Phases {
		n += len(units)
	}
	return n
}

// Evaluation is a full viability and scoring pass.
type Evaluation struct {
	Snapshot Snapshot          `json:"snapshot"`
	Scored   []ScoredCandidate `json:"scored"`
	Rejected []Rejection       `json:"rejected,omitempty"`
}

// Engine picks and plans work.
//
// Thread Safety: All public methods are thread-safe. The template set and
// the recent-work history are the only mutable state.
type Engine struct {
	oracle    Oracle
	state     StateReader
	budget    BudgetReader
	growth    GrowthReader
	curiosity CuriosityReader
	identity  IdentityReader

	topK            int
	historySize     int
	maxPlanPerPhase int
	clock           func() time.Time
	logger          *zap.Logger
	metrics         *Metrics
	tracer          trace.Tracer

	mu        sync.RWMutex
	templates []*workunit.Template
	history   []string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithOracle sets the preference oracle.
func WithOracle(o Oracle) EngineOption {
	return func(e *Engine) { e.oracle = o }
}

// WithStateReader sets the emotional/activity state source.
func WithStateReader(r StateReader) EngineOption {
	return func(e *Engine) { e.state = r }
}

// WithBudgetReader sets the budget source. Without one nothing is affordable.
func WithBudgetReader(r BudgetReader) EngineOption {
	return func(e *Engine) { e.budget = r }
}

// WithGrowthReader sets the growth edge source.
func WithGrowthReader(r GrowthReader) EngineOption {
	return func(e *Engine) { e.growth = r }
}

// WithCuriosityReader sets the open question source.
func WithCuriosityReader(r CuriosityReader) EngineOption {
	return func(e *Engine) { e.curiosity = r }
}

// WithIdentityReader sets the identity summary source.
func WithIdentityReader(r IdentityReader) EngineOption {
	return func(e *Engine) { e.identity = r }
}

// WithTopK sets how many candidates are offered to the oracle (default 7).
func WithTopK(k int) EngineOption {
	return func(e *Engine) {
		if k > 0 {
			e.topK = k
		}
	}
}

// WithHistorySize bounds the recent-work history (default 10).
func WithHistorySize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.historySize = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithMetrics sets the OTel metrics.
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer sets the tracer used for engine spans.
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// NewEngine creates an engine over templates.
func NewEngine(templates []*workunit.Template, logger *zap.Logger, opts ...EngineOption) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		topK:            defaultTopK,
		historySize:     defaultHistorySize,
		maxPlanPerPhase: defaultMaxPlanPerPhase,
		clock:           time.Now,
		logger:          logger.Named("decision"),
		tracer:          Tracer(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.SetTemplates(templates); err != nil {
		return nil, err
	}
	return e, nil
}

// SetTemplates replaces the template set atomically.
func (e *Engine) SetTemplates(templates []*workunit.Template) error {
	seen := make(map[string]bool, len(templates))
	for _, t := range templates {
		if t == nil {
			return ErrNilTemplate
		}
		if seen[t.ID()] {
			return fmt.Errorf("%w: %s", ErrDuplicateID, t.ID())
		}
		seen[t.ID()] = true
	}
	e.mu.Lock()
	e.templates = append([]*workunit.Template(nil), templates...)
	e.mu.Unlock()
	e.logger.Debug("templates updated", zap.Int("count", len(templates)))
	return nil
}

// Templates returns the current template set.
func (e *Engine) Templates() []*workunit.Template {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*workunit.Template(nil), e.templates...)
}

// Template looks up a template by id.
func (e *Engine) Template(id string) (*workunit.Template, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, t := range e.templates {
		if t.ID() == id {
			return t, true
		}
	}
	return nil, false
}

// History returns recent template ids, oldest first.
func (e *Engine) History() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.history...)
}

// RecordCompleted pushes the unit's template onto the recent-work history.
func (e *Engine) RecordCompleted(u *workunit.WorkUnit) {
	if u == nil || u.TemplateID == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, u.TemplateID)
	if len(e.history) > e.historySize {
		e.history = e.history[len(e.history)-e.historySize:]
	}
}

// Snapshot gathers the current decision context.
func (e *Engine) Snapshot(ctx context.Context) Snapshot {
	return e.snapshot(ctx)
}

// Evaluate runs the viability filter and scorer without asking the oracle.
func (e *Engine) Evaluate(ctx context.Context) Evaluation {
	snap := e.snapshot(ctx)
	viable, rejected := Viable(e.Templates(), snap)
	return Evaluation{Snapshot: snap, Scored: rank(viable, snap), Rejected: rejected}
}

// Score returns the viable candidates, best first.
func (e *Engine) Score(ctx context.Context) []ScoredCandidate {
	return e.Evaluate(ctx).Scored
}

// DecideNext picks the next piece of work, or returns nil to rest.
//
// A single viable candidate is taken without consulting the oracle. With
// several, the top-K go to the oracle; an explicit "none" means rest and any
// oracle failure falls back to the top-scored candidate.
func (e *Engine) DecideNext(ctx context.Context) *Choice {
	ctx, span := e.tracer.Start(ctx, "decision.DecideNext")
	defer span.End()

	eval := e.Evaluate(ctx)
	scored := eval.Scored
	span.SetAttributes(
		attribute.Int("decision.viable", len(scored)),
		attribute.Int("decision.rejected", len(eval.Rejected)),
	)
	for _, r := range eval.Rejected {
		e.logger.Debug("template not viable",
			zap.String("template_id", r.ID),
			zap.String("reason", r.Reason),
		)
	}

	switch len(scored) {
	case 0:
		e.logger.Info("no viable work candidates")
		e.metrics.recordDecision(ctx, "no_candidates", 0)
		return nil
	case 1:
		c := scored[0]
		e.metrics.recordDecision(ctx, SourceOnlyViable, 1)
		e.logger.Info("single viable candidate selected", zap.String("template_id", c.ID))
		return &Choice{
			Unit:      c.Template.Instantiate("", MotivationOnlyViable),
			Candidate: c,
			Source:    SourceOnlyViable,
		}
	}

	top := scored
	if len(top) > e.topK {
		top = top[:e.topK]
	}

	d, err := e.askDecide(ctx, eval.Snapshot, top)
	if err == nil && d.IsNone() {
		e.logger.Info("oracle chose to rest")
		e.metrics.recordDecision(ctx, "rest", len(scored))
		span.SetAttributes(attribute.String("decision.source", "rest"))
		return nil
	}
	if err == nil {
		chosen := strings.TrimSpace(d.ChosenOption)
		for _, c := range top {
			if c.ID != chosen {
				continue
			}
			motivation := d.Motivation
			if motivation == "" {
				motivation = "Chosen by preference oracle"
			}
			e.metrics.recordDecision(ctx, SourceOracle, len(scored))
			span.SetAttributes(attribute.String("decision.source", SourceOracle))
			e.logger.Info("oracle selected work",
				zap.String("template_id", c.ID),
				zap.Float64("score", c.Total),
			)
			return &Choice{
				Unit:      c.Template.Instantiate(d.Focus, motivation),
				Candidate: c,
				Source:    SourceOracle,
				Energy:    d.Energy,
			}
		}
		err = fmt.Errorf("%w: %q", ErrUnknownOption, d.ChosenOption)
	}

	best := top[0]
	e.logger.Warn("oracle decision unusable, falling back to top-scored candidate",
		zap.Error(err),
		zap.String("template_id", best.ID),
	)
	span.RecordError(err)
	span.SetAttributes(attribute.String("decision.source", SourceFallback))
	e.metrics.recordFallback(ctx, "decide")
	e.metrics.recordDecision(ctx, SourceFallback, len(scored))
	metrics.OracleFallbacksTotal.WithLabelValues("decide").Inc()

	return &Choice{
		Unit:      best.Template.Instantiate("", MotivationFallback),
		Candidate: best,
		Source:    SourceFallback,
	}
}

// askDecide calls the oracle, converting panics and empty answers into
// errors.
func (e *Engine) askDecide(ctx context.Context, snap Snapshot, top []ScoredCandidate) (d Decision, err error) {
	if e.oracle == nil {
		return Decision{}, ErrNoOracle
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("oracle panicked",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			err = fmt.Errorf("oracle panicked: %v", r)
		}
	}()

	start := time.Now()
	d, err = e.oracle.Decide(ctx, buildRequest(snap, top, nil))
	e.metrics.recordOracle(ctx, "decide", time.Since(start).Seconds())
	if err != nil {
		return Decision{}, fmt.Errorf("oracle decide: %w", err)
	}
	if strings.TrimSpace(d.ChosenOption) == "" {
		return Decision{}, ErrEmptyDecision
	}
	return d, nil
}

// PlanDay asks the oracle for a plan covering phases. Entries for templates
// that are unknown or not viable are dropped and each phase keeps at most
// two. Oracle failure yields an empty plan.
func (e *Engine) PlanDay(ctx context.Context, phases []dayphase.Phase) *DayPlan {
	ctx, span := e.tracer.Start(ctx, "decision.PlanDay")
	defer span.End()

	plan := &DayPlan{Phases: make(map[dayphase.Phase][]*workunit.WorkUnit, len(phases))}
	for _, p := range phases {
		plan.Phases[p] = nil
	}
	if len(phases) == 0 {
		return plan
	}

	eval := e.Evaluate(ctx)
	if len(eval.Scored) == 0 {
		e.logger.Info("no viable templates for day plan")
		e.metrics.recordPlan(ctx, 0)
		return plan
	}

	raw, err := e.askPlan(ctx, eval.Snapshot, eval.Scored, phases)
	if err != nil {
		e.logger.Warn("oracle day plan failed, returning empty plan", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "oracle plan failed")
		e.metrics.recordFallback(ctx, "plan")
		metrics.OracleFallbacksTotal.WithLabelValues("plan").Inc()
		plan.Fallback = true
		return plan
	}

	viable := make(map[string]ScoredCandidate, len(eval.Scored))
	for _, c := range eval.Scored {
		viable[c.ID] = c
	}

	plan.Intention = raw.Intention
	for _, p := range phases {
		for _, entry := range raw.Phases[p] {
			if len(plan.Phases[p]) >= e.maxPlanPerPhase {
				break
			}
			c, ok := viable[strings.TrimSpace(entry.TemplateID)]
			if !ok {
				e.logger.Debug("dropping unknown or non-viable plan entry",
					zap.String("phase", string(p)),
					zap.String("template_id", entry.TemplateID),
				)
				continue
			}
			plan.Phases[p] = append(plan.Phases[p], c.Template.Instantiate(entry.Focus, entry.Motivation))
		}
	}

	count := plan.Count()
	span.SetAttributes(attribute.Int("decision.plan.units", count))
	e.metrics.recordPlan(ctx, count)
	e.logger.Info("day plan built",
		zap.Int("units", count),
		zap.String("intention", plan.Intention),
	)
	return plan
}

func (e *Engine) askPlan(ctx context.Context, snap Snapshot, scored []ScoredCandidate, phases []dayphase.Phase) (p Plan, err error) {
	if e.oracle == nil {
		return Plan{}, ErrNoOracle
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("oracle panicked",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			err = fmt.Errorf("oracle panicked: %v", r)
		}
	}()

	start := time.Now()
	p, err = e.oracle.PlanDay(ctx, buildRequest(snap, scored, phases), phases)
	e.metrics.recordOracle(ctx, "plan", time.Since(start).Seconds())
	if err != nil {
		return Plan{}, fmt.Errorf("oracle plan: %w", err)
	}
	return p, nil
}
