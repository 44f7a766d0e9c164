// Package scheduler coordinates the autonomous day.
//
// The Scheduler plans each calendar day once, feeds the plan into the phase
// queues, reacts to day-phase transitions, tracks the single unit currently
// running and records every finished unit: decision history, work history,
// metrics, events and a persisted WorkSummary.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cadence/internal/dayphase"
	"github.com/fyrsmithlabs/cadence/internal/decision"
	"github.com/fyrsmithlabs/cadence/internal/events"
	"github.com/fyrsmithlabs/cadence/internal/logging"
	"github.com/fyrsmithlabs/cadence/internal/metrics"
	"github.com/fyrsmithlabs/cadence/internal/phasequeue"
	"github.com/fyrsmithlabs/cadence/internal/summary"
	"github.com/fyrsmithlabs/cadence/internal/workunit"
)

const (
	instrumentationName = "github.com/fyrsmithlabs/cadence/internal/scheduler"
	eventSource         = "autonomous_scheduler"

	DefaultMinPlanBudget = 0.10
	DefaultTickInterval  = 15 * time.Minute
	defaultHistorySize   = 50
)

// Plan results.
const (
	PlanPlanned        = "planned"
	PlanSkippedSameDay = "skipped_same_day"
	PlanSkippedBudget  = "skipped_budget"
	PlanEmpty          = "empty"
)

// Planner is the decision engine as seen by the scheduler.
type Planner interface {
	PlanDay(ctx context.Context, phases []dayphase.Phase) *decision.DayPlan
	DecideNext(ctx context.Context) *decision.Choice
	RecordCompleted(u *workunit.WorkUnit)
	Snapshot(ctx context.Context) decision.Snapshot
}

// SummaryWriter persists finished work.
type SummaryWriter interface {
	Save(ctx context.Context, s *summary.WorkSummary) error
}

// PlanResult reports one PlanDay call.
type PlanResult struct {
	Date     string                 `json:"date"`
	Result   string                 `json:"result"`
	Phases   []dayphase.Phase       `json:"phases,omitempty"`
	Queued   int                    `json:"queued"`
	Rejected int                    `json:"rejected"`
	Budget   float64                `json:"budget"`
	Plan     *decision.DayPlan      `json:"-"`
	Counts   map[dayphase.Phase]int `json:"counts,omitempty"`
}

// WorkRecord is one entry of the work history.
type WorkRecord struct {
	WorkUnitID  string            `json:"work_unit_id"`
	Name        string            `json:"name"`
	TemplateID  string            `json:"template_id"`
	Category    workunit.Category `json:"category"`
	Phase       dayphase.Phase    `json:"phase"`
	Status      workunit.Status   `json:"status"`
	Slug        string            `json:"slug"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	CostUSD     float64           `json:"cost_usd"`
	Error       string            `json:"error,omitempty"`
}

// Scheduler is the autonomous day coordinator.
type Scheduler struct {
	logger        *zap.Logger
	planner       Planner
	tracker       *dayphase.Tracker
	queue         *phasequeue.Manager
	summaries     SummaryWriter
	bus           events.Bus
	clock         func() time.Time
	tracer        trace.Tracer
	minPlanBudget float64
	tickInterval  time.Duration
	historySize   int
	engineBusy    func() bool

	// planMu serializes PlanDay so the per-date guard holds under
	// concurrent callers.
	planMu       sync.Mutex
	lastPlanDate string
	lastPlan     *PlanResult

	mu           sync.Mutex
	current      *workunit.WorkUnit
	currentPhase dayphase.Phase
	history      []WorkRecord
	registered   bool
	running      bool
	stopCh       chan struct{}
	doneCh       chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSummaries persists summaries of finished work.
func WithSummaries(w SummaryWriter) Option {
	return func(s *Scheduler) { s.summaries = w }
}

// WithEventBus publishes scheduler events.
func WithEventBus(bus events.Bus) Option {
	return func(s *Scheduler) {
		if bus != nil {
			s.bus = bus
		}
	}
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithMinPlanBudget sets the total remaining budget PlanDay requires.
func WithMinPlanBudget(v float64) Option {
	return func(s *Scheduler) {
		if v >= 0 {
			s.minPlanBudget = v
		}
	}
}

// WithTickInterval sets the opportunistic Tick interval used by Start.
// Zero disables ticking.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.tickInterval = d
		}
	}
}

// WithHistorySize bounds the work history.
func WithHistorySize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.historySize = n
		}
	}
}

// WithEngineBusy reports whether the execution engine is occupied; Tick
// skips while it is.
func WithEngineBusy(busy func() bool) Option {
	return func(s *Scheduler) { s.engineBusy = busy }
}

// New creates a scheduler and registers it as the queue's lifecycle hook.
func New(planner Planner, tracker *dayphase.Tracker, queue *phasequeue.Manager, logger *zap.Logger, opts ...Option) (*Scheduler, error) {
	if planner == nil {
		return nil, ErrNilPlanner
	}
	if tracker == nil {
		return nil, ErrNilTracker
	}
	if queue == nil {
		return nil, ErrNilQueue
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		logger:        logger.Named("scheduler"),
		planner:       planner,
		tracker:       tracker,
		queue:         queue,
		bus:           events.NopBus{},
		clock:         time.Now,
		tracer:        otel.Tracer(instrumentationName),
		minPlanBudget: DefaultMinPlanBudget,
		tickInterval:  DefaultTickInterval,
		historySize:   defaultHistorySize,
	}
	for _, opt := range opts {
		opt(s)
	}
	queue.SetLifecycle(s)
	return s, nil
}

// PlanDay plans the rest of today's cycle once per calendar date. It is a
// no-op when today is already planned or the remaining budget is below the
// minimum.
func (s *Scheduler) PlanDay(ctx context.Context) PlanResult {
	s.planMu.Lock()
	defer s.planMu.Unlock()

	now := s.clock()
	date := now.Format(summary.DateLayout)
	res := PlanResult{Date: date}
	ctx = logging.WithPlanDate(ctx, now)
	logger := s.logger.With(logging.ContextFields(ctx)...)

	if s.lastPlanDate == date {
		res.Result = PlanSkippedSameDay
		metrics.PlanRunsTotal.WithLabelValues(res.Result).Inc()
		logger.Debug("day already planned")
		return res
	}

	snap := s.planner.Snapshot(ctx)
	res.Budget = snap.TotalBudget()
	if res.Budget < s.minPlanBudget {
		res.Result = PlanSkippedBudget
		metrics.PlanRunsTotal.WithLabelValues(res.Result).Inc()
		logger.Info("skipping day plan, budget too low",
			zap.Float64("budget", res.Budget),
			zap.Float64("min", s.minPlanBudget),
		)
		return res
	}

	ctx, span := s.tracer.Start(ctx, "scheduler.PlanDay",
		trace.WithAttributes(attribute.String("plan.date", date)))
	defer span.End()

	current := s.tracker.PhaseFor(now)
	res.Phases = dayphase.RemainingCycle(current)
	plan := s.planner.PlanDay(ctx, res.Phases)
	s.lastPlanDate = date
	res.Plan = plan
	res.Counts = make(map[dayphase.Phase]int, len(res.Phases))

	if plan != nil {
		for _, phase := range res.Phases {
			for i, unit := range plan.Phases[phase] {
				if s.queue.Queue(unit, phase, i) {
					res.Queued++
					res.Counts[phase]++
				} else {
					res.Rejected++
				}
			}
		}
	}
	span.SetAttributes(attribute.Int("plan.queued", res.Queued))

	res.Result = PlanPlanned
	if res.Queued == 0 {
		res.Result = PlanEmpty
	}
	metrics.PlanRunsTotal.WithLabelValues(res.Result).Inc()
	s.lastPlan = &res

	intention := ""
	fallback := false
	if plan != nil {
		intention = plan.Intention
		fallback = plan.Fallback
	}
	logger.Info("day planned",
		zap.Int("queued", res.Queued),
		zap.Int("rejected", res.Rejected),
		zap.String("intention", intention),
		zap.Bool("fallback", fallback),
	)

	counts := make(map[string]any, len(res.Counts))
	for p, n := range res.Counts {
		counts[string(p)] = n
	}
	s.publish(ctx, events.DayPlanned, fmt.Sprintf("planned %d units for %s", res.Queued, date), map[string]any{
		"date":      date,
		"queued":    res.Queued,
		"phases":    counts,
		"intention": intention,
	})
	return res
}

// LastPlan returns the most recent plan that ran, or nil.
func (s *Scheduler) LastPlan() *PlanResult {
	s.planMu.Lock()
	defer s.planMu.Unlock()
	if s.lastPlan == nil {
		return nil
	}
	cp := *s.lastPlan
	return &cp
}

// StartWork makes unit the current unit and marks it running.
func (s *Scheduler) StartWork(ctx context.Context, unit *workunit.WorkUnit) error {
	if unit == nil {
		return ErrNilUnit
	}
	return s.begin(ctx, unit, s.tracker.CurrentPhase(), true)
}

// UnitStarted implements phasequeue.Lifecycle.
func (s *Scheduler) UnitStarted(ctx context.Context, unit *workunit.WorkUnit, phase dayphase.Phase) error {
	return s.begin(ctx, unit, phase, false)
}

func (s *Scheduler) begin(ctx context.Context, unit *workunit.WorkUnit, phase dayphase.Phase, start bool) error {
	s.mu.Lock()
	if s.current != nil {
		id := s.current.ID
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWorkInProgress, id)
	}
	if start && unit.Status != workunit.StatusRunning {
		if err := unit.Start(); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.current = unit
	s.currentPhase = phase
	s.mu.Unlock()

	s.logger.Info("work started",
		zap.String("work_unit.id", unit.ID),
		zap.String("name", unit.Name),
		zap.String("day.phase", string(phase)),
	)
	s.publish(ctx, events.WorkStarted, unit.Name, map[string]any{
		"work_unit_id": unit.ID,
		"template_id":  unit.TemplateID,
		"phase":        string(phase),
		"focus":        unit.Focus,
	})
	return nil
}

// CompleteWork marks a running unit completed and records it.
func (s *Scheduler) CompleteWork(ctx context.Context, unit *workunit.WorkUnit, result string) error {
	if unit == nil {
		return ErrNilUnit
	}
	if unit.Status == workunit.StatusRunning {
		if err := unit.Complete(result); err != nil {
			return err
		}
	}
	s.finish(ctx, unit, s.phaseOf(unit))
	return nil
}

// FailWork marks a running unit failed and records it.
func (s *Scheduler) FailWork(ctx context.Context, unit *workunit.WorkUnit, reason string) error {
	if unit == nil {
		return ErrNilUnit
	}
	if unit.Status == workunit.StatusRunning {
		if err := unit.Fail(reason); err != nil {
			return err
		}
	}
	s.finish(ctx, unit, s.phaseOf(unit))
	return nil
}

// UnitFinished implements phasequeue.Lifecycle.
func (s *Scheduler) UnitFinished(ctx context.Context, unit *workunit.WorkUnit, phase dayphase.Phase) {
	s.finish(ctx, unit, phase)
}

func (s *Scheduler) phaseOf(unit *workunit.WorkUnit) dayphase.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.ID == unit.ID {
		return s.currentPhase
	}
	return s.tracker.CurrentPhase()
}

func (s *Scheduler) finish(ctx context.Context, unit *workunit.WorkUnit, phase dayphase.Phase) {
	now := s.clock()
	sum := summary.FromWorkUnit(unit, phase, now)
	rec := WorkRecord{
		WorkUnitID:  unit.ID,
		Name:        unit.Name,
		TemplateID:  unit.TemplateID,
		Category:    unit.Category,
		Phase:       phase,
		Status:      unit.Status,
		Slug:        sum.Slug,
		StartedAt:   unit.StartedAt,
		CompletedAt: unit.CompletedAt,
		CostUSD:     unit.ActualCost(),
		Error:       unit.Error,
	}

	s.mu.Lock()
	if s.current != nil && s.current.ID == unit.ID {
		s.current = nil
		s.currentPhase = ""
	}
	s.history = append(s.history, rec)
	if len(s.history) > s.historySize {
		s.history = s.history[len(s.history)-s.historySize:]
	}
	s.mu.Unlock()

	s.planner.RecordCompleted(unit)

	outcome := "failed"
	name := events.WorkFailed
	if unit.Status == workunit.StatusCompleted {
		outcome = "completed"
		name = events.WorkCompleted
	}
	metrics.WorkFinishedTotal.WithLabelValues(outcome, string(unit.Category)).Inc()
	if d := unit.Duration(); d > 0 {
		metrics.WorkDuration.Observe(d.Seconds())
	}

	ctx = logging.WithPhase(logging.WithWorkUnitID(ctx, unit.ID), string(phase))
	logger := s.logger.With(logging.ContextFields(ctx)...)
	if s.summaries != nil {
		if err := s.summaries.Save(ctx, sum); err != nil {
			logger.Error("failed to save work summary", zap.String("slug", sum.Slug), zap.Error(err))
		}
	}
	logger.Info("work finished",
		zap.String("outcome", outcome),
		zap.String("slug", sum.Slug),
		zap.Float64("cost_usd", rec.CostUSD),
	)
	s.publish(ctx, name, unit.Name, map[string]any{
		"work_unit_id": unit.ID,
		"template_id":  unit.TemplateID,
		"phase":        string(phase),
		"slug":         sum.Slug,
		"cost_usd":     rec.CostUSD,
		"error":        unit.Error,
	})
}

// CurrentWork returns the running unit, or nil.
func (s *Scheduler) CurrentWork() *workunit.WorkUnit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// History returns finished work, oldest first.
func (s *Scheduler) History() []WorkRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]WorkRecord(nil), s.history...)
}

// BestPhaseFor returns the phase whose hours overlap the unit's preferred
// windows the most. It reports false when the unit has no windows or none
// overlap.
func (s *Scheduler) BestPhaseFor(unit *workunit.WorkUnit) (dayphase.Phase, bool) {
	return BestPhase(s.tracker.Windows(), unit)
}

// BestPhase is BestPhaseFor over an explicit set of phase windows. Ties go
// to the earlier phase in clock order.
func BestPhase(windows []dayphase.Window, unit *workunit.WorkUnit) (dayphase.Phase, bool) {
	if unit == nil || len(unit.PreferredWindows) == 0 {
		return "", false
	}
	var best dayphase.Phase
	bestOverlap := 0
	for _, phase := range dayphase.All() {
		w, ok := dayphase.WindowFor(windows, phase)
		if !ok {
			continue
		}
		overlap := 0
		for _, pref := range unit.PreferredWindows {
			for _, h := range pref.Hours() {
				if w.Contains(h) {
					overlap++
				}
			}
		}
		if overlap > bestOverlap {
			best, bestOverlap = phase, overlap
		}
	}
	return best, bestOverlap > 0
}

// onTransition is registered with the tracker. Entering the morning starts
// a new day, so the day is planned before the morning queue drains.
func (s *Scheduler) onTransition(ctx context.Context, tr dayphase.Transition) error {
	metrics.SetCurrentPhase(string(tr.To), phaseNames())
	s.logger.Info("day phase transition",
		zap.String("from", string(tr.From)),
		zap.String("to", string(tr.To)),
	)
	if tr.To == dayphase.Morning {
		s.PlanDay(ctx)
	}
	return s.queue.OnPhaseChanged(ctx, tr)
}

// Tick runs one opportunistic decision when nothing is queued for the
// current phase and nothing is running. It returns the chosen unit, or nil.
func (s *Scheduler) Tick(ctx context.Context) *workunit.WorkUnit {
	phase := s.tracker.CurrentPhase()
	if s.CurrentWork() != nil {
		return nil
	}
	if s.engineBusy != nil && s.engineBusy() {
		return nil
	}
	if s.queue.Lengths()[phase] > 0 {
		return nil
	}

	choice := s.planner.DecideNext(ctx)
	if choice == nil || choice.Unit == nil {
		s.logger.Debug("tick chose to rest", zap.String("day.phase", string(phase)))
		return nil
	}
	if !s.queue.Queue(choice.Unit, phase, 0) {
		return nil
	}
	s.logger.Info("tick picked work",
		zap.String("work_unit.id", choice.Unit.ID),
		zap.String("name", choice.Unit.Name),
		zap.String("source", choice.Source),
	)
	s.queue.DispatchCurrent(ctx, phase)
	return choice.Unit
}

// Start wires the tracker, plans the day, dispatches anything already
// queued for the current phase and starts the tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	if !s.registered {
		s.tracker.OnPhaseChange(s.onTransition)
		s.registered = true
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	if err := s.tracker.Start(ctx); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("start tracker: %w", err)
	}

	phase := s.tracker.CurrentPhase()
	metrics.SetCurrentPhase(string(phase), phaseNames())
	s.PlanDay(ctx)
	if n := s.queue.DispatchCurrent(ctx, phase); n > 0 {
		s.logger.Info("dispatched queued work on startup",
			zap.String("day.phase", string(phase)),
			zap.Int("count", n),
		)
	}

	go s.run(ctx, stopCh, doneCh)
	s.logger.Info("autonomous scheduler started",
		zap.String("day.phase", string(phase)),
		zap.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop halts the tick loop and the tracker. Work already submitted runs to
// completion.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	doneCh := s.doneCh
	s.mu.Unlock()

	<-doneCh
	if err := s.tracker.Stop(); err != nil {
		return err
	}
	s.logger.Info("autonomous scheduler stopped")
	return nil
}

func (s *Scheduler) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	if s.tickInterval <= 0 {
		select {
		case <-stopCh:
		case <-ctx.Done():
		}
		return
	}

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.safeTick(ctx)
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler tick panicked, continuing",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()
	s.Tick(ctx)
}

func (s *Scheduler) publish(ctx context.Context, name, reason string, payload map[string]any) {
	if err := s.bus.Publish(ctx, events.New(eventSource, name, reason, payload)); err != nil {
		s.logger.Warn("failed to publish event", zap.String("event", name), zap.Error(err))
	}
}

func phaseNames() []string {
	all := dayphase.All()
	out := make([]string, len(all))
	for i, p := range all {
		out[i] = string(p)
	}
	return out
}

var _ phasequeue.Lifecycle = (*Scheduler)(nil)
