// Package phasequeue holds work units until their target day phase begins
// and then hands them to the execution engine.
//
// Each phase has a bounded queue kept in ascending priority order (ties stay
// FIFO). When the day enters a phase, that phase's queue is drained in order;
// every drained unit is submitted as an executor.Task whose handler runs the
// unit's action sequence (or its runner) and records the outcome.
package phasequeue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cadence/internal/dayphase"
	"github.com/fyrsmithlabs/cadence/internal/events"
	"github.com/fyrsmithlabs/cadence/internal/executor"
	"github.com/fyrsmithlabs/cadence/internal/metrics"
	"github.com/fyrsmithlabs/cadence/internal/summary"
	"github.com/fyrsmithlabs/cadence/internal/workunit"
)

const (
	instrumentationName = "github.com/fyrsmithlabs/cadence/internal/phasequeue"
	eventSource         = "phase_queue"

	DefaultMaxPerPhase     = 5
	defaultDispatchHistory = 50
)

// Dispatch triggers.
const (
	TriggerTransition = "transition"
	TriggerCatchUp    = "catch_up"
)

// QueuedWorkUnit is a unit waiting for its phase.
type QueuedWorkUnit struct {
	Unit        *workunit.WorkUnit `json:"unit"`
	TargetPhase dayphase.Phase     `json:"target_phase"`
	QueuedAt    time.Time          `json:"queued_at"`
	Priority    int                `json:"priority"`
}

// DispatchRecord describes one drain of a phase queue.
type DispatchRecord struct {
	Phase        dayphase.Phase `json:"phase"`
	Trigger      string         `json:"trigger"`
	Timestamp    time.Time      `json:"timestamp"`
	Submitted    []string       `json:"submitted,omitempty"`
	NotSubmitted []string       `json:"not_submitted,omitempty"`
}

// SummaryWriter persists finished work.
type SummaryWriter interface {
	Save(ctx context.Context, s *summary.WorkSummary) error
}

// Lifecycle is notified when a dispatched unit starts and finishes. The
// scheduler implements it to track the single current unit.
type Lifecycle interface {
	UnitStarted(ctx context.Context, unit *workunit.WorkUnit, phase dayphase.Phase) error
	UnitFinished(ctx context.Context, unit *workunit.WorkUnit, phase dayphase.Phase)
}

// Manager owns the per-phase queues.
type Manager struct {
	logger      *zap.Logger
	maxPerPhase int
	historySize int
	engine      executor.Engine
	actions     ActionRegistry
	runner      Runner
	summaries   SummaryWriter
	lifecycle   Lifecycle
	bus         events.Bus
	clock       func() time.Time
	tracer      trace.Tracer

	mu      sync.Mutex
	queues  map[dayphase.Phase][]QueuedWorkUnit
	history []DispatchRecord
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxPerPhase bounds each phase queue.
func WithMaxPerPhase(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxPerPhase = n
		}
	}
}

// WithDispatchHistory bounds the dispatch history.
func WithDispatchHistory(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.historySize = n
		}
	}
}

// WithEngine attaches the execution engine. Without one, dispatch drops
// units and reports them as not submitted.
func WithEngine(e executor.Engine) Option {
	return func(m *Manager) { m.engine = e }
}

// WithActions sets the registry used for action sequences.
func WithActions(r ActionRegistry) Option {
	return func(m *Manager) { m.actions = r }
}

// WithRunner sets the runner used for units with a runner key.
func WithRunner(r Runner) Option {
	return func(m *Manager) { m.runner = r }
}

// WithSummaries persists a WorkSummary for every finished unit.
func WithSummaries(w SummaryWriter) Option {
	return func(m *Manager) { m.summaries = w }
}

// WithLifecycle sets the start/finish hook.
func WithLifecycle(l Lifecycle) Option {
	return func(m *Manager) { m.lifecycle = l }
}

// WithEventBus publishes work_dispatched events.
func WithEventBus(bus events.Bus) Option {
	return func(m *Manager) {
		if bus != nil {
			m.bus = bus
		}
	}
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// NewManager creates an empty queue manager.
func NewManager(logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		logger:      logger.Named("phasequeue"),
		maxPerPhase: DefaultMaxPerPhase,
		historySize: defaultDispatchHistory,
		bus:         events.NopBus{},
		clock:       time.Now,
		tracer:      otel.Tracer(instrumentationName),
		queues:      make(map[dayphase.Phase][]QueuedWorkUnit),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetLifecycle attaches the lifecycle hook after construction. The
// scheduler uses it to register itself.
func (m *Manager) SetLifecycle(l Lifecycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lifecycle = l
}

// Queue adds unit to phase's queue and marks it scheduled. It returns false
// when the queue is full or the unit cannot be scheduled.
func (m *Manager) Queue(unit *workunit.WorkUnit, phase dayphase.Phase, priority int) bool {
	if unit == nil {
		return false
	}
	m.mu.Lock()
	q := m.queues[phase]
	if len(q) >= m.maxPerPhase {
		m.mu.Unlock()
		m.logger.Warn("phase queue full",
			zap.String("phase", string(phase)),
			zap.String("work_unit.id", unit.ID),
			zap.Int("max", m.maxPerPhase),
		)
		return false
	}
	if unit.Status == workunit.StatusPlanned {
		if err := unit.Schedule(); err != nil {
			m.mu.Unlock()
			return false
		}
	}
	if unit.Status != workunit.StatusScheduled {
		m.mu.Unlock()
		m.logger.Warn("refusing to queue unit",
			zap.String("work_unit.id", unit.ID),
			zap.String("status", string(unit.Status)),
		)
		return false
	}

	q = append(q, QueuedWorkUnit{
		Unit:        unit,
		TargetPhase: phase,
		QueuedAt:    m.clock(),
		Priority:    priority,
	})
	sort.SliceStable(q, func(i, j int) bool { return q[i].Priority < q[j].Priority })
	m.queues[phase] = q
	depth := len(q)
	m.mu.Unlock()

	metrics.QueueDepth.WithLabelValues(string(phase)).Set(float64(depth))
	m.logger.Debug("work unit queued",
		zap.String("work_unit.id", unit.ID),
		zap.String("name", unit.Name),
		zap.String("phase", string(phase)),
		zap.Int("priority", priority),
	)
	return true
}

// Queued returns a copy of phase's queue in dispatch order.
func (m *Manager) Queued(phase dayphase.Phase) []QueuedWorkUnit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]QueuedWorkUnit(nil), m.queues[phase]...)
}

// Lengths returns the queue length of every phase.
func (m *Manager) Lengths() map[dayphase.Phase]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[dayphase.Phase]int, len(dayphase.All()))
	for _, p := range dayphase.All() {
		out[p] = len(m.queues[p])
	}
	return out
}

// DispatchHistory returns drain records, oldest first.
func (m *Manager) DispatchHistory() []DispatchRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DispatchRecord(nil), m.history...)
}

// Clear empties phase's queue, cancelling its units. It returns how many
// units were removed.
func (m *Manager) Clear(phase dayphase.Phase) int {
	m.mu.Lock()
	q := m.queues[phase]
	delete(m.queues, phase)
	m.mu.Unlock()

	for _, item := range q {
		_ = item.Unit.Cancel()
	}
	metrics.QueueDepth.WithLabelValues(string(phase)).Set(0)
	return len(q)
}

// Remove drops the unit with unitID from whichever queue holds it and
// cancels it.
func (m *Manager) Remove(unitID string) bool {
	m.mu.Lock()
	for phase, q := range m.queues {
		for i, item := range q {
			if item.Unit.ID != unitID {
				continue
			}
			m.queues[phase] = append(q[:i:i], q[i+1:]...)
			depth := len(m.queues[phase])
			m.mu.Unlock()

			_ = item.Unit.Cancel()
			metrics.QueueDepth.WithLabelValues(string(phase)).Set(float64(depth))
			return true
		}
	}
	m.mu.Unlock()
	return false
}

// OnPhaseChanged drains the queue of the phase being entered. Its signature
// matches dayphase.Callback.
func (m *Manager) OnPhaseChanged(ctx context.Context, tr dayphase.Transition) error {
	m.logger.Info("phase changed, dispatching queue",
		zap.String("from", string(tr.From)),
		zap.String("to", string(tr.To)),
	)
	m.drain(ctx, tr.To, TriggerTransition)
	return nil
}

// DispatchCurrent drains phase's queue. It is used on startup to catch up
// on work queued for the phase already in progress. It returns the number
// of units submitted.
func (m *Manager) DispatchCurrent(ctx context.Context, phase dayphase.Phase) int {
	return len(m.drain(ctx, phase, TriggerCatchUp).Submitted)
}

func (m *Manager) drain(ctx context.Context, phase dayphase.Phase, trigger string) DispatchRecord {
	ctx, span := m.tracer.Start(ctx, "phasequeue.Dispatch",
		trace.WithAttributes(
			attribute.String("phase", string(phase)),
			attribute.String("trigger", trigger),
		))
	defer span.End()

	m.mu.Lock()
	q := m.queues[phase]
	delete(m.queues, phase)
	m.mu.Unlock()
	metrics.QueueDepth.WithLabelValues(string(phase)).Set(0)

	rec := DispatchRecord{Phase: phase, Trigger: trigger, Timestamp: m.clock()}
	if len(q) == 0 {
		return rec
	}
	for _, item := range q {
		if m.dispatch(ctx, item) {
			rec.Submitted = append(rec.Submitted, item.Unit.ID)
		} else {
			rec.NotSubmitted = append(rec.NotSubmitted, item.Unit.ID)
		}
	}
	span.SetAttributes(
		attribute.Int("submitted", len(rec.Submitted)),
		attribute.Int("not_submitted", len(rec.NotSubmitted)),
	)

	m.mu.Lock()
	m.history = append(m.history, rec)
	if len(m.history) > m.historySize {
		m.history = m.history[len(m.history)-m.historySize:]
	}
	m.mu.Unlock()
	return rec
}

// dispatch submits one unit. It reports whether the engine accepted it.
func (m *Manager) dispatch(ctx context.Context, item QueuedWorkUnit) bool {
	phase := string(item.TargetPhase)
	unit := item.Unit
	if m.engine == nil {
		metrics.DispatchedTotal.WithLabelValues(phase, "no_engine").Inc()
		m.logger.Warn("no execution engine attached, dropping queued unit",
			zap.String("work_unit.id", unit.ID),
			zap.String("phase", phase),
		)
		return false
	}

	task := executor.Task{
		ID:            unit.ID,
		Name:          unit.Name,
		Category:      unit.Category,
		Priority:      item.Priority,
		Handler:       m.handler(item),
		EstimatedCost: unit.EstimatedCost,
		Context: map[string]any{
			"work_unit_id": unit.ID,
			"template_id":  unit.TemplateID,
			"phase":        phase,
			"focus":        unit.Focus,
			"motivation":   unit.Motivation,
		},
	}
	if err := m.engine.Submit(ctx, task); err != nil {
		metrics.DispatchedTotal.WithLabelValues(phase, "error").Inc()
		m.logger.Error("failed to submit work unit",
			zap.String("work_unit.id", unit.ID),
			zap.Error(err),
		)
		return false
	}

	metrics.DispatchedTotal.WithLabelValues(phase, "submitted").Inc()
	m.logger.Info("work unit dispatched",
		zap.String("work_unit.id", unit.ID),
		zap.String("name", unit.Name),
		zap.String("phase", phase),
	)
	ev := events.New(eventSource, events.WorkDispatched, fmt.Sprintf("dispatched %s", unit.Name), map[string]any{
		"work_unit_id": unit.ID,
		"template_id":  unit.TemplateID,
		"phase":        phase,
		"priority":     item.Priority,
	})
	if err := m.bus.Publish(ctx, ev); err != nil {
		m.logger.Warn("failed to publish dispatch event", zap.Error(err))
	}
	return true
}

func (m *Manager) currentLifecycle() Lifecycle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lifecycle
}
