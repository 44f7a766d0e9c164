// Package executor runs scheduled work one task at a time.
//
// Engine is the contract the phase queue dispatches into: Submit is
// fire-and-forget and returns as soon as the task is accepted. Local is the
// in-process reference engine. It owns a single execution slot, so tasks
// never overlap, and it recovers handler panics so one bad task cannot take
// the worker down.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cadence/internal/workunit"
)

const (
	defaultQueueSize = 16
	defaultLogSize   = 100
)

var (
	ErrNotRunning   = errors.New("executor is not running")
	ErrQueueFull    = errors.New("executor queue is full")
	ErrEmptyTaskID  = errors.New("task id is required")
	ErrNilHandler   = errors.New("task handler cannot be nil")
	ErrTaskPanicked = errors.New("task handler panicked")
)

// Handler does the task's work.
type Handler func(ctx context.Context) error

// Task is one unit of submitted work.
type Task struct {
	ID            string
	Name          string
	Category      workunit.Category
	Priority      int
	Handler       Handler
	EstimatedCost float64
	Context       map[string]any
}

// Engine accepts tasks for asynchronous execution.
type Engine interface {
	Submit(ctx context.Context, task Task) error
}

// Record describes a finished task.
type Record struct {
	TaskID      string            `json:"task_id"`
	Name        string            `json:"name"`
	Category    workunit.Category `json:"category"`
	SubmittedAt time.Time         `json:"submitted_at"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
	Error       string            `json:"error,omitempty"`
	Panicked    bool              `json:"panicked,omitempty"`
}

// Duration is the handler run time.
func (r Record) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

type queued struct {
	task        Task
	submittedAt time.Time
}

// Local is a single-slot in-process Engine.
type Local struct {
	logger    *zap.Logger
	queueSize int
	logSize   int

	mu      sync.Mutex
	running bool
	queue   chan queued
	stopCh  chan struct{}
	doneCh  chan struct{}
	current *Task
	log     []Record
}

// Option configures Local.
type Option func(*Local)

// WithQueueSize bounds the number of accepted but not yet started tasks.
func WithQueueSize(n int) Option {
	return func(l *Local) {
		if n > 0 {
			l.queueSize = n
		}
	}
}

// WithLogSize bounds the finished-task log.
func WithLogSize(n int) Option {
	return func(l *Local) {
		if n > 0 {
			l.logSize = n
		}
	}
}

// NewLocal creates a stopped engine. Call Start before submitting.
func NewLocal(logger *zap.Logger, opts ...Option) *Local {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Local{
		logger:    logger.Named("executor"),
		queueSize: defaultQueueSize,
		logSize:   defaultLogSize,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start launches the worker. Tasks run with ctx; cancelling it stops the
// worker after the current task.
func (l *Local) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return fmt.Errorf("executor is already running")
	}
	l.queue = make(chan queued, l.queueSize)
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	l.running = true

	go l.run(ctx, l.queue, l.stopCh, l.doneCh)

	l.logger.Info("executor started", zap.Int("queue_size", l.queueSize))
	return nil
}

// Stop signals the worker and waits for the running task to finish. Tasks
// still queued are dropped. Safe to call more than once.
func (l *Local) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stopCh)
	doneCh := l.doneCh
	l.mu.Unlock()

	<-doneCh
	l.logger.Info("executor stopped")
}

// Submit implements Engine.
func (l *Local) Submit(ctx context.Context, task Task) error {
	if task.ID == "" {
		return ErrEmptyTaskID
	}
	if task.Handler == nil {
		return ErrNilHandler
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return ErrNotRunning
	}
	select {
	case l.queue <- queued{task: task, submittedAt: time.Now()}:
	default:
		return fmt.Errorf("%w: %d pending", ErrQueueFull, len(l.queue))
	}

	l.logger.Debug("task accepted",
		zap.String("task_id", task.ID),
		zap.String("name", task.Name),
		zap.Int("priority", task.Priority),
	)
	return nil
}

func (l *Local) run(ctx context.Context, queue <-chan queued, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	for {
		select {
		case <-stopCh:
			l.dropPending(queue)
			return
		case <-ctx.Done():
			l.mu.Lock()
			l.running = false
			l.mu.Unlock()
			l.dropPending(queue)
			return
		case q := <-queue:
			l.execute(ctx, q)
		}
	}
}

func (l *Local) dropPending(queue <-chan queued) {
	for {
		select {
		case q := <-queue:
			l.logger.Warn("dropping queued task on shutdown", zap.String("task_id", q.task.ID))
		default:
			return
		}
	}
}

func (l *Local) execute(ctx context.Context, q queued) {
	task := q.task
	l.mu.Lock()
	l.current = &task
	l.mu.Unlock()

	rec := Record{
		TaskID:      task.ID,
		Name:        task.Name,
		Category:    task.Category,
		SubmittedAt: q.submittedAt,
		StartedAt:   time.Now(),
	}
	err := l.invoke(ctx, task)
	rec.FinishedAt = time.Now()
	if err != nil {
		rec.Error = err.Error()
		rec.Panicked = errors.Is(err, ErrTaskPanicked)
		l.logger.Warn("task failed",
			zap.String("task_id", task.ID),
			zap.Duration("duration", rec.Duration()),
			zap.Error(err),
		)
	} else {
		l.logger.Debug("task finished",
			zap.String("task_id", task.ID),
			zap.Duration("duration", rec.Duration()),
		)
	}

	l.mu.Lock()
	l.current = nil
	l.log = append(l.log, rec)
	if len(l.log) > l.logSize {
		l.log = l.log[len(l.log)-l.logSize:]
	}
	l.mu.Unlock()
}

func (l *Local) invoke(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("task handler panicked",
				zap.String("task_id", task.ID),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return task.Handler(ctx)
}

// Busy reports whether a task is running.
func (l *Local) Busy() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current != nil
}

// Current returns the running task's id, or "".
func (l *Local) Current() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return ""
	}
	return l.current.ID
}

// Pending is the number of accepted tasks not yet started.
func (l *Local) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.queue == nil {
		return 0
	}
	return len(l.queue)
}

// Log returns finished tasks, oldest first.
func (l *Local) Log() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.log))
	copy(out, l.log)
	return out
}

var _ Engine = (*Local)(nil)
