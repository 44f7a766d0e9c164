package dayphase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cadence/internal/events"
)

const (
	defaultPollInterval = 60 * time.Second
	defaultBackoff      = 5 * time.Second
	defaultHistorySize  = 24
	eventSource         = "day_phase_tracker"
)

// Callback is invoked on each phase change. Callbacks run in registration
// order on the tracker goroutine; a callback that wants to run
// asynchronously starts its own goroutine.
type Callback func(ctx context.Context, t Transition) error

// Tracker polls the clock and reports phase transitions.
//
// Thread Safety: All public methods are thread-safe.
type Tracker struct {
	windows      []Window
	pollInterval time.Duration
	backoff      time.Duration
	historySize  int
	clock        func() time.Time
	bus          events.Bus
	logger       *zap.Logger

	mu          sync.Mutex
	current     Phase
	initialized bool
	lastCheck   time.Time
	history     []Transition
	callbacks   []Callback
	running     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithWindows sets the phase windows. They are validated by NewTracker.
func WithWindows(windows []Window) Option {
	return func(t *Tracker) {
		t.windows = append([]Window(nil), windows...)
	}
}

// WithPollInterval sets the time between polls (default 60s).
func WithPollInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.pollInterval = d
		}
	}
}

// WithBackoff sets the pause after a failed poll (default 5s).
func WithBackoff(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.backoff = d
		}
	}
}

// WithHistorySize bounds the transition ring buffer (default 24).
func WithHistorySize(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.historySize = n
		}
	}
}

// WithClock replaces time.Now, for simulated clocks.
func WithClock(clock func() time.Time) Option {
	return func(t *Tracker) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// WithEventBus sets the bus transitions are published on.
func WithEventBus(bus events.Bus) Option {
	return func(t *Tracker) {
		if bus != nil {
			t.bus = bus
		}
	}
}

// NewTracker creates a tracker. It does not start polling; call Start.
func NewTracker(logger *zap.Logger, opts ...Option) (*Tracker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		windows:      DefaultWindows(),
		pollInterval: defaultPollInterval,
		backoff:      defaultBackoff,
		historySize:  defaultHistorySize,
		clock:        time.Now,
		bus:          events.NopBus{},
		logger:       logger.Named("dayphase"),
	}
	for _, opt := range opts {
		opt(t)
	}
	if err := ValidateWindows(t.windows); err != nil {
		return nil, fmt.Errorf("invalid phase windows: %w", err)
	}
	return t, nil
}

// PhaseFor returns the phase covering dt.
func (t *Tracker) PhaseFor(dt time.Time) Phase {
	p, _ := PhaseAt(t.windows, dt)
	return p
}

// Windows returns a copy of the configured windows.
func (t *Tracker) Windows() []Window {
	return append([]Window(nil), t.windows...)
}

// Now returns the tracker's clock reading.
func (t *Tracker) Now() time.Time {
	return t.clock()
}

// CurrentPhase returns the last observed phase, or the phase for now if the
// tracker has not polled yet.
func (t *Tracker) CurrentPhase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.initialized {
		return t.current
	}
	return t.PhaseFor(t.clock())
}

// NextTransition returns the upcoming boundary relative to the clock.
func (t *Tracker) NextTransition() NextTransition {
	return nextTransition(t.windows, t.clock())
}

// OnPhaseChange registers a callback.
func (t *Tracker) OnPhaseChange(cb Callback) {
	if cb == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, cb)
}

// History returns recorded transitions, oldest first.
func (t *Tracker) History() []Transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Transition(nil), t.history...)
}

// Start records the current phase and begins polling in the background.
// Calling Start on a running tracker returns an error.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("tracker is already running")
	}
	now := t.clock()
	if !t.initialized {
		t.current = t.PhaseFor(now)
		t.initialized = true
		t.lastCheck = now
	}
	t.stopCh = make(chan struct{})
	t.doneCh = make(chan struct{})
	t.running = true

	t.logger.Info("day phase tracker started",
		zap.String("phase", string(t.current)),
		zap.Duration("poll_interval", t.pollInterval),
	)

	go t.run(ctx, t.stopCh, t.doneCh)
	return nil
}

// Stop halts polling and waits for the loop to exit. Stopping a stopped
// tracker is a no-op.
func (t *Tracker) Stop() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	close(t.stopCh)
	done := t.doneCh
	t.mu.Unlock()

	<-done
	t.logger.Info("day phase tracker stopped")
	return nil
}

// run polls until stopped. A failed or panicking poll is logged and followed
// by a backoff; the loop itself never exits on error.
func (t *Tracker) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			t.mu.Lock()
			t.running = false
			t.mu.Unlock()
			return
		case <-ticker.C:
			if err := t.safeCheck(ctx); err != nil {
				t.logger.Error("phase poll failed, backing off",
					zap.Error(err),
					zap.Duration("backoff", t.backoff),
				)
				select {
				case <-time.After(t.backoff):
				case <-stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (t *Tracker) safeCheck(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("phase poll panicked, recovering",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			err = fmt.Errorf("poll panicked: %v", r)
		}
	}()
	_, err = t.Check(ctx, t.clock())
	return err
}

// Check performs one poll step at now. It returns the transition when the
// phase changed, nil otherwise.
func (t *Tracker) Check(ctx context.Context, now time.Time) (*Transition, error) {
	phase, ok := PhaseAt(t.windows, now)
	if !ok {
		return nil, fmt.Errorf("no phase covers hour %d", now.Hour())
	}

	t.mu.Lock()
	t.lastCheck = now
	if !t.initialized {
		t.current = phase
		t.initialized = true
		t.mu.Unlock()
		return nil, nil
	}
	if phase == t.current {
		t.mu.Unlock()
		return nil, nil
	}

	tr := Transition{From: t.current, To: phase, Timestamp: now}
	t.current = phase
	t.history = append(t.history, tr)
	if len(t.history) > t.historySize {
		t.history = t.history[len(t.history)-t.historySize:]
	}
	callbacks := append([]Callback(nil), t.callbacks...)
	t.mu.Unlock()

	t.logger.Info("day phase changed",
		zap.String("from", string(tr.From)),
		zap.String("to", string(tr.To)),
	)

	for i, cb := range callbacks {
		t.invoke(ctx, i, cb, tr)
	}

	event := events.New(eventSource, events.PhaseTransition,
		fmt.Sprintf("day phase changed from %s to %s", tr.From, tr.To),
		map[string]any{
			"from_phase": string(tr.From),
			"to_phase":   string(tr.To),
			"timestamp":  tr.Timestamp.Format(time.RFC3339),
		})
	if err := t.bus.Publish(ctx, event); err != nil {
		t.logger.Warn("failed to publish phase transition", zap.Error(err))
	}

	return &tr, nil
}

// invoke runs a single callback, containing errors and panics.
func (t *Tracker) invoke(ctx context.Context, idx int, cb Callback, tr Transition) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("phase callback panicked",
				zap.Int("callback", idx),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()
	if err := cb(ctx, tr); err != nil {
		t.logger.Error("phase callback failed",
			zap.Int("callback", idx),
			zap.Error(err),
		)
	}
}

// Status is a point-in-time view of the tracker.
type Status struct {
	Running         bool           `json:"running"`
	CurrentPhase    Phase          `json:"current_phase"`
	LastCheck       time.Time      `json:"last_check"`
	PollInterval    time.Duration  `json:"poll_interval"`
	TransitionCount int            `json:"transition_count"`
	Callbacks       int            `json:"callbacks"`
	Next            NextTransition `json:"next_transition"`
	Windows         []Window       `json:"windows"`
}

// Status returns the tracker's current state.
func (t *Tracker) Status() Status {
	next := t.NextTransition()
	t.mu.Lock()
	defer t.mu.Unlock()
	current := t.current
	if !t.initialized {
		current = next.CurrentPhase
	}
	return Status{
		Running:         t.running,
		CurrentPhase:    current,
		LastCheck:       t.lastCheck,
		PollInterval:    t.pollInterval,
		TransitionCount: len(t.history),
		Callbacks:       len(t.callbacks),
		Next:            next,
		Windows:         append([]Window(nil), t.windows...),
	}
}
