package dayphase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/cadence/internal/events"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 10, 15, hour, minute, 0, 0, time.UTC)
}

// fakeClock is a settable clock for simulated time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func TestDefaultWindows_PartitionDay(t *testing.T) {
	windows := DefaultWindows()
	require.NoError(t, ValidateWindows(windows))

	for h := 0; h < 24; h++ {
		matches := 0
		for _, w := range windows {
			if w.Contains(h) {
				matches++
			}
		}
		assert.Equal(t, 1, matches, "hour %d", h)
	}
}

func TestPhaseAt_Defaults(t *testing.T) {
	tests := []struct {
		hour int
		want Phase
	}{
		{0, Night},
		{5, Night},
		{6, Morning},
		{11, Morning},
		{12, Afternoon},
		{16, Afternoon},
		{17, Evening},
		{21, Evening},
		{22, Night},
		{23, Night},
	}
	for _, tt := range tests {
		got, ok := PhaseAt(DefaultWindows(), at(tt.hour, 30))
		assert.True(t, ok)
		assert.Equal(t, tt.want, got, "hour %d", tt.hour)
	}
}

func TestValidateWindows_Errors(t *testing.T) {
	tests := []struct {
		name    string
		windows []Window
		wantErr error
	}{
		{
			name: "overlap",
			windows: []Window{
				{Phase: Night, StartHour: 22, EndHour: 7},
				{Phase: Morning, StartHour: 6, EndHour: 12},
				{Phase: Afternoon, StartHour: 12, EndHour: 17},
				{Phase: Evening, StartHour: 17, EndHour: 22},
			},
			wantErr: ErrWindowsOverlap,
		},
		{
			name: "gap",
			windows: []Window{
				{Phase: Night, StartHour: 23, EndHour: 6},
				{Phase: Morning, StartHour: 6, EndHour: 12},
				{Phase: Afternoon, StartHour: 12, EndHour: 17},
				{Phase: Evening, StartHour: 17, EndHour: 22},
			},
			wantErr: ErrWindowsGap,
		},
		{
			name: "missing phase",
			windows: []Window{
				{Phase: Night, StartHour: 22, EndHour: 6},
				{Phase: Morning, StartHour: 6, EndHour: 17},
				{Phase: Evening, StartHour: 17, EndHour: 22},
			},
			wantErr: ErrMissingPhase,
		},
		{
			name: "out of range",
			windows: []Window{
				{Phase: Night, StartHour: 22, EndHour: 30},
			},
			wantErr: ErrWindowOutOfRange,
		},
		{
			name:    "unknown phase",
			windows: []Window{{Phase: "dusk", StartHour: 1, EndHour: 2}},
			wantErr: ErrUnknownPhase,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, ValidateWindows(tt.windows), tt.wantErr)
		})
	}
}

func TestParsePhase(t *testing.T) {
	p, err := ParsePhase(" Morning ")
	require.NoError(t, err)
	assert.Equal(t, Morning, p)

	_, err = ParsePhase("brunch")
	assert.ErrorIs(t, err, ErrUnknownPhase)
}

func TestRemainingCycle(t *testing.T) {
	assert.Equal(t, []Phase{Morning, Afternoon, Evening, Night}, RemainingCycle(Morning))
	assert.Equal(t, []Phase{Evening, Night}, RemainingCycle(Evening))
	assert.Equal(t, []Phase{Night}, RemainingCycle(Night))
}

func TestNextTransition(t *testing.T) {
	next := nextTransition(DefaultWindows(), at(11, 15))
	assert.Equal(t, Morning, next.CurrentPhase)
	assert.Equal(t, Afternoon, next.NextPhase)
	assert.Equal(t, 45, next.MinutesRemaining)
	assert.Equal(t, "2026-10-15T12:00:00Z", next.TransitionAt)

	// Night wraps past midnight.
	next = nextTransition(DefaultWindows(), at(23, 0))
	assert.Equal(t, Night, next.CurrentPhase)
	assert.Equal(t, Morning, next.NextPhase)
	assert.Equal(t, 7*60, next.MinutesRemaining)
}

func TestNewTracker_InvalidWindows(t *testing.T) {
	tracker, err := NewTracker(nil, WithWindows([]Window{{Phase: Night, StartHour: 0, EndHour: 12}}))
	assert.Error(t, err)
	assert.Nil(t, tracker)
}

func TestTracker_Defaults(t *testing.T) {
	tracker, err := NewTracker(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultPollInterval, tracker.pollInterval)
	assert.Equal(t, defaultBackoff, tracker.backoff)
	assert.Equal(t, defaultHistorySize, tracker.historySize)
	assert.Len(t, tracker.Windows(), 4)
}

func TestTracker_CheckFiresExactlyOneTransition(t *testing.T) {
	ctx := context.Background()
	bus := events.NewRecorder(0)
	clock := &fakeClock{now: at(11, 58)}

	tracker, err := NewTracker(zap.NewNop(), WithClock(clock.Now), WithEventBus(bus))
	require.NoError(t, err)

	var calls []Transition
	tracker.OnPhaseChange(func(_ context.Context, tr Transition) error {
		calls = append(calls, tr)
		return nil
	})

	tr, err := tracker.Check(ctx, at(11, 58))
	require.NoError(t, err)
	assert.Nil(t, tr)

	tr, err = tracker.Check(ctx, at(11, 59))
	require.NoError(t, err)
	assert.Nil(t, tr)

	tr, err = tracker.Check(ctx, at(12, 0))
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, Morning, tr.From)
	assert.Equal(t, Afternoon, tr.To)

	tr, err = tracker.Check(ctx, at(12, 1))
	require.NoError(t, err)
	assert.Nil(t, tr)

	require.Len(t, calls, 1)
	assert.Equal(t, at(12, 0), calls[0].Timestamp)
	assert.Len(t, tracker.History(), 1)

	published := bus.Named(events.PhaseTransition)
	require.Len(t, published, 1)
	assert.Equal(t, "morning", published[0].Payload["from_phase"])
	assert.Equal(t, "afternoon", published[0].Payload["to_phase"])
}

func TestTracker_CallbacksRunInOrderAndSurviveFailures(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	tracker, err := NewTracker(zap.New(core))
	require.NoError(t, err)

	var order []int
	tracker.OnPhaseChange(func(context.Context, Transition) error {
		order = append(order, 1)
		return errors.New("boom")
	})
	tracker.OnPhaseChange(func(context.Context, Transition) error {
		order = append(order, 2)
		panic("callback panic")
	})
	tracker.OnPhaseChange(func(context.Context, Transition) error {
		order = append(order, 3)
		return nil
	})

	ctx := context.Background()
	_, err = tracker.Check(ctx, at(16, 59))
	require.NoError(t, err)
	tr, err := tracker.Check(ctx, at(17, 0))
	require.NoError(t, err)
	require.NotNil(t, tr)

	assert.Equal(t, []int{1, 2, 3}, order)
	assert.Equal(t, 1, logs.FilterMessage("phase callback failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("phase callback panicked").Len())
}

func TestTracker_HistoryIsBounded(t *testing.T) {
	tracker, err := NewTracker(nil, WithHistorySize(3))
	require.NoError(t, err)

	ctx := context.Background()
	hours := []int{5, 6, 12, 17, 22, 6}
	for i, h := range hours {
		ts := time.Date(2026, 10, 15+i/5, h, 0, 0, 0, time.UTC)
		_, err := tracker.Check(ctx, ts)
		require.NoError(t, err)
	}

	history := tracker.History()
	require.Len(t, history, 3)
	assert.Equal(t, Afternoon, history[0].From)
	assert.Equal(t, Evening, history[0].To)
	assert.Equal(t, Morning, history[2].To)
	assert.Equal(t, 3, tracker.Status().TransitionCount)
}

func TestTracker_StartStop(t *testing.T) {
	clock := &fakeClock{now: at(11, 59)}
	bus := events.NewRecorder(0)

	tracker, err := NewTracker(zap.NewNop(),
		WithClock(clock.Now),
		WithEventBus(bus),
		WithPollInterval(5*time.Millisecond),
	)
	require.NoError(t, err)

	var fired atomic.Int32
	tracker.OnPhaseChange(func(context.Context, Transition) error {
		fired.Add(1)
		return nil
	})

	require.NoError(t, tracker.Start(context.Background()))
	assert.Error(t, tracker.Start(context.Background()))
	assert.True(t, tracker.Status().Running)
	assert.Equal(t, Morning, tracker.CurrentPhase())

	clock.Set(at(12, 0))
	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, tracker.Stop())
	require.NoError(t, tracker.Stop())
	assert.False(t, tracker.Status().Running)
	assert.Equal(t, Afternoon, tracker.CurrentPhase())
	assert.Len(t, bus.Named(events.PhaseTransition), 1)
}

func TestTracker_LoopSurvivesPanics(t *testing.T) {
	var calls atomic.Int32
	clock := func() time.Time {
		if calls.Add(1) == 2 {
			panic("clock failure")
		}
		return at(9, 0)
	}
	core, logs := observer.New(zapcore.ErrorLevel)

	tracker, err := NewTracker(zap.New(core),
		WithClock(clock),
		WithPollInterval(2*time.Millisecond),
		WithBackoff(2*time.Millisecond),
	)
	require.NoError(t, err)
	require.NoError(t, tracker.Start(context.Background()))

	assert.Eventually(t, func() bool { return calls.Load() > 4 }, time.Second, 2*time.Millisecond)
	require.NoError(t, tracker.Stop())
	assert.GreaterOrEqual(t, logs.FilterMessage("phase poll panicked, recovering").Len(), 1)
}

func TestTracker_ContextCancelStopsLoop(t *testing.T) {
	tracker, err := NewTracker(nil, WithPollInterval(time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, tracker.Start(ctx))
	cancel()

	assert.Eventually(t, func() bool { return !tracker.Status().Running }, time.Second, time.Millisecond)
}
