package executor

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
)

func startLocal(t *testing.T, opts ...Option) *Local {
	t.Helper()
	l := NewLocal(zap.NewNop(), opts...)
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(l.Stop)
	return l
}

func TestLocal_RunsTasksInOrder(t *testing.T) {
	l := startLocal(t)

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c"} {
		wg.Add(1)
		id := id
		require.NoError(t, l.Submit(context.Background(), Task{
			ID: id,
			Handler: func(context.Context) error {
				defer wg.Done()
				mu.Lock()
				order = append(order, id)
				mu.Unlock()
				return nil
			},
		}))
	}
	wg.Wait()

	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Eventually(t, func() bool { return len(l.Log()) == 3 }, time.Second, 5*time.Millisecond)
}

func TestLocal_SingleSlot(t *testing.T) {
	l := startLocal(t)

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		require.NoError(t, l.Submit(context.Background(), Task{
			ID: string(rune('a' + i)),
			Handler: func(context.Context) error {
				defer wg.Done()
				n := active.Add(1)
				for {
					m := maxActive.Load()
					if n <= m || maxActive.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				active.Add(-1)
				return nil
			},
		}))
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestLocal_RecoversPanics(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	l := NewLocal(zap.New(core))
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	require.NoError(t, l.Submit(context.Background(), Task{
		ID:      "boom",
		Handler: func(context.Context) error { panic("kaboom") },
	}))
	done := make(chan struct{})
	require.NoError(t, l.Submit(context.Background(), Task{
		ID: "after",
		Handler: func(context.Context) error {
			close(done)
			return errors.New("plain failure")
		},
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive the panic")
	}
	require.Eventually(t, func() bool { return len(l.Log()) == 2 }, time.Second, 5*time.Millisecond)

	log := l.Log()
	assert.True(t, log[0].Panicked)
	assert.Contains(t, log[0].Error, "kaboom")
	assert.False(t, log[1].Panicked)
	assert.Equal(t, "plain failure", log[1].Error)
	assert.Equal(t, 1, logs.FilterMessage("task handler panicked").Len())
}

func TestLocal_SubmitValidation(t *testing.T) {
	l := NewLocal(nil)
	noop := func(context.Context) error { return nil }

	assert.ErrorIs(t, l.Submit(context.Background(), Task{ID: "x", Handler: noop}), ErrNotRunning)
	assert.ErrorIs(t, l.Submit(context.Background(), Task{Handler: noop}), ErrEmptyTaskID)
	assert.ErrorIs(t, l.Submit(context.Background(), Task{ID: "x"}), ErrNilHandler)

	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()
	assert.Error(t, l.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Submit(ctx, Task{ID: "x", Handler: noop}), context.Canceled)
}

func TestLocal_QueueFull(t *testing.T) {
	l := startLocal(t, WithQueueSize(1))

	release := make(chan struct{})
	started := make(chan struct{})
	blocker := Task{ID: "blocker", Handler: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}
	require.NoError(t, l.Submit(context.Background(), blocker))
	<-started
	assert.True(t, l.Busy())
	assert.Equal(t, "blocker", l.Current())

	noop := func(context.Context) error { return nil }
	require.NoError(t, l.Submit(context.Background(), Task{ID: "queued", Handler: noop}))
	assert.Equal(t, 1, l.Pending())
	assert.ErrorIs(t, l.Submit(context.Background(), Task{ID: "overflow", Handler: noop}), ErrQueueFull)

	close(release)
	assert.Eventually(t, func() bool { return len(l.Log()) == 2 }, time.Second, 5*time.Millisecond)
	assert.False(t, l.Busy())
}

func TestLocal_LogBounded(t *testing.T) {
	l := startLocal(t, WithLogSize(2))

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c"} {
		wg.Add(1)
		require.NoError(t, l.Submit(context.Background(), Task{ID: id, Handler: func(context.Context) error {
			wg.Done()
			return nil
		}}))
	}
	wg.Wait()
	require.Eventually(t, func() bool {
		log := l.Log()
		return len(log) == 2 && log[1].TaskID == "c"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "b", l.Log()[0].TaskID)
}

func TestLocal_StopIdempotent(t *testing.T) {
	l := NewLocal(nil)
	l.Stop()
	require.NoError(t, l.Start(context.Background()))
	l.Stop()
	l.Stop()
	assert.ErrorIs(t, l.Submit(context.Background(), Task{ID: "x", Handler: func(context.Context) error { return nil }}), ErrNotRunning)
}

func TestLocal_ContextCancelStopsWorker(t *testing.T) {
	l := NewLocal(nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Start(ctx))
	cancel()

	assert.Eventually(t, func() bool {
		return errors.Is(l.Submit(context.Background(), Task{ID: "x", Handler: func(context.Context) error { return nil }}), ErrNotRunning)
	}, time.Second, 5*time.Millisecond)
	l.Stop()
}
