package phasequeue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/cadence/internal/workunit"
)

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrUnknownRunner = errors.New("unknown runner")
)

// ActionRequest asks the registry to run one atomic action.
type ActionRequest struct {
	ActionID   string
	Duration   time.Duration
	Focus      string
	WorkUnitID string
}

// ActionRegistry executes atomic actions by id.
type ActionRegistry interface {
	Execute(ctx context.Context, req ActionRequest) (workunit.ActionResult, error)
}

// Runner executes a whole unit for templates that name a runner key
// instead of an action sequence.
type Runner interface {
	Run(ctx context.Context, runnerKey string, unit *workunit.WorkUnit) (workunit.ActionResult, error)
}

// ActionFunc implements a single action.
type ActionFunc func(ctx context.Context, req ActionRequest) (workunit.ActionResult, error)

// FuncRegistry is an ActionRegistry backed by a map of ActionFuncs.
type FuncRegistry struct {
	mu      sync.RWMutex
	actions map[string]ActionFunc
}

// MaxSleep caps the built-in sleep action.
const MaxSleep = time.Minute

// NewFuncRegistry returns a registry with the built-in actions:
//
//	noop   succeeds immediately
//	sleep  waits for the requested duration (capped at MaxSleep)
func NewFuncRegistry() *FuncRegistry {
	r := &FuncRegistry{actions: make(map[string]ActionFunc)}
	r.Register("noop", func(context.Context, ActionRequest) (workunit.ActionResult, error) {
		return workunit.ActionResult{Success: true, Message: "ok"}, nil
	})
	r.Register("sleep", sleepAction)
	return r
}

func sleepAction(ctx context.Context, req ActionRequest) (workunit.ActionResult, error) {
	d := req.Duration
	if d > MaxSleep {
		d = MaxSleep
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return workunit.ActionResult{Success: true, Message: fmt.Sprintf("slept %s", d)}, nil
	case <-ctx.Done():
		return workunit.ActionResult{}, ctx.Err()
	}
}

// Register adds or replaces an action.
func (r *FuncRegistry) Register(id string, fn ActionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[id] = fn
}

// Has reports whether id is registered.
func (r *FuncRegistry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[id]
	return ok
}

// Alias registers id as another name for the existing action target.
func (r *FuncRegistry) Alias(id, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn, ok := r.actions[target]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAction, target)
	}
	r.actions[id] = fn
	return nil
}

// IDs returns the registered action ids, sorted.
func (r *FuncRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.actions))
	for id := range r.actions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Execute implements ActionRegistry.
func (r *FuncRegistry) Execute(ctx context.Context, req ActionRequest) (workunit.ActionResult, error) {
	r.mu.RLock()
	fn, ok := r.actions[req.ActionID]
	r.mu.RUnlock()
	if !ok {
		return workunit.ActionResult{}, fmt.Errorf("%w: %s", ErrUnknownAction, req.ActionID)
	}
	res, err := fn(ctx, req)
	if err != nil {
		return workunit.ActionResult{}, err
	}
	if res.ActionID == "" {
		res.ActionID = req.ActionID
	}
	return res, nil
}

// RunnerFunc implements a runner.
type RunnerFunc func(ctx context.Context, unit *workunit.WorkUnit) (workunit.ActionResult, error)

// RunnerRegistry is a Runner that dispatches on the runner key.
type RunnerRegistry struct {
	mu      sync.RWMutex
	runners map[string]RunnerFunc
}

// NewRunnerRegistry creates an empty registry.
func NewRunnerRegistry() *RunnerRegistry {
	return &RunnerRegistry{runners: make(map[string]RunnerFunc)}
}

// Register adds or replaces a runner.
func (r *RunnerRegistry) Register(key string, fn RunnerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[key] = fn
}

// Run implements Runner.
func (r *RunnerRegistry) Run(ctx context.Context, key string, unit *workunit.WorkUnit) (workunit.ActionResult, error) {
	r.mu.RLock()
	fn, ok := r.runners[key]
	r.mu.RUnlock()
	if !ok {
		return workunit.ActionResult{}, fmt.Errorf("%w: %s", ErrUnknownRunner, key)
	}
	return fn(ctx, unit)
}

var (
	_ ActionRegistry = (*FuncRegistry)(nil)
	_ Runner         = (*RunnerRegistry)(nil)
)
