// Package maintenance holds periodic housekeeping tasks that run as
// scheduled work units. Each task decides for itself whether it is due
// (ShouldRun) and does nothing when it is not (Execute).
package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cadence/internal/kvstore"
	"github.com/fyrsmithlabs/cadence/internal/workunit"
)

const (
	// ContradictionStateKey holds the task's persisted state.
	ContradictionStateKey = "maintenance/contradictions"

	// ContradictionRunnerKey names the task for templates that run it.
	ContradictionRunnerKey = "contradiction_detection"

	defaultContradictionInterval = 7 * 24 * time.Hour
	defaultMaxContradictions     = 5
)

// Contradiction is a pair (or set) of memories that disagree.
type Contradiction struct {
	ID         string    `json:"id"`
	Summary    string    `json:"summary"`
	MemoryIDs  []string  `json:"memory_ids,omitempty"`
	Severity   float64   `json:"severity"`
	DetectedAt time.Time `json:"detected_at"`
	Resolved   bool      `json:"resolved"`
}

// ContradictionSource lists unresolved contradictions, most severe first.
type ContradictionSource interface {
	UnresolvedContradictions(ctx context.Context, limit int) ([]Contradiction, error)
}

// ContradictionResult is the outcome of one Execute call.
type ContradictionResult struct {
	Ran                bool            `json:"ran"`
	Count              int             `json:"count"`
	Contradictions     []Contradiction `json:"contradictions,omitempty"`
	TriggerRemediation bool            `json:"trigger_remediation"`
}

type contradictionState struct {
	LastRun time.Time `json:"last_run"`
	Count   int       `json:"count"`
}

// ContradictionTask surfaces unresolved contradictions at most once per
// interval (default weekly).
type ContradictionTask struct {
	source   ContradictionSource
	kv       kvstore.Store
	logger   *zap.Logger
	interval time.Duration
	limit    int

	mu      sync.Mutex
	loaded  bool
	lastRun *time.Time
}

// ContradictionOption configures a ContradictionTask.
type ContradictionOption func(*ContradictionTask)

// WithInterval sets the minimum time between runs.
func WithInterval(d time.Duration) ContradictionOption {
	return func(t *ContradictionTask) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithLimit caps how many contradictions one run reports.
func WithLimit(n int) ContradictionOption {
	return func(t *ContradictionTask) {
		if n > 0 {
			t.limit = n
		}
	}
}

// NewContradictionTask creates the task. The store is required; source may
// be nil, in which case runs report nothing.
func NewContradictionTask(source ContradictionSource, kv kvstore.Store, logger *zap.Logger, opts ...ContradictionOption) (*ContradictionTask, error) {
	if kv == nil {
		return nil, fmt.Errorf("kv store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &ContradictionTask{
		source:   source,
		kv:       kv,
		logger:   logger.Named("maintenance.contradictions"),
		interval: defaultContradictionInterval,
		limit:    defaultMaxContradictions,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Load reads the persisted last-run time. Execute calls it on first use.
func (t *ContradictionTask) Load(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loadLocked(ctx)
}

func (t *ContradictionTask) loadLocked(ctx context.Context) error {
	if t.loaded {
		return nil
	}
	data, err := t.kv.Get(ctx, ContradictionStateKey)
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
	case err != nil:
		return fmt.Errorf("load contradiction state: %w", err)
	default:
		var st contradictionState
		if err := json.Unmarshal(data, &st); err != nil {
			return fmt.Errorf("decode contradiction state: %w", err)
		}
		if !st.LastRun.IsZero() {
			last := st.LastRun
			t.lastRun = &last
		}
	}
	t.loaded = true
	return nil
}

// ShouldRun reports whether the task is due at now: it has never run, or
// the interval has passed since the last run.
func (t *ContradictionTask) ShouldRun(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastRun == nil || now.Sub(*t.lastRun) >= t.interval
}

// LastRun returns the last run time, or nil.
func (t *ContradictionTask) LastRun() *time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastRun == nil {
		return nil
	}
	last := *t.lastRun
	return &last
}

// Execute runs the check when due and persists {last_run, count}.
func (t *ContradictionTask) Execute(ctx context.Context, now time.Time) (ContradictionResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.loadLocked(ctx); err != nil {
		return ContradictionResult{}, err
	}
	if t.lastRun != nil && now.Sub(*t.lastRun) < t.interval {
		t.logger.Debug("contradiction check not due",
			zap.Time("last_run", *t.lastRun),
			zap.Duration("interval", t.interval),
		)
		return ContradictionResult{}, nil
	}

	var found []Contradiction
	if t.source == nil {
		t.logger.Warn("no contradiction source configured")
	} else {
		var err error
		found, err = t.source.UnresolvedContradictions(ctx, t.limit)
		if err != nil {
			return ContradictionResult{}, fmt.Errorf("list contradictions: %w", err)
		}
	}
	if len(found) > t.limit {
		found = found[:t.limit]
	}

	data, err := json.Marshal(contradictionState{LastRun: now, Count: len(found)})
	if err != nil {
		return ContradictionResult{}, fmt.Errorf("encode contradiction state: %w", err)
	}
	if err := t.kv.Set(ctx, ContradictionStateKey, data); err != nil {
		return ContradictionResult{}, fmt.Errorf("save contradiction state: %w", err)
	}
	t.lastRun = &now

	res := ContradictionResult{
		Ran:                true,
		Count:              len(found),
		Contradictions:     found,
		TriggerRemediation: len(found) >= 1,
	}
	t.logger.Info("contradiction check complete",
		zap.Int("count", res.Count),
		zap.Bool("trigger_remediation", res.TriggerRemediation),
	)
	return res, nil
}

// Run executes the task as a work unit runner. A run that is not due still
// succeeds.
func (t *ContradictionTask) Run(ctx context.Context, _ *workunit.WorkUnit) (workunit.ActionResult, error) {
	res, err := t.Execute(ctx, time.Now())
	if err != nil {
		return workunit.ActionResult{}, err
	}
	msg := "contradiction check not due"
	if res.Ran {
		msg = fmt.Sprintf("found %d unresolved contradictions", res.Count)
	}
	return workunit.ActionResult{
		ActionID: ContradictionRunnerKey,
		Success:  true,
		Message:  msg,
		Data: map[string]any{
			"ran":                 res.Ran,
			"count":               res.Count,
			"trigger_remediation": res.TriggerRemediation,
		},
	}, nil
}

// KVSource reads contradictions stored as JSON under a key prefix.
type KVSource struct {
	kv     kvstore.Store
	prefix string
}

// DefaultContradictionPrefix is where other processes record contradictions.
const DefaultContradictionPrefix = "contradictions/"

// NewKVSource creates a source over kv. An empty prefix uses
// DefaultContradictionPrefix.
func NewKVSource(kv kvstore.Store, prefix string) *KVSource {
	if prefix == "" {
		prefix = DefaultContradictionPrefix
	}
	return &KVSource{kv: kv, prefix: prefix}
}

// UnresolvedContradictions implements ContradictionSource. Undecodable
// records are skipped.
func (s *KVSource) UnresolvedContradictions(ctx context.Context, limit int) ([]Contradiction, error) {
	entries, err := s.kv.Scan(ctx, s.prefix)
	if err != nil {
		return nil, err
	}
	var out []Contradiction
	for _, e := range entries {
		var c Contradiction
		if err := json.Unmarshal(e.Value, &c); err != nil || c.Resolved {
			continue
		}
		if c.ID == "" {
			c.ID = e.Key[len(s.prefix):]
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Severity > out[j].Severity })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
