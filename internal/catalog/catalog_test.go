package catalog

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/cadence/internal/workunit"
)

const sampleCatalog = `
templates:
  - id: reflection
    name: Reflection
    action_sequence: [recall_recent, reflect]
    duration: 30m
    estimated_cost: 0.05
    priority: 2
    category: reflection
    preferred_windows:
      - start_hour: 20
        end_hour: 23
        preference_weight: 0.9
        days: [Sat, sunday]
  - id: memory_maintenance
    name: Memory Maintenance
    runner_key: contradiction_detection
    duration: 15m
    requires_idle: true
    category: maintenance
`

func TestParse(t *testing.T) {
	templates, err := Parse([]byte(sampleCatalog))
	require.NoError(t, err)
	require.Len(t, templates, 2)

	r := templates[0]
	assert.Equal(t, "reflection", r.ID())
	assert.Equal(t, []string{"recall_recent", "reflect"}, r.ActionSequence())
	assert.Equal(t, 30*time.Minute, r.DefaultDuration())
	assert.Equal(t, workunit.CategoryReflection, r.Category())
	require.Len(t, r.PreferredWindows(), 1)
	assert.Equal(t, []time.Weekday{time.Saturday, time.Sunday}, r.PreferredWindows()[0].Days)

	m := templates[1]
	assert.Equal(t, "contradiction_detection", m.RunnerKey())
	assert.True(t, m.RequiresIdle())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"empty", "templates: []", ErrEmptyCatalog},
		{"missing key", "other: 1", ErrEmptyCatalog},
		{
			name: "duplicate",
			content: `
templates:
  - {id: a, name: A, runner_key: r, category: growth}
  - {id: a, name: A2, runner_key: r, category: growth}`,
			wantErr: ErrDuplicateID,
		},
		{
			name:    "unknown category",
			content: "templates:\n  - {id: a, name: A, runner_key: r, category: gardening}",
			wantErr: workunit.ErrUnknownCategory,
		},
		{
			name:    "both targets",
			content: "templates:\n  - {id: a, name: A, runner_key: r, action_sequence: [x], category: growth}",
			wantErr: workunit.ErrBothTargets,
		},
		{
			name: "bad day",
			content: `
templates:
  - id: a
    name: A
    runner_key: r
    category: growth
    preferred_windows:
      - {start_hour: 1, end_hour: 2, days: [someday]}`,
			wantErr: ErrUnknownDay,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := Parse([]byte("templates: [unclosed"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0o600))

	templates, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, templates, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_TooLarge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.yaml")
	require.NoError(t, os.WriteFile(path, make([]byte, maxCatalogFileSize+1), 0o600))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestDefault(t *testing.T) {
	templates := Default()
	require.Len(t, templates, 7)

	ids := make(map[string]bool)
	covered := make(map[workunit.Category]bool)
	for _, tmpl := range templates {
		assert.False(t, ids[tmpl.ID()], "duplicate id %s", tmpl.ID())
		ids[tmpl.ID()] = true
		covered[tmpl.Category()] = true
	}
	assert.True(t, ids["growth_edge_work"])
	assert.True(t, ids["curiosity_exploration"])
	assert.True(t, covered[workunit.CategoryMaintenance])
}

func TestActionIDs(t *testing.T) {
	templates, err := Parse([]byte(sampleCatalog))
	require.NoError(t, err)
	assert.Equal(t, []string{"recall_recent", "reflect"}, ActionIDs(templates))
	assert.Contains(t, ActionIDs(Default()), "write_journal")
}

func TestWatcher_Reloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0o600))

	var mu sync.Mutex
	var got [][]*workunit.Template
	w, err := NewWatcher(path, func(ts []*workunit.Template) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ts)
	}, nil, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()
	assert.ErrorIs(t, w.Start(context.Background()), ErrWatcherRunning)

	// Invalid content is ignored.
	require.NoError(t, os.WriteFile(path, []byte("templates: []"), 0o600))
	time.Sleep(150 * time.Millisecond)
	mu.Lock()
	assert.Empty(t, got)
	mu.Unlock()

	single := "templates:\n  - {id: solo, name: Solo, runner_key: r, category: creative}\n"
	require.NoError(t, os.WriteFile(path, []byte(single), 0o600))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 2*time.Second, 20*time.Millisecond)

	mu.Lock()
	last := got[len(got)-1]
	mu.Unlock()
	require.Len(t, last, 1)
	assert.Equal(t, "solo", last[0].ID())

	// Other files in the directory do not trigger reloads.
	mu.Lock()
	n := len(got)
	mu.Unlock()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte(single), 0o600))
	time.Sleep(150 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, n, len(got))
	mu.Unlock()
}

func TestNewWatcher_Validation(t *testing.T) {
	_, err := NewWatcher("", func([]*workunit.Template) {}, nil)
	assert.Error(t, err)
	_, err = NewWatcher("x.yaml", nil, nil)
	assert.Error(t, err)

	w, err := NewWatcher("x.yaml", func([]*workunit.Template) {}, nil)
	require.NoError(t, err)
	w.Stop()
}
