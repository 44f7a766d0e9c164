package decision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/cadence/internal/kvstore"
)

func TestKVContext_MissingKeysAreNeutral(t *testing.T) {
	ctx := context.Background()
	c := NewKVContext(kvstore.NewMemory())

	st, err := c.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, NeutralState(), st)

	edges, err := c.GrowthEdges(ctx)
	require.NoError(t, err)
	assert.Empty(t, edges)

	id, err := c.IdentitySummary(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestKVContext_ReadsStoredValues(t *testing.T) {
	ctx := context.Background()
	c := NewKVContext(kvstore.NewMemory())

	require.NoError(t, c.Put(ctx, StateKey, State{Valence: 0.6, Arousal: 0.2, Idle: true, Activity: "resting"}))
	require.NoError(t, c.Put(ctx, GrowthEdgesKey, []string{"patience"}))
	require.NoError(t, c.Put(ctx, OpenQuestionsKey, []string{"why do tides lag the moon?"}))
	require.NoError(t, c.Put(ctx, IdentityKey, "a curious gardener"))

	st, err := c.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, st.Idle)
	assert.Equal(t, "resting", st.Activity)

	edges, _ := c.GrowthEdges(ctx)
	assert.Equal(t, []string{"patience"}, edges)
	qs, _ := c.OpenQuestions(ctx)
	assert.Len(t, qs, 1)
	id, _ := c.IdentitySummary(ctx)
	assert.Equal(t, "a curious gardener", id)

	// Wired into the engine, the stored state reaches the snapshot.
	e, err := NewEngine(nil, nil, WithStateReader(c), WithGrowthReader(c), WithIdentityReader(c))
	require.NoError(t, err)
	snap := e.Snapshot(ctx)
	assert.True(t, snap.State.Idle)
	assert.Equal(t, []string{"patience"}, snap.GrowthEdges)
	assert.Equal(t, "a curious gardener", snap.Identity)
}

func TestKVContext_CorruptValue(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemory()
	require.NoError(t, kv.Set(ctx, StateKey, []byte("{not json")))

	st, err := NewKVContext(kv).Snapshot(ctx)
	assert.Error(t, err)
	assert.Equal(t, NeutralState(), st)
}
