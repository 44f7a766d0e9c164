package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/cadence/internal/kvstore"
)

// Keys read by KVContext. Other processes on the state bus write them as
// JSON documents.
const (
	StateKey         = "context/state"
	GrowthEdgesKey   = "context/growth_edges"
	OpenQuestionsKey = "context/open_questions"
	IdentityKey      = "context/identity"
)

// KVContext serves the state, growth, curiosity and identity readers from
// a keyed store. A missing key yields the neutral value, not an error.
type KVContext struct {
	kv kvstore.Store
}

// NewKVContext wraps kv.
func NewKVContext(kv kvstore.Store) *KVContext {
	return &KVContext{kv: kv}
}

// Snapshot implements StateReader.
func (c *KVContext) Snapshot(ctx context.Context) (State, error) {
	st := NeutralState()
	found, err := c.read(ctx, StateKey, &st)
	if err != nil || !found {
		return NeutralState(), err
	}
	return st, nil
}

// GrowthEdges implements GrowthReader.
func (c *KVContext) GrowthEdges(ctx context.Context) ([]string, error) {
	var edges []string
	_, err := c.read(ctx, GrowthEdgesKey, &edges)
	return edges, err
}

// OpenQuestions implements CuriosityReader.
func (c *KVContext) OpenQuestions(ctx context.Context) ([]string, error) {
	var qs []string
	_, err := c.read(ctx, OpenQuestionsKey, &qs)
	return qs, err
}

// IdentitySummary implements IdentityReader.
func (c *KVContext) IdentitySummary(ctx context.Context) (string, error) {
	var s string
	_, err := c.read(ctx, IdentityKey, &s)
	return s, err
}

// Put stores v under key as JSON.
func (c *KVContext) Put(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return c.kv.Set(ctx, key, data)
}

func (c *KVContext) read(ctx context.Context, key string, into any) (bool, error) {
	data, err := c.kv.Get(ctx, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, into); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}
