package summary

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/cadence/internal/workunit"
)

// DailyBudget reports remaining spend per category as a fixed daily limit
// minus what today's summaries cost. It is read-only and best-effort: spend
// that has not yet been summarized is not counted.
type DailyBudget struct {
	store  *Store
	limits map[workunit.Category]float64
	clock  func() time.Time
}

// NewDailyBudget creates a budget reader. Categories without a limit have
// no budget.
func NewDailyBudget(store *Store, limits map[workunit.Category]float64, clock func() time.Time) (*DailyBudget, error) {
	if store == nil {
		return nil, fmt.Errorf("summary store cannot be nil")
	}
	for cat, v := range limits {
		if !cat.Valid() {
			return nil, fmt.Errorf("%w: %q", workunit.ErrUnknownCategory, cat)
		}
		if v < 0 {
			return nil, fmt.Errorf("daily limit for %s cannot be negative", cat)
		}
	}
	if clock == nil {
		clock = time.Now
	}
	cp := make(map[workunit.Category]float64, len(limits))
	for k, v := range limits {
		cp[k] = v
	}
	return &DailyBudget{store: store, limits: cp, clock: clock}, nil
}

// Remaining implements decision.BudgetReader.
func (b *DailyBudget) Remaining(ctx context.Context) (map[workunit.Category]float64, error) {
	today := b.clock()
	stats, err := b.store.Stats(ctx, today, today)
	if err != nil {
		return nil, fmt.Errorf("read today's spend: %w", err)
	}
	out := make(map[workunit.Category]float64, len(b.limits))
	for cat, limit := range b.limits {
		left := limit - stats.ByCategory[cat].CostUSD
		if left < 0 {
			left = 0
		}
		out[cat] = left
	}
	return out, nil
}
