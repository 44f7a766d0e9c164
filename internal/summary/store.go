package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cadence/internal/dayphase"
	"github.com/fyrsmithlabs/cadence/internal/kvstore"
	"github.com/fyrsmithlabs/cadence/internal/workunit"
)

// Key layout inside the keyed store.
const (
	recordPrefix    = "summaries/"
	dateIndexPrefix = "index/date/"
	phaseIndexRoot  = "index/date_phase/"
)

// Store persists WorkSummaries over a kvstore.Store.
//
// Saves are upserts by slug. The date and date+phase indexes are slug lists
// kept in their own keys; moving a summary to another date or phase updates
// both sets of indexes. A single writer is assumed.
type Store struct {
	kv     kvstore.Store
	logger *zap.Logger
}

// NewStore creates a summary store.
func NewStore(kv kvstore.Store, logger *zap.Logger) (*Store, error) {
	if kv == nil {
		return nil, fmt.Errorf("kv store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{kv: kv, logger: logger.Named("summary")}, nil
}

func recordKey(slug string) string { return recordPrefix + slug }

func dateIndexKey(date string) string { return dateIndexPrefix + date }

func phaseIndexKey(date string, phase dayphase.Phase) string {
	return phaseIndexRoot + date + "/" + string(phase)
}

// Save upserts s by slug and updates the indexes.
func (st *Store) Save(ctx context.Context, s *WorkSummary) error {
	if s == nil {
		return ErrNilSummary
	}
	if !ValidSlug(s.Slug) {
		return fmt.Errorf("%w: %q", ErrInvalidSlug, s.Slug)
	}
	if _, err := time.Parse(DateLayout, s.Date); err != nil {
		return fmt.Errorf("invalid summary date %q: %w", s.Date, err)
	}

	prev, err := st.Get(ctx, s.Slug)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := st.kv.Set(ctx, recordKey(s.Slug), data); err != nil {
		return fmt.Errorf("save summary %s: %w", s.Slug, err)
	}

	if prev != nil && (prev.Date != s.Date || prev.Phase != s.Phase) {
		if err := st.removeFromIndex(ctx, dateIndexKey(prev.Date), s.Slug); err != nil {
			return err
		}
		if err := st.removeFromIndex(ctx, phaseIndexKey(prev.Date, prev.Phase), s.Slug); err != nil {
			return err
		}
	}
	if err := st.addToIndex(ctx, dateIndexKey(s.Date), s.Slug); err != nil {
		return err
	}
	if err := st.addToIndex(ctx, phaseIndexKey(s.Date, s.Phase), s.Slug); err != nil {
		return err
	}

	st.logger.Debug("work summary saved",
		zap.String("slug", s.Slug),
		zap.Bool("success", s.Success),
	)
	return nil
}

// Get loads a summary by slug.
func (st *Store) Get(ctx context.Context, slug string) (*WorkSummary, error) {
	if !ValidSlug(slug) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSlug, slug)
	}
	data, err := st.kv.Get(ctx, recordKey(slug))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, slug)
	}
	if err != nil {
		return nil, fmt.Errorf("load summary %s: %w", slug, err)
	}
	var s WorkSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode summary %s: %w", slug, err)
	}
	return &s, nil
}

// Delete removes a summary and its index entries.
func (st *Store) Delete(ctx context.Context, slug string) error {
	s, err := st.Get(ctx, slug)
	if err != nil {
		return err
	}
	if err := st.kv.Delete(ctx, recordKey(slug)); err != nil {
		return fmt.Errorf("delete summary %s: %w", slug, err)
	}
	if err := st.removeFromIndex(ctx, dateIndexKey(s.Date), slug); err != nil {
		return err
	}
	return st.removeFromIndex(ctx, phaseIndexKey(s.Date, s.Phase), slug)
}

// ByDate returns the summaries for a calendar day, oldest first.
func (st *Store) ByDate(ctx context.Context, date time.Time) ([]*WorkSummary, error) {
	return st.fromIndex(ctx, dateIndexKey(date.Format(DateLayout)))
}

// ByDatePhase returns the summaries for one phase of a calendar day.
func (st *Store) ByDatePhase(ctx context.Context, date time.Time, phase dayphase.Phase) ([]*WorkSummary, error) {
	return st.fromIndex(ctx, phaseIndexKey(date.Format(DateLayout), phase))
}

// Recent returns the n most recently finished summaries, newest first.
func (st *Store) Recent(ctx context.Context, n int) ([]*WorkSummary, error) {
	return st.filter(ctx, n, func(*WorkSummary) bool { return true })
}

// ByCategory returns up to limit summaries in a category, newest first.
func (st *Store) ByCategory(ctx context.Context, cat workunit.Category, limit int) ([]*WorkSummary, error) {
	return st.filter(ctx, limit, func(s *WorkSummary) bool { return s.Category == cat })
}

// Search does a case-insensitive substring match over name, focus, summary
// text and key insights. Results are newest first.
func (st *Store) Search(ctx context.Context, query string, limit int) ([]*WorkSummary, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}
	return st.filter(ctx, limit, func(s *WorkSummary) bool { return s.matches(q) })
}

// Bucket aggregates count, minutes and spend.
type Bucket struct {
	Count   int     `json:"count"`
	Minutes float64 `json:"minutes"`
	CostUSD float64 `json:"cost_usd"`
}

// Stats aggregates summaries over a date range.
type Stats struct {
	Start        string                       `json:"start"`
	End          string                       `json:"end"`
	Count        int                          `json:"count"`
	TotalMinutes float64                      `json:"total_minutes"`
	ByPhase      map[dayphase.Phase]Bucket    `json:"by_phase"`
	ByCategory   map[workunit.Category]Bucket `json:"by_category"`
	SuccessRate  float64                      `json:"success_rate"`
	CostUSD      float64                      `json:"cost_usd"`
}

// Stats aggregates all summaries dated within [start, end].
func (st *Store) Stats(ctx context.Context, start, end time.Time) (*Stats, error) {
	stats := &Stats{
		Start:      start.Format(DateLayout),
		End:        end.Format(DateLayout),
		ByPhase:    make(map[dayphase.Phase]Bucket),
		ByCategory: make(map[workunit.Category]Bucket),
	}
	if end.Before(start) {
		return stats, nil
	}

	indexes, err := st.kv.RangeByDate(ctx, dateIndexPrefix, start, end)
	if err != nil {
		return nil, fmt.Errorf("range date indexes: %w", err)
	}

	succeeded := 0
	for _, idx := range indexes {
		summaries, err := st.fromIndex(ctx, idx.Key)
		if err != nil {
			return nil, err
		}
		for _, s := range summaries {
			stats.Count++
			stats.TotalMinutes += s.DurationMinutes
			stats.CostUSD += s.CostUSD
			if s.Success {
				succeeded++
			}
			p := stats.ByPhase[s.Phase]
			p.Count++
			p.Minutes += s.DurationMinutes
			p.CostUSD += s.CostUSD
			stats.ByPhase[s.Phase] = p

			c := stats.ByCategory[s.Category]
			c.Count++
			c.Minutes += s.DurationMinutes
			c.CostUSD += s.CostUSD
			stats.ByCategory[s.Category] = c
		}
	}
	if stats.Count > 0 {
		stats.SuccessRate = float64(succeeded) / float64(stats.Count)
	}
	return stats, nil
}

func (st *Store) fromIndex(ctx context.Context, key string) ([]*WorkSummary, error) {
	slugs, err := st.readIndex(ctx, key)
	if err != nil {
		return nil, err
	}
	out := make([]*WorkSummary, 0, len(slugs))
	for _, slug := range slugs {
		s, err := st.Get(ctx, slug)
		if errors.Is(err, ErrNotFound) {
			st.logger.Warn("index references missing summary",
				zap.String("index", key),
				zap.String("slug", slug),
			)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].sortTime().Before(out[j].sortTime())
	})
	return out, nil
}

func (st *Store) filter(ctx context.Context, limit int, keep func(*WorkSummary) bool) ([]*WorkSummary, error) {
	entries, err := st.kv.Scan(ctx, recordPrefix)
	if err != nil {
		return nil, fmt.Errorf("scan summaries: %w", err)
	}
	var out []*WorkSummary
	for _, e := range entries {
		var s WorkSummary
		if err := json.Unmarshal(e.Value, &s); err != nil {
			st.logger.Warn("skipping undecodable summary",
				zap.String("key", e.Key),
				zap.Error(err),
			)
			continue
		}
		if keep(&s) {
			out = append(out, &s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].sortTime().After(out[j].sortTime())
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (st *Store) readIndex(ctx context.Context, key string) ([]string, error) {
	data, err := st.kv.Get(ctx, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index %s: %w", key, err)
	}
	var slugs []string
	if err := json.Unmarshal(data, &slugs); err != nil {
		return nil, fmt.Errorf("decode index %s: %w", key, err)
	}
	return slugs, nil
}

func (st *Store) writeIndex(ctx context.Context, key string, slugs []string) error {
	if len(slugs) == 0 {
		return st.kv.Delete(ctx, key)
	}
	data, err := json.Marshal(slugs)
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	if err := st.kv.Set(ctx, key, data); err != nil {
		return fmt.Errorf("write index %s: %w", key, err)
	}
	return nil
}

func (st *Store) addToIndex(ctx context.Context, key, slug string) error {
	slugs, err := st.readIndex(ctx, key)
	if err != nil {
		return err
	}
	for _, s := range slugs {
		if s == slug {
			return nil
		}
	}
	return st.writeIndex(ctx, key, append(slugs, slug))
}

func (st *Store) removeFromIndex(ctx context.Context, key, slug string) error {
	slugs, err := st.readIndex(ctx, key)
	if err != nil {
		return err
	}
	kept := slugs[:0]
	for _, s := range slugs {
		if s != slug {
			kept = append(kept, s)
		}
	}
	if len(kept) == len(slugs) {
		return nil
	}
	return st.writeIndex(ctx, key, kept)
}
