// Package kvstore provides the keyed byte store behind work summaries and
// maintenance task state.
//
// Keys are slash-separated paths. Keys whose first segment after a prefix is
// a YYYY-MM-DD date (e.g. "summaries/work/2026-10-15/morning-...") can be
// queried by date range, since ISO dates sort lexicographically.
package kvstore

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("key not found")

	// ErrEmptyKey is returned when a key is empty.
	ErrEmptyKey = errors.New("key cannot be empty")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store is closed")
)

// DateLayout is the date format used in date-addressable keys.
const DateLayout = "2006-01-02"

// Entry is a stored key/value pair.
type Entry struct {
	Key       string
	Value     []byte
	UpdatedAt time.Time
}

// Store is a generic keyed store. Implementations assume a single writer.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set inserts or replaces the value for key.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Scan returns every entry whose key starts with prefix, ordered by key.
	Scan(ctx context.Context, prefix string) ([]Entry, error)

	// RangeByDate returns entries under prefix whose leading date segment
	// falls within [start, end] (inclusive, by calendar day), ordered by key.
	RangeByDate(ctx context.Context, prefix string, start, end time.Time) ([]Entry, error)

	// Close releases resources.
	Close() error
}

// dateBounds returns the half-open key interval [lo, hi) covering the
// calendar days start..end under prefix.
func dateBounds(prefix string, start, end time.Time) (string, string) {
	lo := prefix + start.Format(DateLayout)
	hi := prefix + end.AddDate(0, 0, 1).Format(DateLayout)
	return lo, hi
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	return nil
}
