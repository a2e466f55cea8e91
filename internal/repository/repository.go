package repository

import (
	"context"
	"time"

	"patchbay/internal/domain"
)

// Entry is one journaled delta
type Entry struct {
	ID      int64            `json:"id"`
	Session string           `json:"session"`
	At      time.Time        `json:"at"`
	Kind    domain.EventKind `json:"kind"`
	Summary string           `json:"summary"`
	Delta   domain.Delta     `json:"delta"`
}

// Filter narrows a journal listing. Zero values match everything; Limit
// zero means DefaultLimit.
type Filter struct {
	Kind    domain.EventKind
	Session string
	Limit   int
}

// DefaultLimit caps listings without an explicit limit
const DefaultLimit = 100

// Journal records the deltas delivered to consumers
type Journal interface {
	Append(ctx context.Context, d domain.Delta) error
	// List returns matching entries, newest first
	List(ctx context.Context, f Filter) ([]Entry, error)
	Close() error
}
