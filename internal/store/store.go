// Package store persists a history of settled jobs. The history is purely
// observational: queued and in-flight work lives only in memory, and losing
// the database loses nothing but hindsight.
package store

import (
	"context"
	"time"
)

// Record is one settled job.
type Record struct {
	ID          string    `json:"id"`
	Hash        string    `json:"hash"`
	Priority    int       `json:"priority"`
	Outcome     string    `json:"outcome"`
	DurationMS  int64     `json:"duration_ms"`
	SubmittedAt time.Time `json:"submitted_at"`
	SettledAt   time.Time `json:"settled_at"`
}

// Summary holds aggregate statistics over the settled-job history.
type Summary struct {
	Total          int            `json:"total"`
	CountByOutcome map[string]int `json:"count_by_outcome"`
	AvgDurationMS  float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for the job history.
type Store interface {
	InsertRecord(ctx context.Context, r *Record) error
	GetRecord(ctx context.Context, id string) (*Record, error)
	ListRecent(ctx context.Context, limit, offset int) ([]*Record, int, error)
	Summarize(ctx context.Context) (*Summary, error)
	Close() error
}
