package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
    id           TEXT PRIMARY KEY,
    hash         TEXT NOT NULL,
    priority     INTEGER NOT NULL,
    outcome      TEXT NOT NULL,
    duration_ms  INTEGER NOT NULL,
    submitted_at DATETIME NOT NULL,
    settled_at   DATETIME NOT NULL
)`

// ErrNotFound is returned when a record is not found.
var ErrNotFound = errors.New("record not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createJobsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create jobs table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InsertRecord inserts one settled job.
func (s *SQLiteStore) InsertRecord(ctx context.Context, r *Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (
			id, hash, priority, outcome, duration_ms, submitted_at, settled_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Hash, r.Priority, r.Outcome, r.DurationMS, r.SubmittedAt, r.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// GetRecord retrieves a settled job by ID.
func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*Record, error) {
	r := &Record{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, hash, priority, outcome, duration_ms, submitted_at, settled_at
		FROM jobs WHERE id = ?`, id,
	).Scan(
		&r.ID, &r.Hash, &r.Priority, &r.Outcome, &r.DurationMS,
		&r.SubmittedAt, &r.SettledAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return r, nil
}

// ListRecent returns a paginated list of records ordered by settled_at DESC,
// along with the total count of all records.
func (s *SQLiteStore) ListRecent(ctx context.Context, limit, offset int) ([]*Record, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count records: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, hash, priority, outcome, duration_ms, submitted_at, settled_at
		FROM jobs ORDER BY settled_at DESC, id LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r := &Record{}
		if err := rows.Scan(
			&r.ID, &r.Hash, &r.Priority, &r.Outcome, &r.DurationMS,
			&r.SubmittedAt, &r.SettledAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate records: %w", err)
	}

	return records, total, nil
}

// Summarize returns aggregate statistics over the whole history.
func (s *SQLiteStore) Summarize(ctx context.Context) (*Summary, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	sum := &Summary{CountByOutcome: make(map[string]int)}

	rows, err := tx.QueryContext(ctx, "SELECT outcome, COUNT(*) FROM jobs GROUP BY outcome")
	if err != nil {
		return nil, fmt.Errorf("count by outcome: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var outcome string
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("scan outcome count: %w", err)
		}
		sum.CountByOutcome[outcome] = count
		sum.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcome counts: %w", err)
	}

	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(AVG(duration_ms), 0) FROM jobs",
	).Scan(&sum.AvgDurationMS); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}

	return sum, nil
}
