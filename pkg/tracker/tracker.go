// Package tracker keeps a durable history of search runs.
package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/facegate/pkg/models"
)

// Tracker records and queries search run history.
type Tracker interface {
	// Record stores a finished run. An empty ID is replaced with a new UUID.
	Record(ctx context.Context, run models.RunRecord) error
	// Recent returns up to limit runs, newest first.
	Recent(ctx context.Context, limit int) ([]models.RunRecord, error)
	// Since returns runs recorded at or after since, newest first.
	Since(ctx context.Context, since time.Time) ([]models.RunRecord, error)
	// Summary aggregates runs by terminal state.
	Summary(ctx context.Context) ([]models.RunSummary, error)
	// Prune deletes runs recorded before cutoff and returns how many were removed.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
	// Close releases resources.
	Close() error
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db *sql.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS search_runs (
	id TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	best_id TEXT NOT NULL,
	best_score REAL NOT NULL,
	processing_ns INTEGER NOT NULL,
	cache_hit_rate REAL NOT NULL,
	gallery_size INTEGER NOT NULL,
	matched INTEGER NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_runs_time ON search_runs(created_at);
`

// New creates a SQLiteTracker and runs auto-migration.
func New(dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate tracker db: %w", err)
	}

	return &SQLiteTracker{db: db}, nil
}

// Record stores a finished run.
func (t *SQLiteTracker) Record(ctx context.Context, run models.RunRecord) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Timestamp.IsZero() {
		run.Timestamp = time.Now()
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO search_runs (id, state, best_id, best_score, processing_ns, cache_hit_rate, gallery_size, matched, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.State), run.BestID, run.BestScore, int64(run.ProcessingTime),
		run.CacheHitRate, run.GallerySize, run.Matched, run.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

const selectRuns = `SELECT id, state, best_id, best_score, processing_ns, cache_hit_rate, gallery_size, matched, created_at FROM search_runs`

// Recent returns up to limit runs, newest first. A non-positive limit means 20.
func (t *SQLiteTracker) Recent(ctx context.Context, limit int) ([]models.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := t.db.QueryContext(ctx, selectRuns+` ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// Since returns runs recorded at or after since, newest first.
func (t *SQLiteTracker) Since(ctx context.Context, since time.Time) ([]models.RunRecord, error) {
	rows, err := t.db.QueryContext(ctx, selectRuns+` WHERE created_at >= ? ORDER BY created_at DESC`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

func scanRuns(rows *sql.Rows) ([]models.RunRecord, error) {
	var runs []models.RunRecord
	for rows.Next() {
		var r models.RunRecord
		var state string
		var processingNs int64
		if err := rows.Scan(&r.ID, &state, &r.BestID, &r.BestScore, &processingNs,
			&r.CacheHitRate, &r.GallerySize, &r.Matched, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.State = models.SearchState(state)
		r.ProcessingTime = time.Duration(processingNs)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Summary aggregates runs grouped by terminal state.
func (t *SQLiteTracker) Summary(ctx context.Context) ([]models.RunSummary, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT state, COUNT(*), AVG(processing_ns), MAX(processing_ns), AVG(cache_hit_rate)
		 FROM search_runs GROUP BY state ORDER BY state`,
	)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.RunSummary
	for rows.Next() {
		var s models.RunSummary
		var state string
		var avgNs float64
		var maxNs int64
		if err := rows.Scan(&state, &s.Runs, &avgNs, &maxNs, &s.AvgCacheHitRate); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		s.State = models.SearchState(state)
		s.AvgProcessingMs = avgNs / float64(time.Millisecond)
		s.MaxProcessingMs = time.Duration(maxNs).Milliseconds()
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Prune deletes runs older than cutoff.
func (t *SQLiteTracker) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := t.db.ExecContext(ctx, `DELETE FROM search_runs WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}
