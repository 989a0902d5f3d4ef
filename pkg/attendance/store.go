package attendance

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/facegate/pkg/models"
)

// Store keeps attendance records in a dedicated SQLite table and prunes them
// past the retention period.
type Store struct {
	db            *sql.DB
	retentionDays int
	done          chan struct{}
	wg            sync.WaitGroup
}

// NewStore opens the attendance database and creates the schema. A positive
// retentionDays starts an hourly cleanup loop.
func NewStore(dbPath string, retentionDays int) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open attendance db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate attendance db: %w", err)
	}

	s := &Store{db: db, retentionDays: retentionDays, done: make(chan struct{})}
	if retentionDays > 0 {
		s.wg.Add(1)
		go s.retentionLoop()
	}
	return s, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS attendance_log (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		similarity  REAL NOT NULL,
		synced      INTEGER NOT NULL DEFAULT 0,
		created_at  DATETIME NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_attendance_user ON attendance_log(user_id)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_attendance_created ON attendance_log(created_at)`)
	return err
}

// Save inserts or replaces rec.
func (s *Store) Save(ctx context.Context, rec models.AttendanceRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO attendance_log (id, user_id, similarity, synced, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Similarity, rec.Synced, rec.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save attendance: %w", err)
	}
	return nil
}

// Query returns records matching opts, newest first. Limit defaults to 100.
func (s *Store) Query(ctx context.Context, opts models.AttendanceQueryOpts) ([]models.AttendanceRecord, error) {
	q := `SELECT id, user_id, similarity, synced, created_at FROM attendance_log WHERE 1=1`
	var args []any

	if opts.UserID != "" {
		q += " AND user_id = ?"
		args = append(args, opts.UserID)
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since.UTC())
	}

	q += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query attendance: %w", err)
	}
	defer rows.Close()

	var records []models.AttendanceRecord
	for rows.Next() {
		var r models.AttendanceRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.Similarity, &r.Synced, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan attendance row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Unsynced returns records that never reached the remote service, oldest first.
func (s *Store) Unsynced(ctx context.Context) ([]models.AttendanceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, similarity, synced, created_at FROM attendance_log
		 WHERE synced = 0 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query unsynced attendance: %w", err)
	}
	defer rows.Close()

	var records []models.AttendanceRecord
	for rows.Next() {
		var r models.AttendanceRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.Similarity, &r.Synced, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan attendance row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// MarkSynced flags the record as delivered.
func (s *Store) MarkSynced(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE attendance_log SET synced = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark attendance synced: %w", err)
	}
	return nil
}

// Cleanup deletes records older than the retention period.
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	if s.retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays).UTC()
	res, err := s.db.ExecContext(ctx, `DELETE FROM attendance_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("attendance cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (s *Store) Close() error {
	close(s.done)
	s.wg.Wait()
	return s.db.Close()
}

func (s *Store) retentionLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			_, _ = s.Cleanup(context.Background())
		}
	}
}
