// Package attendance records verified identities.
//
// Marks go to the central attendance service when one is configured and are
// always written to the local store, so a mark is never lost while the service
// is unreachable.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pario-ai/facegate/pkg/models"
)

// ErrInvalidMark is returned for marks without a user or with a similarity outside [0,1].
var ErrInvalidMark = errors.New("invalid attendance mark")

// Service marks and lists attendance.
type Service struct {
	remote Remote
	local  *Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a Service. remote may be nil for local-only operation.
func NewService(local *Store, remote Remote, logger zerolog.Logger) *Service {
	return &Service{remote: remote, local: local, logger: logger, now: time.Now}
}

// Mark records that userID was verified with the given similarity.
// A remote failure is logged and the record is kept locally as unsynced; only
// a local write failure is returned.
func (s *Service) Mark(ctx context.Context, userID string, similarity float64) (models.AttendanceRecord, error) {
	if userID == "" || userID == models.UnknownID || similarity < 0 || similarity > 1 {
		return models.AttendanceRecord{}, fmt.Errorf("%w: user %q similarity %v", ErrInvalidMark, userID, similarity)
	}

	rec := models.AttendanceRecord{
		ID:         uuid.NewString(),
		UserID:     userID,
		Similarity: similarity,
		Timestamp:  s.now().UTC(),
	}

	if s.remote != nil {
		if err := s.remote.Post(ctx, rec); err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("attendance service unreachable, saving locally only")
		} else {
			rec.Synced = true
		}
	}

	if err := s.local.Save(ctx, rec); err != nil {
		return rec, err
	}
	s.logger.Info().Str("user_id", userID).Float64("similarity", similarity).Bool("synced", rec.Synced).Msg("attendance marked")
	return rec, nil
}

// List returns attendance records, newest first. The remote service is asked
// first; on error the local store answers instead.
func (s *Service) List(ctx context.Context, opts models.AttendanceQueryOpts) ([]models.AttendanceRecord, error) {
	if s.remote != nil {
		records, err := s.remote.List(ctx)
		if err == nil {
			return filter(records, opts), nil
		}
		s.logger.Warn().Err(err).Msg("fetching local attendance logs due to service error")
	}
	return s.local.Query(ctx, opts)
}

// Sync resends unsynced local records and returns how many were delivered.
func (s *Service) Sync(ctx context.Context) (int, error) {
	if s.remote == nil {
		return 0, nil
	}
	pending, err := s.local.Unsynced(ctx)
	if err != nil {
		return 0, err
	}
	var sent int
	for _, rec := range pending {
		if err := s.remote.Post(ctx, rec); err != nil {
			return sent, fmt.Errorf("sync attendance %s: %w", rec.ID, err)
		}
		if err := s.local.MarkSynced(ctx, rec.ID); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

func filter(records []models.AttendanceRecord, opts models.AttendanceQueryOpts) []models.AttendanceRecord {
	out := make([]models.AttendanceRecord, 0, len(records))
	for _, r := range records {
		if opts.UserID != "" && r.UserID != opts.UserID {
			continue
		}
		if !opts.Since.IsZero() && r.Timestamp.Before(opts.Since) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}
