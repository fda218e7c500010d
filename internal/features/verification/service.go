package verification

import (
	"context"
	"time"

	"enhancer-bot-backend/internal/features/user/models"
	"enhancer-bot-backend/internal/features/user/repository"

	"github.com/rs/zerolog/log"
)

// DefaultWindow is how long a verification is honored.
const DefaultWindow = 12 * time.Hour

// Service manages the time-boxed verification window.
type Service struct {
	repo   repository.Repository
	window time.Duration
}

func NewService(repo repository.Repository, window time.Duration) *Service {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Service{
		repo:   repo,
		window: window,
	}
}

// MarkVerified upserts the record with a fresh window starting at now.
// Calling it again simply slides the window forward; there is no explicit
// revoke, verification only lapses by time.
func (s *Service) MarkVerified(ctx context.Context, userID int64, username, firstName string, now time.Time) (*models.UserRecord, error) {
	until := now.Add(s.window)

	rec, err := s.repo.Upsert(ctx, userID, func(r *models.UserRecord) {
		if username != "" {
			r.Username = username
		}
		if firstName != "" {
			r.FirstName = firstName
		}
		r.Verified = true
		at := now
		r.VerifiedAt = &at
		r.VerifiedUntil = &until
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Int64("user_id", userID).
		Time("verified_until", until).
		Msg("user verified")

	return rec, nil
}

// IsCurrentlyVerified reports whether the record holds an unexpired
// verification window. Half-open: false at exactly VerifiedUntil.
func IsCurrentlyVerified(record *models.UserRecord, now time.Time) bool {
	if record == nil || !record.Verified || record.VerifiedUntil == nil {
		return false
	}
	return now.Before(*record.VerifiedUntil)
}

// Window exposes the configured duration for prompts ("verify again in
// 12h" style messages).
func (s *Service) Window() time.Duration {
	return s.window
}
