package admin

import (
	"context"
	"sync"
	"time"

	apperrors "enhancer-bot-backend/internal/common/errors"
	"enhancer-bot-backend/internal/features/user/models"
	"enhancer-bot-backend/internal/features/user/repository"
	"enhancer-bot-backend/internal/features/verification"

	"github.com/rs/zerolog/log"
)

const defaultConcurrency = 8

// Sender delivers one direct message to one user.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// CountFilter selects which records CountUsers tallies.
type CountFilter int

const (
	CountAll CountFilter = iota
	CountVerified
)

// BroadcastReport summarizes one broadcast run.
type BroadcastReport struct {
	Attempted int
	Succeeded int
	Failed    int
}

// Service implements the admin-only operations: broadcast and user counts.
type Service struct {
	repo        repository.Repository
	sender      Sender
	admins      map[int64]struct{}
	concurrency int
}

func NewService(repo repository.Repository, sender Sender, adminIDs []int64, concurrency int) *Service {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Service{
		repo:        repo,
		sender:      sender,
		admins:      admins,
		concurrency: concurrency,
	}
}

// IsAdmin reports whether id is in the configured admin set.
func (s *Service) IsAdmin(id int64) bool {
	_, ok := s.admins[id]
	return ok
}

// Broadcast sends text to every known user. Sends run under a bounded
// worker pool; one unreachable recipient never aborts the rest, it only
// shows up in the report.
func (s *Service) Broadcast(ctx context.Context, callerID int64, text string) (*BroadcastReport, error) {
	if !s.IsAdmin(callerID) {
		return nil, apperrors.NewUnauthorizedError("broadcast requires admin").WithUserID(callerID)
	}

	records, err := s.repo.List(ctx, repository.All)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list users", err)
	}

	report := &BroadcastReport{Attempted: len(records)}

	var wg sync.WaitGroup
	sem := make(chan struct{}, s.concurrency)
	results := make(chan error, len(records))

	for _, rec := range records {
		wg.Add(1)
		sem <- struct{}{}
		go func(userID int64) {
			defer wg.Done()
			defer func() { <-sem }()
			results <- s.sendOne(ctx, userID, text)
		}(rec.ID)
	}

	wg.Wait()
	close(results)

	for err := range results {
		if err != nil {
			report.Failed++
		} else {
			report.Succeeded++
		}
	}

	log.Info().
		Int64("caller_id", callerID).
		Int("attempted", report.Attempted).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Msg("broadcast finished")

	return report, nil
}

func (s *Service) sendOne(ctx context.Context, userID int64, text string) error {
	if err := s.sender.SendText(ctx, userID, text); err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("broadcast recipient unreachable")
		return apperrors.Wrap(err, apperrors.ErrCodeRecipientUnreachable, "send failed").WithUserID(userID)
	}
	return nil
}

// CountUsers returns how many records match the filter.
func (s *Service) CountUsers(ctx context.Context, callerID int64, filter CountFilter) (int, error) {
	if !s.IsAdmin(callerID) {
		return 0, apperrors.NewUnauthorizedError("count requires admin").WithUserID(callerID)
	}

	match := repository.All
	if filter == CountVerified {
		now := time.Now()
		match = func(rec *models.UserRecord) bool {
			return verification.IsCurrentlyVerified(rec, now)
		}
	}

	count, err := s.repo.Count(ctx, match)
	if err != nil {
		return 0, apperrors.NewDatabaseError("count users", err)
	}
	return count, nil
}
