package admin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "enhancer-bot-backend/internal/common/errors"
	"enhancer-bot-backend/internal/features/user/models"
	"enhancer-bot-backend/internal/features/user/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu     sync.Mutex
	sent   []int64
	failOn map[int64]error
}

func (s *recordingSender) SendText(ctx context.Context, chatID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failOn[chatID]; ok {
		return err
	}
	s.sent = append(s.sent, chatID)
	return nil
}

func seedUsers(t *testing.T, repo *memory.Repository, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		_, err := repo.Upsert(context.Background(), id, func(r *models.UserRecord) {})
		require.NoError(t, err)
	}
}

func TestBroadcastIsolatesFailures(t *testing.T) {
	repo := memory.NewRepository()
	seedUsers(t, repo, 1, 2, 3)

	sender := &recordingSender{failOn: map[int64]error{2: errors.New("blocked by user")}}
	svc := NewService(repo, sender, []int64{99}, 2)

	report, err := svc.Broadcast(context.Background(), 99, "hello")
	require.NoError(t, err)

	assert.Equal(t, 3, report.Attempted)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)

	// Recipients 1 and 3 still got the message.
	assert.ElementsMatch(t, []int64{1, 3}, sender.sent)
}

func TestBroadcastUnauthorized(t *testing.T) {
	repo := memory.NewRepository()
	seedUsers(t, repo, 1, 2)

	sender := &recordingSender{}
	svc := NewService(repo, sender, []int64{99}, 2)

	_, err := svc.Broadcast(context.Background(), 7, "hello")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeUnauthorized, apperrors.CodeOf(err))

	// No sends were issued.
	assert.Empty(t, sender.sent)
}

func TestBroadcastEmptyStore(t *testing.T) {
	svc := NewService(memory.NewRepository(), &recordingSender{}, []int64{99}, 2)

	report, err := svc.Broadcast(context.Background(), 99, "hello")
	require.NoError(t, err)
	assert.Equal(t, &BroadcastReport{}, report)
}

func TestCountUsers(t *testing.T) {
	repo := memory.NewRepository()
	seedUsers(t, repo, 1, 2, 3)

	// Verify user 2 only.
	now := time.Now()
	until := now.Add(time.Hour)
	_, err := repo.Upsert(context.Background(), 2, func(r *models.UserRecord) {
		r.Verified = true
		r.VerifiedAt = &now
		r.VerifiedUntil = &until
	})
	require.NoError(t, err)

	// And user 3 with an expired window.
	expired := now.Add(-time.Hour)
	_, err = repo.Upsert(context.Background(), 3, func(r *models.UserRecord) {
		r.Verified = true
		r.VerifiedUntil = &expired
	})
	require.NoError(t, err)

	svc := NewService(repo, &recordingSender{}, []int64{99}, 2)

	total, err := svc.CountUsers(context.Background(), 99, CountAll)
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	verified, err := svc.CountUsers(context.Background(), 99, CountVerified)
	require.NoError(t, err)
	assert.Equal(t, 1, verified)
}

func TestCountUsersUnauthorized(t *testing.T) {
	svc := NewService(memory.NewRepository(), &recordingSender{}, []int64{99}, 2)

	_, err := svc.CountUsers(context.Background(), 7, CountAll)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeUnauthorized, apperrors.CodeOf(err))
}

func TestIsAdmin(t *testing.T) {
	svc := NewService(memory.NewRepository(), &recordingSender{}, []int64{99, 100}, 2)

	assert.True(t, svc.IsAdmin(99))
	assert.True(t, svc.IsAdmin(100))
	assert.False(t, svc.IsAdmin(7))
}
