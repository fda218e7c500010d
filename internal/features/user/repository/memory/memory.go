package memory

import (
	"context"
	"sync"
	"time"

	"enhancer-bot-backend/internal/features/user/models"
	"enhancer-bot-backend/internal/features/user/repository"
)

// Repository is an in-memory store used in tests and local development.
// It mirrors the redis implementation's per-key atomicity with a single
// mutex.
type Repository struct {
	mu      sync.Mutex
	records map[int64]*models.UserRecord
}

func NewRepository() *Repository {
	return &Repository{
		records: make(map[int64]*models.UserRecord),
	}
}

func (r *Repository) Upsert(ctx context.Context, id int64, mutate func(*models.UserRecord)) (*models.UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	rec, ok := r.records[id]
	if !ok {
		rec = &models.UserRecord{ID: id, CreatedAt: now}
	} else {
		clone := *rec
		rec = &clone
	}

	mutate(rec)
	rec.ID = id
	rec.UpdatedAt = now
	r.records[id] = rec

	out := *rec
	return &out, nil
}

func (r *Repository) GetByID(ctx context.Context, id int64) (*models.UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (r *Repository) List(ctx context.Context, match repository.Predicate) ([]*models.UserRecord, error) {
	if match == nil {
		match = repository.All
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var records []*models.UserRecord
	for _, rec := range r.records {
		if match(rec) {
			out := *rec
			records = append(records, &out)
		}
	}
	return records, nil
}

func (r *Repository) Count(ctx context.Context, match repository.Predicate) (int, error) {
	records, err := r.List(ctx, match)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}
