package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"enhancer-bot-backend/internal/features/user/models"
	"enhancer-bot-backend/internal/features/user/repository"

	"github.com/redis/go-redis/v9"
)

// Records live as JSON blobs under user:<id>.
const keyPrefix = "user:"

// How many optimistic-lock rounds Upsert attempts before giving up.
const maxUpsertRetries = 5

type userRepository struct {
	client redis.UniversalClient
}

func NewUserRepository(client redis.UniversalClient) repository.Repository {
	return &userRepository{
		client: client,
	}
}

// Upsert applies mutate to the current record (or a fresh one) under a
// WATCH transaction, so concurrent writers for the same user retry instead
// of overwriting each other.
func (r *userRepository) Upsert(ctx context.Context, id int64, mutate func(*models.UserRecord)) (*models.UserRecord, error) {
	key := userKey(id)
	var out *models.UserRecord

	txf := func(tx *redis.Tx) error {
		now := time.Now()
		rec := &models.UserRecord{ID: id, CreatedAt: now}

		raw, err := tx.Get(ctx, key).Bytes()
		if err == nil {
			if err := json.Unmarshal(raw, rec); err != nil {
				return fmt.Errorf("corrupt record for %s: %w", key, err)
			}
		} else if !errors.Is(err, redis.Nil) {
			return err
		}

		mutate(rec)
		rec.ID = id
		rec.UpdatedAt = now

		buf, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, buf, 0)
			return nil
		})
		if err != nil {
			return err
		}
		out = rec
		return nil
	}

	for i := 0; i < maxUpsertRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}

	return nil, fmt.Errorf("upsert of %s lost %d optimistic lock rounds", key, maxUpsertRetries)
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*models.UserRecord, error) {
	raw, err := r.client.Get(ctx, userKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	var rec models.UserRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}

	return &rec, nil
}

func (r *userRepository) List(ctx context.Context, match repository.Predicate) ([]*models.UserRecord, error) {
	if match == nil {
		match = repository.All
	}

	var records []*models.UserRecord
	iter := r.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()

	for iter.Next(ctx) {
		raw, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}

		var rec models.UserRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}

		if match(&rec) {
			records = append(records, &rec)
		}
	}

	return records, iter.Err()
}

func (r *userRepository) Count(ctx context.Context, match repository.Predicate) (int, error) {
	records, err := r.List(ctx, match)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

func userKey(id int64) string {
	return fmt.Sprintf("%s%d", keyPrefix, id)
}
