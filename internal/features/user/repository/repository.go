package repository

import (
	"context"
	"errors"

	"enhancer-bot-backend/internal/features/user/models"
)

var ErrNotFound = errors.New("user not found")

// Predicate filters records for List and Count.
type Predicate func(*models.UserRecord) bool

// All matches every record.
func All(*models.UserRecord) bool { return true }

// Repository is the persistent store of user access state.
//
// Upsert must be atomic per key: the read-modify-write of one record may
// not be split across two round trips, or concurrent events for the same
// user can drop a verification window.
type Repository interface {
	Upsert(ctx context.Context, id int64, mutate func(*models.UserRecord)) (*models.UserRecord, error)
	GetByID(ctx context.Context, id int64) (*models.UserRecord, error)
	List(ctx context.Context, match Predicate) ([]*models.UserRecord, error)
	Count(ctx context.Context, match Predicate) (int, error)
}
