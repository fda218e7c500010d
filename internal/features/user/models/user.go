package models

import "time"

// UserRecord is the persisted access state for one Telegram user.
type UserRecord struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`

	// Verified is true once the user has passed human verification at
	// least once. Whether it currently counts depends on VerifiedUntil.
	Verified      bool       `json:"verified"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`
	VerifiedUntil *time.Time `json:"verified_until,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
