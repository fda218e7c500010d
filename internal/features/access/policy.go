package access

import (
	"time"

	"enhancer-bot-backend/internal/features/user/models"
	"enhancer-bot-backend/internal/platform/telegram"
)

// Decision is the outcome of gating one inbound event.
type Decision int

const (
	// RequireSubscription blocks until the user joins the required channel.
	RequireSubscription Decision = iota
	// RequireVerification blocks until the user passes human verification.
	RequireVerification
	// Proceed clears the event for processing.
	Proceed
)

func (d Decision) String() string {
	switch d {
	case RequireSubscription:
		return "require_subscription"
	case RequireVerification:
		return "require_verification"
	case Proceed:
		return "proceed"
	}
	return "unknown"
}

// IsChannelMember reports whether a membership status counts as subscribed.
// Only member, administrator and creator qualify.
func IsChannelMember(status telegram.MemberStatus) bool {
	switch status {
	case telegram.StatusMember, telegram.StatusAdministrator, telegram.StatusCreator:
		return true
	}
	return false
}

// Evaluate decides what the user must do before their event proceeds.
//
// The subscription gate always wins: a verified user who left the channel
// is blocked on subscription, not verification. An absent record, an
// unverified record, or an expired window all demand verification. The
// verification window is half-open: at exactly VerifiedUntil the user is
// no longer verified. There is no trust on first use.
func Evaluate(status telegram.MemberStatus, record *models.UserRecord, now time.Time) Decision {
	if !IsChannelMember(status) {
		return RequireSubscription
	}

	if record == nil || !record.Verified || record.VerifiedUntil == nil {
		return RequireVerification
	}
	if !now.Before(*record.VerifiedUntil) {
		return RequireVerification
	}

	return Proceed
}
