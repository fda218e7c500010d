package errors

import (
	"fmt"
	"time"
)

// ErrorCode identifies a failure class across the service.
type ErrorCode string

const (
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeBadRequest   ErrorCode = "BAD_REQUEST"

	// Access gates
	ErrCodeNotSubscribed ErrorCode = "NOT_SUBSCRIBED"
	ErrCodeNotVerified   ErrorCode = "NOT_VERIFIED"

	// Enhancement pipeline
	ErrCodeServiceUnreachable ErrorCode = "SERVICE_UNREACHABLE"
	ErrCodeProcessingFailed   ErrorCode = "PROCESSING_FAILED"
	ErrCodeResultFetchFailed  ErrorCode = "RESULT_FETCH_FAILED"

	// Broadcast
	ErrCodeRecipientUnreachable ErrorCode = "RECIPIENT_UNREACHABLE"

	// Collaborators
	ErrCodeTelegramAPI   ErrorCode = "TELEGRAM_API_ERROR"
	ErrCodeDatabaseError ErrorCode = "DATABASE_ERROR"
)

// AppError is the typed error carried between components.
type AppError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	UserID    int64                  `json:"user_id,omitempty"`
	Cause     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match on the code, so callers can compare against a
// bare New(code, "") sentinel.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

func (e *AppError) IsUnauthorized() bool {
	return e.Code == ErrCodeUnauthorized
}

func (e *AppError) IsGate() bool {
	return e.Code == ErrCodeNotSubscribed || e.Code == ErrCodeNotVerified
}

func (e *AppError) IsPipeline() bool {
	return e.Code == ErrCodeServiceUnreachable ||
		e.Code == ErrCodeProcessingFailed ||
		e.Code == ErrCodeResultFetchFailed
}

// WithDetail attaches a key/value to the error for logging.
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithUserID tags the error with the affected user.
func (e *AppError) WithUserID(userID int64) *AppError {
	e.UserID = userID
	return e
}

// New creates a new application error.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Wrap wraps an existing error with a code and message.
func Wrap(err error, code ErrorCode, message string) *AppError {
	appErr := New(code, message)
	appErr.Cause = err
	return appErr
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// NewUnauthorizedError reports a caller outside the admin set.
func NewUnauthorizedError(reason string) *AppError {
	return New(ErrCodeUnauthorized, fmt.Sprintf("Unauthorized: %s", reason))
}

// NewDatabaseError reports a failed store operation.
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseError, fmt.Sprintf("Database operation failed: %s", operation)).
		WithDetail("operation", operation)
}

// NewTelegramAPIError reports a failed Bot API call.
func NewTelegramAPIError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeTelegramAPI, fmt.Sprintf("Telegram API operation failed: %s", operation)).
		WithDetail("operation", operation)
}

// AsAppError casts err to *AppError when possible.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if err != nil {
		appErr, _ = err.(*AppError)
	}
	return appErr, appErr != nil
}

// CodeOf extracts the error code, defaulting to INTERNAL_ERROR for plain
// errors.
func CodeOf(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}
