package models

import (
	"errors"
	"fmt"
)

// ==============================================
// CUSTOM ERROR TYPES
// ==============================================

// AppError represents a structured application error
type AppError struct {
	Code    string // Error code for client
	Message string // Human-readable message
	Err     error  // Underlying error (for logging)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError
func NewAppError(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ==============================================
// LINKING ERRORS
// ==============================================

var (
	ErrNoPendingSession   = errors.New("no pending linking session")
	ErrSessionExpired     = errors.New("linking code has expired")
	ErrLockedOut          = errors.New("maximum verification attempts exceeded")
	ErrAlreadyLinked      = errors.New("channel already linked")
	ErrDeliveryFailed     = errors.New("could not deliver code to channel")
	ErrStoreUnavailable   = errors.New("session store unavailable")
	ErrInvalidChannel     = errors.New("unknown channel")
	ErrInvalidDestination = errors.New("invalid destination phone number")
)

// CodeMismatchError is the recoverable wrong-code outcome. It carries the
// attempts the user has left so the UI can show actionable messaging.
type CodeMismatchError struct {
	AttemptsRemaining int
}

func (e *CodeMismatchError) Error() string {
	return fmt.Sprintf("code mismatch, %d attempts remaining", e.AttemptsRemaining)
}

// IsCodeMismatch extracts a CodeMismatchError from an error chain.
func IsCodeMismatch(err error) (*CodeMismatchError, bool) {
	var mismatch *CodeMismatchError
	if errors.As(err, &mismatch) {
		return mismatch, true
	}
	return nil, false
}

// ==============================================
// ERROR CODES (for API responses)
// ==============================================
const (
	ErrCodeNoPendingSession = "NO_PENDING_SESSION"
	ErrCodeExpired          = "CODE_EXPIRED"
	ErrCodeLockedOut        = "LOCKED_OUT"
	ErrCodeMismatch         = "CODE_MISMATCH"
	ErrCodeAlreadyLinked    = "ALREADY_LINKED"
	ErrCodeDeliveryFailed   = "DELIVERY_FAILED"
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"
	ErrCodeInvalidChannel   = "INVALID_CHANNEL"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeRateLimited      = "RATE_LIMITED"
)

// ==============================================
// HELPER FUNCTIONS
// ==============================================

// IsTerminalSessionError checks whether the session requires explicit
// regeneration before another attempt can succeed.
func IsTerminalSessionError(err error) bool {
	return errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrLockedOut)
}

// IsRetryable checks if the failed operation can be safely retried
// without side effects.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrDeliveryFailed)
}
