package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound = errors.New("resource not found")
	ErrConflict = errors.New("resource already exists")

	ErrInvalidCredentials         = errors.New("invalid credentials")
	ErrUnauthorized               = errors.New("unauthorized")
	ErrForbidden                  = errors.New("forbidden")
	ErrInvalidRefreshToken        = errors.New("invalid refresh token")
	ErrInvalidOrExpiredResetToken = errors.New("invalid or expired reset token")
	ErrTooManyRequests            = errors.New("too many requests")
	ErrValidation                 = errors.New("validation failed")
	ErrStoreUnavailable           = errors.New("credential store unavailable")
)

// RateLimitError is returned when a fixed-window limit is exceeded.
// errors.Is(err, ErrTooManyRequests) holds for it.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many requests, retry after %ds", e.RetryAfterSeconds())
}

func (e *RateLimitError) Unwrap() error {
	return ErrTooManyRequests
}

// RetryAfterSeconds rounds the retry delay up to whole seconds, never below 1
func (e *RateLimitError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// ValidationError describes malformed input. The message is safe to show to clients.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError builds a ValidationError for a single field
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
