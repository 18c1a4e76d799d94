package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a session id is unknown.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed is returned when appending to a closed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrBusy is returned when a session already has a chat message in flight.
	ErrBusy = errors.New("session busy")
	// ErrBreakerOpen is returned by the pipeline while the breaker rejects calls.
	ErrBreakerOpen = errors.New("circuit breaker open")
)

// AuthError is returned when a connection cannot be authenticated.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth failed: %s: %v", e.Reason, e.Err)
	}
	return "auth failed: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// RateLimitExceeded is returned when an identity exceeds its admission budget.
type RateLimitExceeded struct {
	Key               string
	RetryAfterSeconds int
}

func (e *RateLimitExceeded) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: retry after %ds", e.Key, e.RetryAfterSeconds)
}

// ValidationError describes a malformed client input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// ExternalServiceError wraps a failure of an external dependency. It never
// reaches the user; callers map it to a fallback.
type ExternalServiceError struct {
	Op  string
	Err error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("external service %s: %v", e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// IsAuth reports whether err is an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
