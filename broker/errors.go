package broker

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotAuthenticated is returned by authenticated calls made before a
	// hash is held. The caller must restart the login.
	ErrNotAuthenticated = errors.New("not authenticated: auth hash is missing")
	// ErrSessionRejected is returned when the broker refuses to refresh the
	// held hash, meaning the session is dead upstream.
	ErrSessionRejected = errors.New("broker rejected the session")
	// ErrInvalidRequest wraps client-side validation failures.
	ErrInvalidRequest = errors.New("invalid request")
)

// AuthError is a broker refusal of Login or VerifyCode. It is a normal,
// user-correctable outcome.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return "authentication failed"
	}
	return "authentication failed: " + e.Message
}

// RateLimitedError is an HTTP 429 from the broker.
type RateLimitedError struct {
	RetryAfter time.Duration
	Body       string
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("broker rate limit exceeded; retry after %s", e.RetryAfter)
	}
	return "broker rate limit exceeded"
}

// APIError is any other non-200 reply, or a 200 whose body is not a broker
// envelope.
type APIError struct {
	Status int
	Body   string
	Err    error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker api error (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("broker api error (status %d)", e.Status)
}

func (e *APIError) Unwrap() error { return e.Err }

// Temporary reports whether the status is a 5xx.
func (e *APIError) Temporary() bool {
	return e.Status >= 500 && e.Status <= 599
}

// LogicError is a 200 reply with success=false.
type LogicError struct {
	Message string
}

func (e *LogicError) Error() string {
	return "broker refused request: " + e.Message
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
