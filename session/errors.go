package session

import "errors"

var (
	// ErrNotFound is returned when no live record exists for a session id.
	ErrNotFound = errors.New("session not found")
	// ErrExpired is returned when a record outlived its expires_at; the
	// record is deleted as a side effect.
	ErrExpired = errors.New("session expired")
	// ErrUnavailable wraps failures of the backing store.
	ErrUnavailable = errors.New("session store unavailable")
	// ErrMissingHash is returned by Create when no auth hash is supplied.
	ErrMissingHash = errors.New("session requires an auth hash")
)
