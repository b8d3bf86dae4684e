// Package session persists authenticated broker sessions in a TTL key-value
// store so that any bridge instance can serve a caller holding a session id.
package session

import (
	"time"
)

// Session is the persisted state of one two-phase broker login.
type Session struct {
	ID              string     `json:"session_id"`
	APIKey          string     `json:"api_key"`
	AuthHash        string     `json:"hash"`
	AuthToken       string     `json:"token,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       time.Time  `json:"expires_at"`
	LastRefreshedAt *time.Time `json:"last_refreshed_at,omitempty"`
}

// Expired reports whether now is past ExpiresAt.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Patch carries the fields Update may change. Nil or empty fields are left
// untouched.
type Patch struct {
	AuthHash  *string
	AuthToken *string
}
