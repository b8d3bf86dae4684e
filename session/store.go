package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ozkandogan90-glitch/algolab-bridge-server/storage"
)

const (
	// DefaultTTL is the lifetime of a fresh session.
	DefaultTTL = time.Hour
	// DefaultKeyPrefix namespaces session records in the KV store.
	DefaultKeyPrefix = "algolab_session:"
	// MinTTL is the floor applied when an update keeps the remaining TTL.
	MinTTL = 60 * time.Second
)

// Store is a TTL-bounded session registry over a storage.KV. It keeps no
// in-process state; every method is a direct round trip to the KV.
type Store struct {
	kv     storage.KV
	ttl    time.Duration
	prefix string
	now    func() time.Time
	newID  func() string
	logger zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithIDGenerator replaces the random UUIDv4 generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// WithLogger attaches a logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore returns a Store persisting into kv.
func NewStore(kv storage.KV, opts ...Option) *Store {
	s := &Store{
		kv:     kv,
		ttl:    DefaultTTL,
		prefix: DefaultKeyPrefix,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the configured session lifetime.
func (s *Store) TTL() time.Duration { return s.ttl }

func (s *Store) key(id string) string { return s.prefix + id }

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func (s *Store) put(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := s.kv.Set(ctx, s.key(sess.ID), data, ttl); err != nil {
		return unavailable("saving session", err)
	}
	return nil
}

// Create persists a new session with a fresh id and a native expiry of
// exactly the configured TTL.
func (s *Store) Create(ctx context.Context, apiKey, authHash, authToken string) (*Session, error) {
	if authHash == "" {
		return nil, ErrMissingHash
	}
	now := s.now()
	sess := &Session{
		ID:        s.newID(),
		APIKey:    apiKey,
		AuthHash:  authHash,
		AuthToken: authToken,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.put(ctx, sess, s.ttl); err != nil {
		return nil, err
	}
	s.logger.Debug().Str("session_id", sess.ID).Time("expires_at", sess.ExpiresAt).Msg("session created")
	return sess, nil
}

// Get loads a session. A record that fails to decode is deleted and reported
// as ErrNotFound; a record past its expires_at is deleted and reported as
// ErrExpired.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.kv.Get(ctx, s.key(id))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, ErrNotFound
	case errors.Is(err, storage.ErrCorrupt):
		s.evict(ctx, id, "corrupt")
		return nil, ErrNotFound
	case err != nil:
		return nil, unavailable("loading session", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil || sess.ID == "" {
		s.evict(ctx, id, "corrupt")
		return nil, ErrNotFound
	}
	if sess.Expired(s.now()) {
		s.evict(ctx, id, "expired")
		return nil, ErrExpired
	}
	return &sess, nil
}

func (s *Store) evict(ctx context.Context, id, reason string) {
	if _, err := s.kv.Delete(ctx, s.key(id)); err != nil {
		s.logger.Warn().Err(err).Str("session_id", id).Str("reason", reason).Msg("failed to evict session")
		return
	}
	s.logger.Info().Str("session_id", id).Str("reason", reason).Msg("session evicted")
}

// Update merges p into the session and stamps LastRefreshedAt. With
// extendTTL the native expiry and ExpiresAt are reset to a full TTL;
// otherwise the remaining native TTL is kept, floored at MinTTL.
func (s *Store) Update(ctx context.Context, id string, p Patch, extendTTL bool) (*Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.AuthHash != nil && *p.AuthHash != "" {
		sess.AuthHash = *p.AuthHash
	}
	if p.AuthToken != nil && *p.AuthToken != "" {
		sess.AuthToken = *p.AuthToken
	}
	now := s.now()
	sess.LastRefreshedAt = &now

	ttl := s.ttl
	if extendTTL {
		sess.ExpiresAt = now.Add(s.ttl)
	} else {
		remaining, err := s.kv.TTL(ctx, s.key(id))
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil, ErrNotFound
		case errors.Is(err, storage.ErrNoExpiry):
			remaining = 0
		case err != nil:
			return nil, unavailable("reading session ttl", err)
		}
		ttl = max(remaining, MinTTL)
	}

	if err := s.put(ctx, sess, ttl); err != nil {
		return nil, err
	}
	return sess, nil
}

// Delete removes a session and reports whether it existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	existed, err := s.kv.Delete(ctx, s.key(id))
	if err != nil {
		return false, unavailable("deleting session", err)
	}
	return existed, nil
}

// TTLRemaining returns the native expiry left on a session record.
// ErrNotFound covers both a missing record and one without an expiry.
func (s *Store) TTLRemaining(ctx context.Context, id string) (time.Duration, error) {
	ttl, err := s.kv.TTL(ctx, s.key(id))
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrNoExpiry):
		return 0, ErrNotFound
	case err != nil:
		return 0, unavailable("reading session ttl", err)
	}
	return ttl, nil
}

// List returns the ids of all live sessions.
func (s *Store) List(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx, s.prefix)
	if err != nil {
		return nil, unavailable("listing sessions", err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, s.prefix))
	}
	return ids, nil
}

// HealthCheck pings the backing store. It never returns an error; callers
// treat the store as best-effort.
func (s *Store) HealthCheck(ctx context.Context) bool {
	if err := s.kv.Ping(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("session store health check failed")
		return false
	}
	return true
}

// Close releases the backing store.
func (s *Store) Close() error {
	return s.kv.Close()
}
