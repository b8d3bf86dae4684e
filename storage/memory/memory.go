// Package memory provides a thread-safe in-memory implementation of storage.KV.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ozkandogan90-glitch/algolab-bridge-server/storage"
)

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Store is a thread-safe in-memory implementation of storage.KV.
// Suitable for testing, demos, and single-process deployments.
type Store struct {
	mu   sync.RWMutex
	data map[string]entry
	now  func() time.Time
}

var _ storage.KV = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a new empty in-memory Store.
func New(opts ...Option) *Store {
	s := &Store{data: make(map[string]entry), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = e
	return nil
}

// lookup returns the live entry for key, evicting it if it has expired.
func (s *Store) lookup(key string) (entry, bool) {
	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return entry{}, false
	}
	if e.expired(s.now()) {
		s.mu.Lock()
		if cur, ok := s.data[key]; ok && cur.expired(s.now()) {
			delete(s.data, key)
		}
		s.mu.Unlock()
		return entry{}, false
	}
	return e, true
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := s.lookup(key)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok {
		return false, nil
	}
	delete(s.data, key)
	return !e.expired(s.now()), nil
}

func (s *Store) TTL(_ context.Context, key string) (time.Duration, error) {
	e, ok := s.lookup(key)
	if !ok {
		return 0, storage.ErrNotFound
	}
	if e.expiresAt.IsZero() {
		return 0, storage.ErrNoExpiry
	}
	return e.expiresAt.Sub(s.now()), nil
}

func (s *Store) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	var keys []string
	for k, e := range s.data {
		if strings.HasPrefix(k, prefix) && !e.expired(now) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// Len returns the number of stored entries, expired ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
