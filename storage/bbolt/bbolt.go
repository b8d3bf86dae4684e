// Package bbolt provides a BBolt-backed storage.KV for single-node
// deployments that want sessions to survive a restart without Redis.
package bbolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.etcd.io/bbolt"

	"github.com/ozkandogan90-glitch/algolab-bridge-server/storage"
)

var bucketName = []byte("kv")

// Each value is stored as an 8-byte big-endian expiry (unix nanoseconds,
// zero for none) followed by the payload.
const headerLen = 8

// Store implements storage.KV backed by a BBolt database. Expired keys are
// removed lazily on access and by Sweep.
type Store struct {
	db     *bbolt.DB
	now    func() time.Time
	logger zerolog.Logger
}

var _ storage.KV = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger attaches a logger used by the background sweeper.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New returns a Store backed by the given BBolt database.
func New(db *bbolt.DB, opts ...Option) (*Store, error) {
	s := &Store{db: db, now: time.Now, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating bucket: %w", err)
	}
	return s, nil
}

// NewFromFile opens a BBolt database at the given path and returns a new Store.
func NewFromFile(path string, options *bbolt.Options, opts ...Option) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	s, err := New(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func encode(value []byte, expiresAt time.Time) []byte {
	out := make([]byte, headerLen+len(value))
	if !expiresAt.IsZero() {
		binary.BigEndian.PutUint64(out, uint64(expiresAt.UnixNano()))
	}
	copy(out[headerLen:], value)
	return out
}

func decode(raw []byte) (value []byte, expiresAt time.Time, err error) {
	if len(raw) < headerLen {
		return nil, time.Time{}, storage.ErrCorrupt
	}
	if n := binary.BigEndian.Uint64(raw); n != 0 {
		expiresAt = time.Unix(0, int64(n))
	}
	return raw[headerLen:], expiresAt, nil
}

func (s *Store) expired(expiresAt time.Time) bool {
	return !expiresAt.IsZero() && !s.now().Before(expiresAt)
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), encode(value, expiresAt))
	})
}

// read loads key and evicts it when expired. The returned value is a copy.
func (s *Store) read(key string) ([]byte, time.Time, error) {
	var (
		value     []byte
		expiresAt time.Time
		stale     bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketName).Get([]byte(key))
		if raw == nil {
			return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
		}
		v, exp, err := decode(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if s.expired(exp) {
			stale = true
			return nil
		}
		value = append([]byte(nil), v...)
		expiresAt = exp
		return nil
	})
	if err != nil {
		return nil, time.Time{}, err
	}
	if stale {
		if _, err := s.Delete(context.Background(), key); err != nil {
			return nil, time.Time{}, err
		}
		return nil, time.Time{}, fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	return value, expiresAt, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	value, _, err := s.read(key)
	return value, err
}

func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	var existed bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		raw := b.Get([]byte(key))
		if raw == nil {
			return nil
		}
		if _, exp, err := decode(raw); err != nil || !s.expired(exp) {
			existed = true
		}
		return b.Delete([]byte(key))
	})
	return existed, err
}

func (s *Store) TTL(_ context.Context, key string) (time.Duration, error) {
	_, expiresAt, err := s.read(key)
	if err != nil {
		return 0, err
	}
	if expiresAt.IsZero() {
		return 0, storage.ErrNoExpiry
	}
	return expiresAt.Sub(s.now()), nil
}

func (s *Store) Keys(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	p := []byte(prefix)
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			if _, exp, err := decode(v); err == nil && s.expired(exp) {
				continue
			}
			keys = append(keys, string(k))
		}
		return nil
	})
	return keys, err
}

// Ping verifies the database is open and readable.
func (s *Store) Ping(context.Context) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketName) == nil {
			return fmt.Errorf("bucket %s missing", bucketName)
		}
		return nil
	})
}

// Sweep deletes every expired key and returns how many were removed.
func (s *Store) Sweep() (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		var stale [][]byte
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if _, exp, err := decode(v); err == nil && s.expired(exp) {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

// StartSweeper runs Sweep every interval until ctx is cancelled.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.Sweep()
				if err != nil {
					s.logger.Error().Err(err).Msg("bbolt sweep failed")
					continue
				}
				if n > 0 {
					s.logger.Debug().Int("removed", n).Msg("bbolt sweep")
				}
			}
		}
	}()
}
