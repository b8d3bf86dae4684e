package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ozkandogan90-glitch/algolab-bridge-server/storage"
	"github.com/ozkandogan90-glitch/algolab-bridge-server/storage/memory"
	redisstore "github.com/ozkandogan90-glitch/algolab-bridge-server/storage/redis"
	"github.com/ozkandogan90-glitch/algolab-bridge-server/storage/storagetest"
)

const testAPIKey = "APIKEY-04YW0b9Cb8S0MrgBw/Y4iPYi2hjIidW7qj4hrhBhwZg="

func newTestStore(t *testing.T, opts ...Option) (*Store, *memory.Store, *storagetest.Clock) {
	t.Helper()
	clock := storagetest.NewClock()
	kv := memory.New(memory.WithClock(clock.Now))
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewStore(kv, opts...), kv, clock
}

func strPtr(s string) *string { return &s }

func TestStore_CreateGet(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, testAPIKey, "hash-1", "token-1")
	require.NoError(t, err)
	_, err = uuid.Parse(created.ID)
	assert.NoError(t, err, "session id should be a UUID")
	assert.Equal(t, DefaultTTL, created.ExpiresAt.Sub(created.CreatedAt))
	assert.Nil(t, created.LastRefreshedAt)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, testAPIKey, got.APIKey)
	assert.Equal(t, "hash-1", got.AuthHash)
	assert.Equal(t, "token-1", got.AuthToken)
	assert.True(t, created.ExpiresAt.Equal(got.ExpiresAt))

	ttl, err := s.TTLRemaining(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, ttl)
}

func TestStore_CreateUniqueIDs(t *testing.T) {
	s, _, _ := newTestStore(t)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		sess, err := s.Create(context.Background(), testAPIKey, "h", "")
		require.NoError(t, err)
		assert.False(t, seen[sess.ID], "id reused: %s", sess.ID)
		seen[sess.ID] = true
	}
}

func TestStore_CreateRequiresHash(t *testing.T) {
	s, kv, _ := newTestStore(t)
	_, err := s.Create(context.Background(), testAPIKey, "", "token")
	assert.ErrorIs(t, err, ErrMissingHash)
	assert.Equal(t, 0, kv.Len())
}

func TestStore_GetMissing(t *testing.T) {
	s, _, _ := newTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ExpiresWithNativeTTL(t *testing.T) {
	s, _, clock := newTestStore(t, WithTTL(10*time.Minute))
	ctx := context.Background()

	sess, err := s.Create(ctx, testAPIKey, "h", "")
	require.NoError(t, err)
	clock.Advance(10*time.Minute + time.Second)

	_, err = s.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_GetPastExpiresAtEvicts(t *testing.T) {
	s, kv, clock := newTestStore(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, testAPIKey, "h", "")
	require.NoError(t, err)

	// A non-extending update near the end of life floors the native TTL
	// at MinTTL, so the record outlives its expires_at.
	clock.Advance(DefaultTTL - 10*time.Second)
	_, err = s.Update(ctx, sess.ID, Patch{}, false)
	require.NoError(t, err)
	clock.Advance(30 * time.Second)

	_, err = s.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrExpired)
	_, err = kv.Get(ctx, DefaultKeyPrefix+sess.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound, "expired record should be deleted on read")
}

func TestStore_UpdateExtend(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, testAPIKey, "hash-1", "token-1")
	require.NoError(t, err)
	clock.Advance(50 * time.Minute)

	updated, err := s.Update(ctx, sess.ID, Patch{AuthHash: strPtr("hash-2")}, true)
	require.NoError(t, err)
	assert.Equal(t, "hash-2", updated.AuthHash)
	assert.Equal(t, "token-1", updated.AuthToken, "unset patch fields are preserved")
	require.NotNil(t, updated.LastRefreshedAt)
	assert.True(t, updated.LastRefreshedAt.Equal(clock.Now()))
	assert.True(t, updated.ExpiresAt.Equal(clock.Now().Add(DefaultTTL)))
	assert.True(t, updated.CreatedAt.Equal(sess.CreatedAt))

	ttl, err := s.TTLRemaining(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, ttl)

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "hash-2", got.AuthHash)
}

func TestStore_UpdateKeepsRemainingTTL(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, testAPIKey, "h", "")
	require.NoError(t, err)
	clock.Advance(DefaultTTL - 10*time.Minute)

	updated, err := s.Update(ctx, sess.ID, Patch{AuthToken: strPtr("t2")}, false)
	require.NoError(t, err)
	assert.True(t, updated.ExpiresAt.Equal(sess.ExpiresAt), "expires_at unchanged without extension")

	ttl, err := s.TTLRemaining(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, ttl)
}

func TestStore_UpdateFloorsShortTTL(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, testAPIKey, "h", "")
	require.NoError(t, err)
	clock.Advance(DefaultTTL - 10*time.Second)

	_, err = s.Update(ctx, sess.ID, Patch{}, false)
	require.NoError(t, err)

	ttl, err := s.TTLRemaining(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, MinTTL, ttl, "not reset to the full TTL and not left under the floor")
}

func TestStore_UpdateMissing(t *testing.T) {
	s, _, _ := newTestStore(t)
	_, err := s.Update(context.Background(), "nope", Patch{}, true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_CorruptRecordSelfHeals(t *testing.T) {
	s, kv, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, DefaultKeyPrefix+"bad", []byte("{not json"), time.Hour))
	_, err := s.Get(ctx, "bad")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, kv.Len(), "corrupt record should be deleted")
}

func TestStore_Delete(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, testAPIKey, "h", "")
	require.NoError(t, err)

	existed, err := s.Delete(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.Delete(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, existed)

	existed, err = s.Delete(ctx, "never-existed")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestStore_TTLRemainingMissing(t *testing.T) {
	s, _, _ := newTestStore(t)
	_, err := s.TTLRemaining(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_List(t *testing.T) {
	ids := []string{"a", "b", "c"}
	i := 0
	s, kv, _ := newTestStore(t, WithIDGenerator(func() string {
		id := ids[i]
		i++
		return id
	}))
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, "unrelated:key", []byte("x"), time.Hour))

	for range ids {
		_, err := s.Create(ctx, testAPIKey, "h", "")
		require.NoError(t, err)
	}
	got, err := s.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, got)
}

func TestStore_KeyPrefix(t *testing.T) {
	s, kv, _ := newTestStore(t, WithKeyPrefix("custom:"))
	ctx := context.Background()

	sess, err := s.Create(ctx, testAPIKey, "h", "")
	require.NoError(t, err)
	_, err = kv.Get(ctx, "custom:"+sess.ID)
	assert.NoError(t, err)
}

// failingKV fails every operation.
type failingKV struct{ storage.KV }

var errBackend = errors.New("connection refused")

func (failingKV) Set(context.Context, string, []byte, time.Duration) error { return errBackend }
func (failingKV) Get(context.Context, string) ([]byte, error)              { return nil, errBackend }
func (failingKV) Delete(context.Context, string) (bool, error)             { return false, errBackend }
func (failingKV) TTL(context.Context, string) (time.Duration, error)       { return 0, errBackend }
func (failingKV) Keys(context.Context, string) ([]string, error)           { return nil, errBackend }
func (failingKV) Ping(context.Context) error                               { return errBackend }
func (failingKV) Close() error                                             { return nil }

func TestStore_Unavailable(t *testing.T) {
	s := NewStore(failingKV{})
	ctx := context.Background()

	_, err := s.Create(ctx, testAPIKey, "h", "")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, errBackend)

	_, err = s.Get(ctx, "x")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = s.Delete(ctx, "x")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = s.TTLRemaining(ctx, "x")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = s.List(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.False(t, s.HealthCheck(ctx))
}

func TestStore_HealthCheck(t *testing.T) {
	s, _, _ := newTestStore(t)
	assert.True(t, s.HealthCheck(context.Background()))
}

func TestStore_SealedBackend(t *testing.T) {
	clock := storagetest.NewClock()
	inner := memory.New(memory.WithClock(clock.Now))
	kv, err := storage.Sealed(inner, []byte("seal-secret"))
	require.NoError(t, err)
	s := NewStore(kv, WithClock(clock.Now))
	ctx := context.Background()

	sess, err := s.Create(ctx, testAPIKey, "secret-hash", "")
	require.NoError(t, err)
	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "secret-hash", got.AuthHash)

	raw, err := inner.Get(ctx, DefaultKeyPrefix+sess.ID)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret-hash")

	// Tampered ciphertext is treated like a corrupt record.
	require.NoError(t, inner.Set(ctx, DefaultKeyPrefix+sess.ID, []byte(`{"ver":1}`), time.Hour))
	_, err = s.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, inner.Len())
}

func TestStore_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	kv := redisstore.New(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	s := NewStore(kv, WithTTL(30*time.Minute))
	defer s.Close()
	ctx := context.Background()

	sess, err := s.Create(ctx, testAPIKey, "h", "t")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, mr.TTL(DefaultKeyPrefix+sess.ID))

	mr.FastForward(20 * time.Minute)
	_, err = s.Update(ctx, sess.ID, Patch{}, false)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, mr.TTL(DefaultKeyPrefix+sess.ID))

	_, err = s.Update(ctx, sess.ID, Patch{}, true)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, mr.TTL(DefaultKeyPrefix+sess.ID))

	mr.FastForward(31 * time.Minute)
	_, err = s.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
