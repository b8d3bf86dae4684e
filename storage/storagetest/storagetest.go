// Package storagetest holds a behavioural test suite that every storage.KV
// backend runs against itself.
package storagetest

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/ozkandogan90-glitch/algolab-bridge-server/storage"
)

// Factory returns a fresh, empty store and a function that moves the
// store's notion of time forward.
type Factory func(t *testing.T) (kv storage.KV, advance func(time.Duration))

// Run exercises the storage.KV contract.
func Run(t *testing.T, newKV Factory) {
	ctx := context.Background()

	t.Run("SetGet", func(t *testing.T) {
		kv, _ := newKV(t)
		if err := kv.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		got, err := kv.Get(ctx, "k1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(got, []byte("v1")) {
			t.Errorf("expected v1, got %s", got)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		kv, _ := newKV(t)
		kv.Set(ctx, "k1", []byte("v1"), time.Minute)
		kv.Set(ctx, "k1", []byte("v2"), time.Minute)
		got, err := kv.Get(ctx, "k1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(got, []byte("v2")) {
			t.Errorf("expected v2, got %s", got)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		kv, _ := newKV(t)
		_, err := kv.Get(ctx, "missing")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		kv, _ := newKV(t)
		kv.Set(ctx, "k1", []byte("v1"), time.Minute)
		existed, err := kv.Delete(ctx, "k1")
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if !existed {
			t.Error("expected Delete to report an existing key")
		}
		existed, err = kv.Delete(ctx, "k1")
		if err != nil {
			t.Fatalf("second Delete failed: %v", err)
		}
		if existed {
			t.Error("expected second Delete to report false")
		}
		if _, err := kv.Get(ctx, "k1"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
	})

	t.Run("TTL", func(t *testing.T) {
		kv, _ := newKV(t)
		kv.Set(ctx, "k1", []byte("v1"), 10*time.Second)
		ttl, err := kv.TTL(ctx, "k1")
		if err != nil {
			t.Fatalf("TTL failed: %v", err)
		}
		if ttl <= 0 || ttl > 10*time.Second {
			t.Errorf("expected TTL in (0, 10s], got %v", ttl)
		}
	})

	t.Run("TTLMissing", func(t *testing.T) {
		kv, _ := newKV(t)
		if _, err := kv.TTL(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("NoExpiry", func(t *testing.T) {
		kv, advance := newKV(t)
		kv.Set(ctx, "k1", []byte("v1"), 0)
		if _, err := kv.TTL(ctx, "k1"); !errors.Is(err, storage.ErrNoExpiry) {
			t.Errorf("expected ErrNoExpiry, got %v", err)
		}
		advance(24 * time.Hour)
		if _, err := kv.Get(ctx, "k1"); err != nil {
			t.Errorf("persistent key should survive: %v", err)
		}
	})

	t.Run("Expiry", func(t *testing.T) {
		kv, advance := newKV(t)
		kv.Set(ctx, "short", []byte("v"), 5*time.Second)
		kv.Set(ctx, "long", []byte("v"), time.Minute)
		advance(6 * time.Second)

		if _, err := kv.Get(ctx, "short"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound for expired key, got %v", err)
		}
		if _, err := kv.TTL(ctx, "short"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound TTL for expired key, got %v", err)
		}
		if _, err := kv.Get(ctx, "long"); err != nil {
			t.Errorf("unexpired key should survive: %v", err)
		}
		keys, err := kv.Keys(ctx, "")
		if err != nil {
			t.Fatalf("Keys failed: %v", err)
		}
		for _, k := range keys {
			if k == "short" {
				t.Error("Keys should not list expired keys")
			}
		}
	})

	t.Run("ResetTTL", func(t *testing.T) {
		kv, advance := newKV(t)
		kv.Set(ctx, "k1", []byte("v1"), 10*time.Second)
		advance(8 * time.Second)
		kv.Set(ctx, "k1", []byte("v2"), 10*time.Second)
		advance(8 * time.Second)
		if _, err := kv.Get(ctx, "k1"); err != nil {
			t.Errorf("rewritten key should have a fresh TTL: %v", err)
		}
	})

	t.Run("KeysByPrefix", func(t *testing.T) {
		kv, _ := newKV(t)
		kv.Set(ctx, "sess:1", []byte("a"), time.Minute)
		kv.Set(ctx, "sess:2", []byte("b"), time.Minute)
		kv.Set(ctx, "other:1", []byte("c"), time.Minute)

		keys, err := kv.Keys(ctx, "sess:")
		if err != nil {
			t.Fatalf("Keys failed: %v", err)
		}
		sort.Strings(keys)
		if len(keys) != 2 || keys[0] != "sess:1" || keys[1] != "sess:2" {
			t.Errorf("expected [sess:1 sess:2], got %v", keys)
		}
	})

	t.Run("ReturnedValueIsCopy", func(t *testing.T) {
		kv, _ := newKV(t)
		kv.Set(ctx, "k1", []byte("v1"), time.Minute)
		got, _ := kv.Get(ctx, "k1")
		got[0] = 'X'
		again, _ := kv.Get(ctx, "k1")
		if !bytes.Equal(again, []byte("v1")) {
			t.Errorf("stored value was mutated through Get result: %s", again)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		kv, _ := newKV(t)
		if err := kv.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}

// Clock is a manually advanced time source for backends that take a
// func() time.Time.
type Clock struct {
	now time.Time
}

// NewClock returns a Clock starting at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time          { return c.now }
func (c *Clock) Advance(d time.Duration) { c.now = c.now.Add(d) }
