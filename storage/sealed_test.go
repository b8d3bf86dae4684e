package storage_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ozkandogan90-glitch/algolab-bridge-server/storage"
	"github.com/ozkandogan90-glitch/algolab-bridge-server/storage/memory"
	"github.com/ozkandogan90-glitch/algolab-bridge-server/storage/storagetest"
)

func TestSealedKV(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) (storage.KV, func(time.Duration)) {
		clock := storagetest.NewClock()
		kv, err := storage.Sealed(memory.New(memory.WithClock(clock.Now)), []byte("seal-secret"))
		if err != nil {
			t.Fatalf("Sealed failed: %v", err)
		}
		return kv, clock.Advance
	})
}

func TestSealedKV_CiphertextAtRest(t *testing.T) {
	ctx := context.Background()
	inner := memory.New()
	kv, err := storage.Sealed(inner, []byte("seal-secret"))
	if err != nil {
		t.Fatalf("Sealed failed: %v", err)
	}

	plain := []byte(`{"auth_hash":"secret-hash"}`)
	if err := kv.Set(ctx, "algolab_session:1", plain, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	raw, _ := inner.Get(ctx, "algolab_session:1")
	if bytes.Contains(raw, []byte("secret-hash")) {
		t.Error("plaintext leaked into the backing store")
	}

	t.Run("MovedValueFailsToOpen", func(t *testing.T) {
		inner.Set(ctx, "algolab_session:2", raw, time.Minute)
		if _, err := kv.Get(ctx, "algolab_session:2"); !errors.Is(err, storage.ErrCorrupt) {
			t.Errorf("expected ErrCorrupt for value under a different key, got %v", err)
		}
	})

	t.Run("GarbageIsCorrupt", func(t *testing.T) {
		inner.Set(ctx, "algolab_session:3", []byte("not json"), time.Minute)
		if _, err := kv.Get(ctx, "algolab_session:3"); !errors.Is(err, storage.ErrCorrupt) {
			t.Errorf("expected ErrCorrupt, got %v", err)
		}
	})

	t.Run("OtherSecretCannotRead", func(t *testing.T) {
		other, _ := storage.Sealed(inner, []byte("different-secret"))
		if _, err := other.Get(ctx, "algolab_session:1"); !errors.Is(err, storage.ErrCorrupt) {
			t.Errorf("expected ErrCorrupt with the wrong secret, got %v", err)
		}
	})
}

func TestSealed_EmptySecret(t *testing.T) {
	if _, err := storage.Sealed(memory.New(), nil); err == nil {
		t.Error("expected error for empty secret")
	}
}
