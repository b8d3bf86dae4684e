package memory

import (
	"context"
	"testing"
	"time"

	"github.com/ozkandogan90-glitch/algolab-bridge-server/storage"
	"github.com/ozkandogan90-glitch/algolab-bridge-server/storage/storagetest"
)

func TestMemoryStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) (storage.KV, func(time.Duration)) {
		clock := storagetest.NewClock()
		return New(WithClock(clock.Now)), clock.Advance
	})
}

func TestMemoryStore_LazyEviction(t *testing.T) {
	clock := storagetest.NewClock()
	s := New(WithClock(clock.Now))
	ctx := context.Background()

	s.Set(ctx, "k1", []byte("v"), time.Second)
	clock.Advance(2 * time.Second)
	if s.Len() != 1 {
		t.Fatalf("expected entry to linger until read, got %d", s.Len())
	}
	s.Get(ctx, "k1")
	if s.Len() != 0 {
		t.Errorf("expected expired entry to be evicted on read, got %d", s.Len())
	}
}

func TestMemoryStore_DeleteExpiredReportsFalse(t *testing.T) {
	clock := storagetest.NewClock()
	s := New(WithClock(clock.Now))
	ctx := context.Background()

	s.Set(ctx, "k1", []byte("v"), time.Second)
	clock.Advance(time.Minute)
	existed, err := s.Delete(ctx, "k1")
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if existed {
		t.Error("expired key should not count as existing")
	}
}
