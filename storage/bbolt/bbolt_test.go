package bbolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.etcd.io/bbolt"

	"github.com/ozkandogan90-glitch/algolab-bridge-server/storage"
	"github.com/ozkandogan90-glitch/algolab-bridge-server/storage/storagetest"
)

func newTestStore(t *testing.T, clock *storagetest.Clock) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.db")
	s, err := NewFromFile(path, &bbolt.Options{Timeout: time.Second}, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("could not open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBBoltStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) (storage.KV, func(time.Duration)) {
		clock := storagetest.NewClock()
		return newTestStore(t, clock), clock.Advance
	})
}

func TestBBoltStore_Sweep(t *testing.T) {
	clock := storagetest.NewClock()
	s := newTestStore(t, clock)
	ctx := context.Background()

	s.Set(ctx, "a", []byte("1"), time.Second)
	s.Set(ctx, "b", []byte("2"), time.Second)
	s.Set(ctx, "c", []byte("3"), time.Hour)
	clock.Advance(time.Minute)

	n, err := s.Sweep()
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 keys swept, got %d", n)
	}
	n, _ = s.Sweep()
	if n != 0 {
		t.Errorf("second sweep should be a no-op, got %d", n)
	}
}

func TestBBoltStore_Reopen(t *testing.T) {
	clock := storagetest.NewClock()
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	s, err := NewFromFile(path, nil, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := s.Set(ctx, "k", []byte("v"), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	s.Close()

	s, err = NewFromFile(path, nil, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()
	got, err := s.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Errorf("expected persisted value, got %q, %v", got, err)
	}
}

func TestBBoltStore_CorruptValue(t *testing.T) {
	clock := storagetest.NewClock()
	s := newTestStore(t, clock)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte("bad"), []byte{1, 2})
	})
	if err != nil {
		t.Fatalf("seeding corrupt value: %v", err)
	}
	if _, err := s.Get(context.Background(), "bad"); !errors.Is(err, storage.ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}
}
