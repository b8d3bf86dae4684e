package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ozkandogan90-glitch/algolab-bridge-server/internal/util"
)

var (
	sealSalt = []byte("algolab-bridge/kv-seal")
	sealInfo = []byte("aes256gcm/v1")
)

// SealedKV wraps a KV so that every value is stored as a JSON Envelope. The
// key name is bound as AAD, so a value copied under another key fails to open.
type SealedKV struct {
	KV
	key []byte
}

var _ KV = (*SealedKV)(nil)

// Sealed derives an AES-256 key from secret with HKDF-SHA256 and returns kv
// wrapped with at-rest encryption.
func Sealed(kv KV, secret []byte) (*SealedKV, error) {
	if len(secret) == 0 {
		return nil, errors.New("seal secret must not be empty")
	}
	key, err := util.HKDF(secret, sealSalt, sealInfo)
	if err != nil {
		return nil, fmt.Errorf("deriving seal key: %w", err)
	}
	return &SealedKV{KV: kv, key: key}, nil
}

func (s *SealedKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	env, err := SealRecord(s.key, value, []byte(key))
	if err != nil {
		return fmt.Errorf("sealing %s: %w", key, err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.KV.Set(ctx, key, data, ttl)
}

func (s *SealedKV) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.KV.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", key, ErrCorrupt, err)
	}
	plain, err := OpenRecord(s.key, &env, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", key, ErrCorrupt, err)
	}
	return plain, nil
}

// Close wipes the derived key and closes the wrapped store.
func (s *SealedKV) Close() error {
	util.WipeBytes(s.key)
	return s.KV.Close()
}
