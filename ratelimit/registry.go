package ratelimit

import (
	"crypto/sha256"
	"sync"
	"time"

	"github.com/ozkandogan90-glitch/algolab-bridge-server/internal/util"
)

// Registry hands out one Gate per credential so every request using the
// same API key shares a single spacing decision. Gates are keyed by the
// SHA-256 of the credential, not the credential itself.
type Registry struct {
	mu          sync.Mutex
	minInterval time.Duration
	opts        []Option
	gates       map[string]*Gate
}

// NewRegistry returns a Registry whose gates use minInterval and opts.
func NewRegistry(minInterval time.Duration, opts ...Option) *Registry {
	return &Registry{
		minInterval: minInterval,
		opts:        opts,
		gates:       make(map[string]*Gate),
	}
}

// For returns the gate for credential, creating it on first use.
func (r *Registry) For(credential string) *Gate {
	sum := sha256.Sum256([]byte(credential))
	id := util.HexEncode(sum[:])

	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gates[id]
	if !ok {
		g = NewGate(r.minInterval, r.opts...)
		r.gates[id] = g
	}
	return g
}

// Len returns the number of gates created so far.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.gates)
}

// MinInterval returns the spacing every gate of r enforces.
func (r *Registry) MinInterval() time.Duration {
	if r.minInterval <= 0 {
		return DefaultInterval
	}
	return r.minInterval
}
