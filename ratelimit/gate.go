// Package ratelimit provides the outbound call gate that keeps consecutive
// broker requests at least a minimum interval apart.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultInterval is the broker's minimum spacing between call starts.
	DefaultInterval = 5 * time.Second
	// DefaultMargin is added to every computed wait to absorb timer jitter.
	DefaultMargin = 100 * time.Millisecond
)

// Clock abstracts time so tests can drive the gate deterministically.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time                         { return time.Now() }
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Gate serializes the decision to start a broker call. The mutex is held
// across the wait, so concurrent acquirers queue behind each other and no two
// starts are ever closer than the minimum interval. The guarded calls
// themselves run after Acquire returns and may overlap in flight.
type Gate struct {
	mu          sync.Mutex
	minInterval time.Duration
	margin      time.Duration
	clock       Clock
	logger      zerolog.Logger

	last     time.Time
	snapshot atomic.Pointer[time.Time]
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(g *Gate) { g.clock = c }
}

// WithMargin overrides DefaultMargin.
func WithMargin(d time.Duration) Option {
	return func(g *Gate) {
		if d >= 0 {
			g.margin = d
		}
	}
}

// WithLogger attaches a logger for wait diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// NewGate returns a gate enforcing minInterval between call starts.
// A non-positive interval selects DefaultInterval.
func NewGate(minInterval time.Duration, opts ...Option) *Gate {
	if minInterval <= 0 {
		minInterval = DefaultInterval
	}
	g := &Gate{
		minInterval: minInterval,
		margin:      DefaultMargin,
		clock:       SystemClock{},
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Acquire blocks until the caller may start a broker call. The first
// acquisition never waits. If ctx is cancelled while waiting, Acquire
// returns ctx.Err() and the gate's timestamp is left unchanged.
func (g *Gate) Acquire(ctx context.Context) error {
	_, err := g.acquire(ctx)
	return err
}

func (g *Gate) acquire(ctx context.Context) (time.Time, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}

	if !g.last.IsZero() {
		elapsed := g.clock.Now().Sub(g.last)
		if elapsed < g.minInterval {
			wait := g.minInterval - elapsed + g.margin
			g.logger.Debug().Dur("wait", wait).Msg("rate gate: waiting before broker call")
			select {
			case <-g.clock.After(wait):
			case <-ctx.Done():
				return time.Time{}, ctx.Err()
			}
		}
	}

	now := g.clock.Now()
	g.last = now
	g.snapshot.Store(&now)
	return now, nil
}

// LastAcquired returns the start time of the most recent acquisition, or the
// zero time if the gate has never been acquired. It does not block behind a
// waiting acquirer.
func (g *Gate) LastAcquired() time.Time {
	if t := g.snapshot.Load(); t != nil {
		return *t
	}
	return time.Time{}
}

// MinInterval returns the configured spacing.
func (g *Gate) MinInterval() time.Duration { return g.minInterval }
