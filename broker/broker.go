// Package broker defines the Client interface for the Algolab brokerage and
// its two implementations: LiveClient, which talks to the REST API, and
// SimulatedClient, which serves fixture data with randomized latency.
//
// A client walks the login state machine
//
//	UNAUTHENTICATED --Login--> PENDING_SMS --VerifyCode--> AUTHENTICATED
//
// and holds the resulting auth hash privately. Clients are cheap and meant to
// be built per request; the rate gate they share is passed in.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ozkandogan90-glitch/algolab-bridge-server/crypto"
	"github.com/ozkandogan90-glitch/algolab-bridge-server/ratelimit"
)

// Mode selects the client implementation.
type Mode string

const (
	ModeLive      Mode = "live"
	ModeSimulated Mode = "simulated"
)

// Client is the authenticated call surface of the broker. Both modes
// implement it identically in shape.
type Client interface {
	Mode() Mode

	// Login starts the two-phase login and triggers an SMS code.
	Login(ctx context.Context, username, password string) (LoginResult, error)
	// VerifyCode completes login with the SMS code.
	VerifyCode(ctx context.Context, tempToken, smsCode string) (AuthResult, error)
	// RefreshSession extends the broker-side lifetime of the held hash.
	RefreshSession(ctx context.Context) error

	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, orderID, subaccount string) error
	ModifyOrder(ctx context.Context, req ModifyOrderRequest) error

	GetPositions(ctx context.Context, subaccount string) ([]Position, error)
	GetCashBalances(ctx context.Context, subaccount string) (CashBalances, error)
	GetInstrumentInfo(ctx context.Context, symbol string) (Instrument, error)
	GetSubaccounts(ctx context.Context) ([]Subaccount, error)

	// Credentials returns the held auth hash and token.
	Credentials() (authHash, authToken string)
	// Restore installs a previously obtained hash and token, moving the
	// client straight to AUTHENTICATED.
	Restore(authHash, authToken string)
	Close() error
}

// Defaults for Config.
const (
	DefaultBaseURL     = "https://www.algolab.com.tr"
	DefaultHostname    = "https://www.algolab.com.tr"
	DefaultTimeout     = 30 * time.Second
	DefaultSuccessRate = 0.95
	DefaultMinLatency  = 100 * time.Millisecond
	DefaultMaxLatency  = 500 * time.Millisecond
)

// Config selects and parameterizes a client.
type Config struct {
	Mode     Mode
	APIKey   string
	BaseURL  string
	Hostname string
	Timeout  time.Duration

	SuccessRate float64
	MinLatency  time.Duration
	MaxLatency  time.Duration
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeSimulated
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Hostname == "" {
		c.Hostname = DefaultHostname
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MinLatency <= 0 && c.MaxLatency <= 0 {
		c.MinLatency, c.MaxLatency = DefaultMinLatency, DefaultMaxLatency
	}
	if c.MaxLatency < c.MinLatency {
		c.MaxLatency = c.MinLatency
	}
}

// Option configures optional client dependencies.
type Option func(*deps)

type deps struct {
	gate   *ratelimit.Gate
	doer   Doer
	logger zerolog.Logger
	rand   Rand
	sleep  func(ctx context.Context, d time.Duration) error
}

// WithGate routes every call through gate.
func WithGate(g *ratelimit.Gate) Option {
	return func(d *deps) { d.gate = g }
}

// WithDoer replaces the HTTP transport of a live client.
func WithDoer(doer Doer) Option {
	return func(d *deps) { d.doer = doer }
}

// WithLogger attaches a logger.
func WithLogger(l zerolog.Logger) Option {
	return func(d *deps) { d.logger = l }
}

// WithRand replaces the random source of a simulated client.
func WithRand(r Rand) Option {
	return func(d *deps) { d.rand = r }
}

// WithSleep replaces the latency sleep of a simulated client.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(d *deps) { d.sleep = fn }
}

func newDeps(opts []Option) deps {
	d := deps{logger: zerolog.Nop(), sleep: sleepContext}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// New parses cfg.APIKey and builds the client for cfg.Mode. A malformed
// bundle fails here with a *crypto.ConfigError in either mode.
func New(cfg Config, opts ...Option) (Client, error) {
	cfg.applyDefaults()
	cred, err := crypto.ParseCredential(cfg.APIKey)
	if err != nil {
		return nil, err
	}
	signer := crypto.NewSigner(cred, cfg.Hostname)
	switch cfg.Mode {
	case ModeLive:
		return NewLiveClient(signer, cfg, opts...), nil
	case ModeSimulated:
		return NewSimulatedClient(signer, cfg, opts...), nil
	default:
		cred.Destroy()
		return nil, fmt.Errorf("unknown broker mode %q", cfg.Mode)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
