package broker

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ozkandogan90-glitch/algolab-bridge-server/crypto"
	"github.com/ozkandogan90-glitch/algolab-bridge-server/ratelimit"
)

// FailureCode is the SMS code that always fails verification in simulated
// mode.
const FailureCode = "000000"

// Rand is the randomness a simulated client draws on. *rand.Rand from
// math/rand/v2 satisfies it.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
func (globalRand) IntN(n int) int   { return rand.IntN(n) }

// Compile-time interface check.
var _ Client = (*SimulatedClient)(nil)

// SimulatedClient implements Client without any network traffic. Each call
// sleeps a uniform random latency; Login and VerifyCode fail at the
// configured rate.
type SimulatedClient struct {
	signer      *crypto.Signer
	gate        *ratelimit.Gate
	logger      zerolog.Logger
	rand        Rand
	sleep       func(ctx context.Context, d time.Duration) error
	successRate float64
	minLatency  time.Duration
	maxLatency  time.Duration

	mu        sync.Mutex
	tempToken string
	authHash  string
	authToken string
}

// NewSimulatedClient returns a simulated client. cfg.SuccessRate is used as
// given, so a zero rate fails every login.
func NewSimulatedClient(signer *crypto.Signer, cfg Config, opts ...Option) *SimulatedClient {
	cfg.applyDefaults()
	dp := newDeps(opts)
	if dp.rand == nil {
		dp.rand = globalRand{}
	}
	return &SimulatedClient{
		signer:      signer,
		gate:        dp.gate,
		logger:      dp.logger,
		rand:        dp.rand,
		sleep:       dp.sleep,
		successRate: cfg.SuccessRate,
		minLatency:  cfg.MinLatency,
		maxLatency:  cfg.MaxLatency,
	}
}

func (c *SimulatedClient) Mode() Mode { return ModeSimulated }

// begin applies the gate and the simulated latency.
func (c *SimulatedClient) begin(ctx context.Context, endpoint string) error {
	if c.gate != nil {
		if err := c.gate.Acquire(ctx); err != nil {
			return err
		}
	}
	latency := c.minLatency
	if span := c.maxLatency - c.minLatency; span > 0 {
		latency += time.Duration(c.rand.Float64() * float64(span))
	}
	c.logger.Debug().Str("endpoint", endpoint).Dur("latency", latency).Msg("simulated broker call")
	return c.sleep(ctx, latency)
}

func (c *SimulatedClient) shouldFail() bool {
	return c.rand.Float64() >= c.successRate
}

func (c *SimulatedClient) requireAuth() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authHash == "" {
		return ErrNotAuthenticated
	}
	return nil
}

func (c *SimulatedClient) Login(ctx context.Context, username, password string) (LoginResult, error) {
	if err := c.begin(ctx, endpointLogin); err != nil {
		return LoginResult{}, err
	}
	if c.shouldFail() {
		return LoginResult{}, &AuthError{Message: "Mock login failed"}
	}
	token := "mock-temp-token-" + uuid.NewString()
	c.mu.Lock()
	c.tempToken = token
	c.mu.Unlock()
	return LoginResult{TempToken: token, Message: "Mock login successful (SMS sent)"}, nil
}

func (c *SimulatedClient) VerifyCode(ctx context.Context, tempToken, smsCode string) (AuthResult, error) {
	if err := c.begin(ctx, endpointLoginControl); err != nil {
		return AuthResult{}, err
	}
	// One message for every failure cause, as the broker does.
	if c.shouldFail() || smsCode == FailureCode || tempToken == "" || smsCode == "" {
		return AuthResult{}, &AuthError{Message: "Invalid SMS code"}
	}
	res := AuthResult{
		AuthHash:  "mock-hash-" + uuid.NewString(),
		AuthToken: tempToken,
		Message:   "Mock authentication successful",
	}
	c.Restore(res.AuthHash, res.AuthToken)
	return res, nil
}

func (c *SimulatedClient) RefreshSession(ctx context.Context) error {
	if err := c.requireAuth(); err != nil {
		return err
	}
	return c.begin(ctx, endpointSessionRefresh)
}

func (c *SimulatedClient) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if err := req.Validate(); err != nil {
		return OrderResult{}, err
	}
	if err := c.requireAuth(); err != nil {
		return OrderResult{}, err
	}
	if err := c.begin(ctx, endpointSendOrder); err != nil {
		return OrderResult{}, err
	}
	ref := fmt.Sprintf("REF-%d", 10000+c.rand.IntN(90000))
	return newOrderResult(fmt.Sprintf("Referans Numaranız: %s; İşleminiz Gerçekleşti", ref)), nil
}

func (c *SimulatedClient) CancelOrder(ctx context.Context, orderID, subaccount string) error {
	if orderID == "" {
		return invalidf("order id must not be empty")
	}
	if err := c.requireAuth(); err != nil {
		return err
	}
	return c.begin(ctx, endpointDeleteOrder)
}

func (c *SimulatedClient) ModifyOrder(ctx context.Context, req ModifyOrderRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if err := c.requireAuth(); err != nil {
		return err
	}
	return c.begin(ctx, endpointModifyOrder)
}

func (c *SimulatedClient) GetPositions(ctx context.Context, subaccount string) ([]Position, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	if err := c.begin(ctx, endpointInstantPosition); err != nil {
		return nil, err
	}
	return slices.Clone(fixturePositions), nil
}

func (c *SimulatedClient) GetCashBalances(ctx context.Context, subaccount string) (CashBalances, error) {
	if err := c.requireAuth(); err != nil {
		return CashBalances{}, err
	}
	if err := c.begin(ctx, endpointCashFlow); err != nil {
		return CashBalances{}, err
	}
	return fixtureCash, nil
}

func (c *SimulatedClient) GetInstrumentInfo(ctx context.Context, symbol string) (Instrument, error) {
	if symbol == "" {
		return Instrument{}, invalidf("symbol must not be empty")
	}
	if err := c.requireAuth(); err != nil {
		return Instrument{}, err
	}
	if err := c.begin(ctx, endpointEquityInfo); err != nil {
		return Instrument{}, err
	}
	return fixtureInstrument(symbol), nil
}

func (c *SimulatedClient) GetSubaccounts(ctx context.Context) ([]Subaccount, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	if err := c.begin(ctx, endpointSubAccounts); err != nil {
		return nil, err
	}
	return slices.Clone(fixtureSubaccounts), nil
}

func (c *SimulatedClient) Credentials() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authHash, c.authToken
}

func (c *SimulatedClient) Restore(authHash, authToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authHash = authHash
	c.authToken = authToken
}

// Close destroys the credential held by the signer.
func (c *SimulatedClient) Close() error {
	if c.signer != nil {
		c.signer.Credential().Destroy()
	}
	return nil
}
