package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ozkandogan90-glitch/algolab-bridge-server/crypto"
	"github.com/ozkandogan90-glitch/algolab-bridge-server/ratelimit"
)

// Broker endpoints. The checker is computed over these exact paths.
const (
	endpointLogin           = "/api/LoginUser"
	endpointLoginControl    = "/api/LoginUserControl"
	endpointSessionRefresh  = "/api/SessionRefresh"
	endpointSendOrder       = "/api/SendOrder"
	endpointDeleteOrder     = "/api/DeleteOrder"
	endpointModifyOrder     = "/api/ModifyOrder"
	endpointInstantPosition = "/api/InstantPosition"
	endpointCashFlow        = "/api/CashFlow"
	endpointEquityInfo      = "/api/GetEquityInfo"
	endpointSubAccounts     = "/api/GetSubAccounts"
)

const maxResponseBytes = 4 << 20

// Doer sends an HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Compile-time interface check.
var _ Client = (*LiveClient)(nil)

// LiveClient implements Client against the Algolab REST API.
type LiveClient struct {
	signer  *crypto.Signer
	baseURL string
	doer    Doer
	gate    *ratelimit.Gate
	logger  zerolog.Logger

	mu        sync.Mutex
	tempToken string
	authHash  string
	authToken string
}

// NewLiveClient returns a live client. Without WithDoer it uses an
// *http.Client with cfg.Timeout.
func NewLiveClient(signer *crypto.Signer, cfg Config, opts ...Option) *LiveClient {
	cfg.applyDefaults()
	dp := newDeps(opts)
	if dp.doer == nil {
		dp.doer = &http.Client{Timeout: cfg.Timeout}
	}
	return &LiveClient{
		signer:  signer,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		doer:    dp.doer,
		gate:    dp.gate,
		logger:  dp.logger,
	}
}

func (c *LiveClient) Mode() Mode { return ModeLive }

// envelope is the broker's uniform reply shape.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Content json.RawMessage `json:"content"`
}

// post runs one gated, optionally signed broker call and returns the decoded
// envelope. It does not interpret Success.
func (c *LiveClient) post(ctx context.Context, endpoint string, body crypto.Body, authenticated bool) (*envelope, error) {
	var authHash string
	if authenticated {
		authHash, _ = c.Credentials()
		if authHash == "" {
			return nil, ErrNotAuthenticated
		}
	}
	if body == nil {
		body = crypto.Body{}
	}
	payload, err := body.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encoding %s body: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", endpoint, err)
	}
	req.Header.Set("APIKEY", c.signer.Credential().Bundle())
	req.Header.Set("Content-Type", "application/json")
	if authenticated {
		checker, err := c.signer.Checker(endpoint, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", authHash)
		req.Header.Set("Checker", checker)
	}

	if c.gate != nil {
		if err := c.gate.Acquire(ctx); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", endpoint, err)
	}
	c.logger.Debug().
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("broker call")

	return checkResponse(resp, raw)
}

// checkResponse maps transport-level outcomes onto the error taxonomy.
func checkResponse(resp *http.Response, raw []byte) (*envelope, error) {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitedError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Body:       string(raw),
		}
	case resp.StatusCode != http.StatusOK:
		return nil, &APIError{Status: resp.StatusCode, Body: string(raw)}
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &APIError{Status: resp.StatusCode, Body: string(raw), Err: fmt.Errorf("decoding envelope: %w", err)}
	}
	return &env, nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// decodeContent unmarshals the envelope content into out.
func decodeContent(endpoint string, env *envelope, out any) error {
	if len(env.Content) == 0 || string(env.Content) == "null" {
		return &APIError{Status: http.StatusOK, Err: fmt.Errorf("%s: empty content", endpoint)}
	}
	if err := json.Unmarshal(env.Content, out); err != nil {
		return &APIError{Status: http.StatusOK, Body: string(env.Content), Err: fmt.Errorf("%s: decoding content: %w", endpoint, err)}
	}
	return nil
}

// call posts an authenticated request and requires success=true.
func (c *LiveClient) call(ctx context.Context, endpoint string, body crypto.Body) (*envelope, error) {
	env, err := c.post(ctx, endpoint, body, true)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, &LogicError{Message: env.Message}
	}
	return env, nil
}

func (c *LiveClient) Login(ctx context.Context, username, password string) (LoginResult, error) {
	encUser, err := c.signer.Encrypt(username)
	if err != nil {
		return LoginResult{}, err
	}
	encPass, err := c.signer.Encrypt(password)
	if err != nil {
		return LoginResult{}, err
	}
	env, err := c.post(ctx, endpointLogin, crypto.Body{
		{Key: "username", Value: encUser},
		{Key: "password", Value: encPass},
	}, false)
	if err != nil {
		return LoginResult{}, err
	}
	if !env.Success {
		return LoginResult{}, &AuthError{Message: env.Message}
	}
	var content struct {
		Token string `json:"token"`
	}
	if err := decodeContent(endpointLogin, env, &content); err != nil {
		return LoginResult{}, err
	}
	if content.Token == "" {
		return LoginResult{}, &APIError{Status: http.StatusOK, Err: errors.New("login reply carries no token")}
	}
	c.mu.Lock()
	c.tempToken = content.Token
	c.mu.Unlock()
	return LoginResult{TempToken: content.Token, Message: env.Message}, nil
}

func (c *LiveClient) VerifyCode(ctx context.Context, tempToken, smsCode string) (AuthResult, error) {
	encToken, err := c.signer.Encrypt(tempToken)
	if err != nil {
		return AuthResult{}, err
	}
	encCode, err := c.signer.Encrypt(smsCode)
	if err != nil {
		return AuthResult{}, err
	}
	env, err := c.post(ctx, endpointLoginControl, crypto.Body{
		{Key: "token", Value: encToken},
		{Key: "password", Value: encCode},
	}, false)
	if err != nil {
		return AuthResult{}, err
	}
	if !env.Success {
		return AuthResult{}, &AuthError{Message: env.Message}
	}
	var content struct {
		Hash  string `json:"hash"`
		Token string `json:"token"`
	}
	if err := decodeContent(endpointLoginControl, env, &content); err != nil {
		return AuthResult{}, err
	}
	if content.Hash == "" {
		return AuthResult{}, &APIError{Status: http.StatusOK, Err: errors.New("verification reply carries no hash")}
	}
	c.Restore(content.Hash, content.Token)
	return AuthResult{AuthHash: content.Hash, AuthToken: content.Token, Message: env.Message}, nil
}

func (c *LiveClient) RefreshSession(ctx context.Context) error {
	env, err := c.post(ctx, endpointSessionRefresh, crypto.Body{}, true)
	if err != nil {
		return err
	}
	if !env.Success {
		return fmt.Errorf("%w: %s", ErrSessionRejected, env.Message)
	}
	return nil
}

func (c *LiveClient) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if err := req.Validate(); err != nil {
		return OrderResult{}, err
	}
	env, err := c.call(ctx, endpointSendOrder, crypto.Body{
		{Key: "symbol", Value: req.Symbol},
		{Key: "direction", Value: string(req.Side)},
		{Key: "pricetype", Value: string(req.PriceType)},
		{Key: "price", Value: req.wirePrice()},
		{Key: "lot", Value: req.Lot.String()},
		{Key: "sms", Value: req.NotifySMS},
		{Key: "email", Value: req.NotifyEmail},
		{Key: "Subaccount", Value: req.Subaccount},
	})
	if err != nil {
		return OrderResult{}, err
	}
	return newOrderResult(contentText(env)), nil
}

func (c *LiveClient) CancelOrder(ctx context.Context, orderID, subaccount string) error {
	if orderID == "" {
		return invalidf("order id must not be empty")
	}
	_, err := c.call(ctx, endpointDeleteOrder, crypto.Body{
		{Key: "id", Value: orderID},
		{Key: "Subaccount", Value: subaccount},
	})
	return err
}

func (c *LiveClient) ModifyOrder(ctx context.Context, req ModifyOrderRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	_, err := c.call(ctx, endpointModifyOrder, crypto.Body{
		{Key: "id", Value: req.OrderID},
		{Key: "price", Value: req.Price.String()},
		{Key: "lot", Value: req.Lot.String()},
		{Key: "viop", Value: req.Derivative},
		{Key: "Subaccount", Value: req.Subaccount},
	})
	return err
}

func (c *LiveClient) GetPositions(ctx context.Context, subaccount string) ([]Position, error) {
	env, err := c.call(ctx, endpointInstantPosition, crypto.Body{{Key: "Subaccount", Value: subaccount}})
	if err != nil {
		return nil, err
	}
	var out []Position
	if err := decodeContent(endpointInstantPosition, env, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LiveClient) GetCashBalances(ctx context.Context, subaccount string) (CashBalances, error) {
	env, err := c.call(ctx, endpointCashFlow, crypto.Body{{Key: "Subaccount", Value: subaccount}})
	if err != nil {
		return CashBalances{}, err
	}
	var out CashBalances
	if err := decodeContent(endpointCashFlow, env, &out); err != nil {
		return CashBalances{}, err
	}
	return out, nil
}

func (c *LiveClient) GetInstrumentInfo(ctx context.Context, symbol string) (Instrument, error) {
	if symbol == "" {
		return Instrument{}, invalidf("symbol must not be empty")
	}
	env, err := c.call(ctx, endpointEquityInfo, crypto.Body{{Key: "symbol", Value: symbol}})
	if err != nil {
		return Instrument{}, err
	}
	var out Instrument
	if err := decodeContent(endpointEquityInfo, env, &out); err != nil {
		return Instrument{}, err
	}
	if out.Symbol == "" {
		out.Symbol = symbol
	}
	return out, nil
}

func (c *LiveClient) GetSubaccounts(ctx context.Context) ([]Subaccount, error) {
	env, err := c.call(ctx, endpointSubAccounts, crypto.Body{})
	if err != nil {
		return nil, err
	}
	var out []Subaccount
	if err := decodeContent(endpointSubAccounts, env, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LiveClient) Credentials() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authHash, c.authToken
}

func (c *LiveClient) Restore(authHash, authToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authHash = authHash
	c.authToken = authToken
}

// Close drops idle connections and destroys the credential.
func (c *LiveClient) Close() error {
	if hc, ok := c.doer.(*http.Client); ok {
		hc.CloseIdleConnections()
	}
	c.signer.Credential().Destroy()
	return nil
}

// contentText renders the envelope content as text: a JSON string is
// unquoted, anything else is returned raw, and empty content falls back to
// the message.
func contentText(env *envelope) string {
	if len(env.Content) == 0 || string(env.Content) == "null" {
		return env.Message
	}
	var s string
	if err := json.Unmarshal(env.Content, &s); err == nil {
		return s
	}
	return string(env.Content)
}

var referenceRE = regexp.MustCompile(`(?i)Referans\s+Numaran[ıi]z\s*:\s*([^;]+)`)

func newOrderResult(text string) OrderResult {
	ref := strings.TrimSpace(text)
	if m := referenceRE.FindStringSubmatch(text); m != nil {
		ref = strings.TrimSpace(m[1])
	}
	return OrderResult{Reference: ref, Message: text}
}
