package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ozkandogan90-glitch/algolab-bridge-server/api"
	"github.com/ozkandogan90-glitch/algolab-bridge-server/broker"
	"github.com/ozkandogan90-glitch/algolab-bridge-server/ratelimit"
	"github.com/ozkandogan90-glitch/algolab-bridge-server/session"
	"github.com/ozkandogan90-glitch/algolab-bridge-server/storage/memory"
	"github.com/ozkandogan90-glitch/algolab-bridge-server/storage/storagetest"
)

const (
	testBundle       = "APIKEY-04YW0b9Cb8S0MrgBw/Y4iPYi2hjIidW7qj4hrhBhwZg="
	testJWTSecret    = "test-jwt-secret"
	testSharedSecret = "test-shared-secret"
)

// zeroRand makes every simulated call succeed and every reference REF-10000.
type zeroRand struct{}

func (zeroRand) Float64() float64 { return 0 }
func (zeroRand) IntN(int) int     { return 0 }

func noSleep(context.Context, time.Duration) error { return nil }

type testEnv struct {
	srv   *httptest.Server
	store *session.Store
	clock *storagetest.Clock
}

func setupServer(t *testing.T, cfg broker.Config, opts ...api.Option) *testEnv {
	t.Helper()
	clock := storagetest.NewClock()
	store := session.NewStore(memory.New(memory.WithClock(clock.Now)), session.WithClock(clock.Now))
	gates := ratelimit.NewRegistry(time.Millisecond, ratelimit.WithMargin(0))

	base := []api.Option{
		api.WithJWTSecret(testJWTSecret),
		api.WithSharedSecret(testSharedSecret),
		api.WithClientOptions(broker.WithSleep(noSleep), broker.WithRand(zeroRand{})),
		api.WithRetry(1, time.Millisecond),
		api.WithServiceInfo(api.ServiceInfo{
			Version:      "test",
			Environment:  "development",
			APIURL:       "https://www.algolab.com.tr",
			WSURL:        "wss://www.algolab.com.tr/api/ws",
			StoreBackend: "memory",
		}),
	}
	a := api.New(store, gates, cfg, append(base, opts...)...)
	srv := httptest.NewServer(a.Router())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: store, clock: clock}
}

func simulatedConfig() broker.Config {
	return broker.Config{Mode: broker.ModeSimulated, SuccessRate: 1}
}

func doJSON(t *testing.T, method, url string, body any, header http.Header) *http.Response {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req, err := http.NewRequestWithContext(t.Context(), method, url, &reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func secretHeader() http.Header {
	return http.Header{"X-Bridge-Secret": {testSharedSecret}}
}

func (e *testEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	return doJSON(t, http.MethodPost, e.srv.URL+path, body, secretHeader())
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// loginSession walks login and verify-sms and returns the session id.
func (e *testEnv) loginSession(t *testing.T) string {
	t.Helper()
	resp := e.post(t, "/bridge/login", api.LoginRequest{APIKey: testBundle, Username: "52639865510", Password: "123456"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	login := decode[api.LoginResponse](t, resp)
	require.NotEmpty(t, login.TempToken)

	resp = e.post(t, "/bridge/verify-sms", api.VerifySMSRequest{APIKey: testBundle, TempToken: login.TempToken, SMSCode: "123456"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	verified := decode[api.VerifySMSResponse](t, resp)
	require.NotEmpty(t, verified.SessionID)
	return verified.SessionID
}

func TestHealth(t *testing.T) {
	env := setupServer(t, simulatedConfig())

	resp := doJSON(t, http.MethodGet, env.srv.URL+"/health", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[api.HealthResponse](t, resp)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "development", health.Environment)
	assert.Equal(t, "not_configured", health.Redis)
	assert.Equal(t, "connected", health.SessionStore)
	assert.Equal(t, "https://www.algolab.com.tr", health.AlgolabAPIURL)
	assert.True(t, health.MockMode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestRoot(t *testing.T) {
	env := setupServer(t, simulatedConfig())

	resp := doJSON(t, http.MethodGet, env.srv.URL+"/", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	root := decode[api.RootResponse](t, resp)
	assert.Equal(t, "Algolab Bridge Server", root.Service)
	assert.Equal(t, "running", root.Status)
	require.NotNil(t, root.Docs)
	assert.Equal(t, "/docs", *root.Docs)

	resp = doJSON(t, http.MethodGet, env.srv.URL+"/openapi.yaml", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRoot_ProductionHidesDocs(t *testing.T) {
	env := setupServer(t, simulatedConfig(), api.WithServiceInfo(api.ServiceInfo{Environment: "production"}))

	resp := doJSON(t, http.MethodGet, env.srv.URL+"/", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	root := decode[api.RootResponse](t, resp)
	assert.Nil(t, root.Docs)

	resp = doJSON(t, http.MethodGet, env.srv.URL+"/openapi.yaml", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBrokerStatus_Public(t *testing.T) {
	env := setupServer(t, simulatedConfig())

	resp := doJSON(t, http.MethodGet, env.srv.URL+"/bridge/broker-status", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get("X-Mock-Mode"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	status := decode[map[string]any](t, resp)
	assert.Equal(t, "algolab", status["broker"])
	assert.Equal(t, "Algolab / Denizbank", status["broker_name"])
	market := status["market"].(map[string]any)
	assert.Equal(t, "BIST", market["exchange"])
	assert.Equal(t, "TRY", market["currency"])
	conn := status["connection"].(map[string]any)
	assert.Equal(t, "https_api", conn["method"])
	assert.EqualValues(t, 3600, conn["session_ttl"])
	assert.Equal(t, "wss://www.algolab.com.tr/api/ws", status["websocket_url"])
}

func TestMockModeHeader_LiveOmitsIt(t *testing.T) {
	env := setupServer(t, broker.Config{Mode: broker.ModeLive})

	resp := doJSON(t, http.MethodGet, env.srv.URL+"/bridge/broker-status", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("X-Mock-Mode"))
}

func TestCallerAuth(t *testing.T) {
	env := setupServer(t, simulatedConfig())
	token, err := api.IssueToken([]byte(testJWTSecret), "user-1", time.Hour, time.Now())
	require.NoError(t, err)
	otherToken, err := api.IssueToken([]byte("other-secret"), "user-1", time.Hour, time.Now())
	require.NoError(t, err)
	expiredToken, err := api.IssueToken([]byte(testJWTSecret), "user-1", time.Hour, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)

	body := api.SessionRequest{SessionID: "does-not-exist"}
	tests := []struct {
		name   string
		header http.Header
		status int
	}{
		{"no credentials", nil, http.StatusUnauthorized},
		{"valid bearer", http.Header{"Authorization": {"Bearer " + token}}, http.StatusOK},
		{"wrong signing key", http.Header{"Authorization": {"Bearer " + otherToken}}, http.StatusUnauthorized},
		{"expired bearer", http.Header{"Authorization": {"Bearer " + expiredToken}}, http.StatusUnauthorized},
		{"garbage bearer", http.Header{"Authorization": {"Bearer not-a-jwt"}}, http.StatusUnauthorized},
		{"valid shared secret", secretHeader(), http.StatusOK},
		{"wrong shared secret", http.Header{"X-Bridge-Secret": {"nope"}}, http.StatusForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := doJSON(t, http.MethodPost, env.srv.URL+"/bridge/logout", body, tc.header)
			assert.Equal(t, tc.status, resp.StatusCode)
			if tc.status != http.StatusOK {
				errResp := decode[api.ErrorResponse](t, resp)
				assert.False(t, errResp.Success)
				assert.NotEmpty(t, errResp.Error)
			}
		})
	}
}

func TestCallerAuth_IPAllowlist(t *testing.T) {
	blocked := setupServer(t, simulatedConfig(), api.WithAllowedIPs([]string{"10.1.2.3"}))
	resp := blocked.post(t, "/bridge/logout", api.SessionRequest{SessionID: "x"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	allowed := setupServer(t, simulatedConfig(), api.WithAllowedIPs([]string{"127.0.0.1", "::1"}))
	resp = allowed.post(t, "/bridge/logout", api.SessionRequest{SessionID: "x"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSessionFlow(t *testing.T) {
	env := setupServer(t, simulatedConfig())
	id := env.loginSession(t)

	stored, err := env.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, testBundle, stored.APIKey)
	assert.NotEmpty(t, stored.AuthHash)

	resp := env.post(t, "/bridge/portfolio", api.SessionRequest{SessionID: id})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get("X-Mock-Mode"))
	portfolio := decode[struct {
		Success bool              `json:"success"`
		Content []broker.Position `json:"content"`
	}](t, resp)
	assert.True(t, portfolio.Success)
	require.Len(t, portfolio.Content, 2)
	assert.Equal(t, "ASELS", portfolio.Content[0].Symbol)

	resp = env.post(t, "/bridge/cash-flow", api.SessionRequest{SessionID: id})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cash := decode[struct {
		Content broker.CashBalances `json:"content"`
	}](t, resp)
	assert.Equal(t, "95000", cash.Content.Total.String())

	resp = env.post(t, "/bridge/equity-info", api.EquityInfoRequest{SessionID: id, Symbol: "thyao"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	equity := decode[struct {
		Content broker.Instrument `json:"content"`
	}](t, resp)
	assert.Equal(t, "THYAO", equity.Content.Symbol)
	assert.Equal(t, "245.5", equity.Content.Price.String())

	resp = env.post(t, "/bridge/subaccounts", api.SessionRequest{SessionID: id})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	subs := decode[struct {
		Content []broker.Subaccount `json:"content"`
	}](t, resp)
	assert.Len(t, subs.Content, 2)

	resp = env.post(t, "/bridge/send-order", api.SendOrderRequest{
		SessionID: id, Symbol: "ASELS", Direction: "buy", PriceType: "limit", Price: "45.25", Lot: "10",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	order := decode[struct {
		Success bool               `json:"success"`
		Content broker.OrderResult `json:"content"`
	}](t, resp)
	assert.True(t, order.Success)
	assert.Equal(t, "REF-10000", order.Content.Reference)

	resp = env.post(t, "/bridge/modify-order", api.ModifyOrderRequest{SessionID: id, OrderID: "REF-10000", Price: "46", Lot: "5"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.post(t, "/bridge/delete-order", api.DeleteOrderRequest{SessionID: id, OrderID: "REF-10000"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	env.clock.Advance(30 * time.Minute)
	resp = env.post(t, "/bridge/refresh-session", api.SessionRequest{SessionID: id})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	refreshed := decode[api.RefreshSessionResponse](t, resp)
	assert.True(t, refreshed.ExpiresAt.Equal(env.clock.Now().Add(session.DefaultTTL)))

	resp = env.post(t, "/bridge/logout", api.SessionRequest{SessionID: id})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	logout := decode[api.LogoutResponse](t, resp)
	assert.True(t, logout.Deleted)

	resp = env.post(t, "/bridge/portfolio", api.SessionRequest{SessionID: id})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.post(t, "/bridge/logout", api.SessionRequest{SessionID: id})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[api.LogoutResponse](t, resp).Deleted)
}

func TestVerifySMS_FullWidthDigits(t *testing.T) {
	env := setupServer(t, simulatedConfig())

	resp := env.post(t, "/bridge/verify-sms", api.VerifySMSRequest{APIKey: testBundle, TempToken: "tmp", SMSCode: "１２３４５６"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestVerifySMS_FailureCodeAndLockout(t *testing.T) {
	env := setupServer(t, simulatedConfig())
	req := api.VerifySMSRequest{APIKey: testBundle, TempToken: "tmp", SMSCode: broker.FailureCode}

	for i := 0; i < 5; i++ {
		resp := env.post(t, "/bridge/verify-sms", req)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, "attempt %d", i+1)
	}

	resp := env.post(t, "/bridge/verify-sms", req)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// A correct code is refused too while the lockout lasts.
	req.SMSCode = "123456"
	resp = env.post(t, "/bridge/verify-sms", req)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestLogin_BrokerRefusalIsBadRequest(t *testing.T) {
	env := setupServer(t, broker.Config{Mode: broker.ModeSimulated, SuccessRate: 0})

	resp := env.post(t, "/bridge/login", api.LoginRequest{APIKey: testBundle, Username: "u", Password: "p"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Mock login failed", decode[api.ErrorResponse](t, resp).Error)
}

func TestLogin_MalformedAPIKey(t *testing.T) {
	env := setupServer(t, simulatedConfig())

	resp := env.post(t, "/bridge/login", api.LoginRequest{APIKey: "not-a-bundle", Username: "u", Password: "p"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.post(t, "/bridge/login", map[string]string{"api_key": testBundle})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBrokerTest(t *testing.T) {
	env := setupServer(t, simulatedConfig())

	resp := env.post(t, "/bridge/broker-test", api.BrokerTestRequest{APIKey: testBundle, Username: "u", Password: "p"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ok := decode[api.BrokerTestResponse](t, resp)
	assert.True(t, ok.Success)
	assert.Equal(t, "passed", ok.TestStatus)
	assert.Contains(t, ok.Details, "response_time_ms")

	resp = env.post(t, "/bridge/broker-test", api.BrokerTestRequest{APIKey: "bad", Username: "u", Password: "p"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	failed := decode[api.BrokerTestResponse](t, resp)
	assert.False(t, failed.Success)
	assert.Equal(t, "failed", failed.TestStatus)
	assert.NotEmpty(t, failed.Error)
}

func TestExpiredSession(t *testing.T) {
	env := setupServer(t, simulatedConfig())
	id := env.loginSession(t)

	env.clock.Advance(session.DefaultTTL + time.Second)
	resp := env.post(t, "/bridge/portfolio", api.SessionRequest{SessionID: id})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSendOrder_Validation(t *testing.T) {
	env := setupServer(t, simulatedConfig())
	id := env.loginSession(t)

	tests := []struct {
		name string
		req  api.SendOrderRequest
	}{
		{"bad price", api.SendOrderRequest{SessionID: id, Symbol: "ASELS", Direction: "BUY", PriceType: "limit", Price: "abc", Lot: "1"}},
		{"bad direction", api.SendOrderRequest{SessionID: id, Symbol: "ASELS", Direction: "HOLD", PriceType: "limit", Price: "1", Lot: "1"}},
		{"limit without price", api.SendOrderRequest{SessionID: id, Symbol: "ASELS", Direction: "BUY", PriceType: "limit", Lot: "1"}},
		{"zero lot", api.SendOrderRequest{SessionID: id, Symbol: "ASELS", Direction: "SELL", PriceType: "piyasa", Lot: "0"}},
		{"empty symbol", api.SendOrderRequest{SessionID: id, Direction: "SELL", PriceType: "piyasa", Lot: "1"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.post(t, "/bridge/send-order", tc.req)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestSendOrder_UnknownSession(t *testing.T) {
	env := setupServer(t, simulatedConfig())

	resp := env.post(t, "/bridge/send-order", api.SendOrderRequest{
		SessionID: "missing", Symbol: "ASELS", Direction: "BUY", PriceType: "piyasa", Lot: "1",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// fakeBroker answers every broker path with the configured status and body.
type fakeBroker struct {
	status     int
	body       string
	retryAfter string
	calls      atomic.Int32
}

func (f *fakeBroker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	if f.retryAfter != "" {
		w.Header().Set("Retry-After", f.retryAfter)
	}
	w.WriteHeader(f.status)
	w.Write([]byte(f.body))
}

func TestLiveErrorMapping(t *testing.T) {
	tests := []struct {
		name         string
		brokerStatus int
		brokerBody   string
		brokerRetry  string
		status       int
		retryAfter   string
	}{
		{"rate limited", http.StatusTooManyRequests, "", "7", http.StatusTooManyRequests, "7"},
		{"server error", http.StatusInternalServerError, "boom", "", http.StatusBadGateway, ""},
		{"not json", http.StatusOK, "<html>", "", http.StatusBadGateway, ""},
		{"logic error", http.StatusOK, `{"success":false,"message":"Hesap bulunamadı"}`, "", http.StatusBadRequest, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fb := &fakeBroker{status: tc.brokerStatus, body: tc.brokerBody, retryAfter: tc.brokerRetry}
			upstream := httptest.NewServer(fb)
			defer upstream.Close()

			env := setupServer(t, broker.Config{Mode: broker.ModeLive, BaseURL: upstream.URL})
			sess, err := env.store.Create(context.Background(), testBundle, "hash-1", "token-1")
			require.NoError(t, err)

			resp := env.post(t, "/bridge/portfolio", api.SessionRequest{SessionID: sess.ID})
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.retryAfter, resp.Header.Get("Retry-After"))
			assert.False(t, decode[api.ErrorResponse](t, resp).Success)
			assert.EqualValues(t, 1, fb.calls.Load())
		})
	}
}

func TestRefreshRejectedDeletesSession(t *testing.T) {
	fb := &fakeBroker{status: http.StatusOK, body: `{"success":false,"message":"Oturum süresi dolmuş"}`}
	upstream := httptest.NewServer(fb)
	defer upstream.Close()

	env := setupServer(t, broker.Config{Mode: broker.ModeLive, BaseURL: upstream.URL})
	sess, err := env.store.Create(context.Background(), testBundle, "hash-1", "token-1")
	require.NoError(t, err)

	resp := env.post(t, "/bridge/refresh-session", api.SessionRequest{SessionID: sess.ID})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, err = env.store.Get(context.Background(), sess.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestRefreshTransportErrorKeepsSession(t *testing.T) {
	fb := &fakeBroker{status: http.StatusServiceUnavailable}
	upstream := httptest.NewServer(fb)
	defer upstream.Close()

	env := setupServer(t, broker.Config{Mode: broker.ModeLive, BaseURL: upstream.URL})
	sess, err := env.store.Create(context.Background(), testBundle, "hash-1", "token-1")
	require.NoError(t, err)

	resp := env.post(t, "/bridge/refresh-session", api.SessionRequest{SessionID: sess.ID})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	_, err = env.store.Get(context.Background(), sess.ID)
	assert.NoError(t, err)
}
