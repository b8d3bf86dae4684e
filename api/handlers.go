package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ozkandogan90-glitch/algolab-bridge-server/broker"
	"github.com/ozkandogan90-glitch/algolab-bridge-server/internal/util"
	"github.com/ozkandogan90-glitch/algolab-bridge-server/ratelimit"
	"github.com/ozkandogan90-glitch/algolab-bridge-server/session"
)

const maxRequestBodySize = 64 << 10

// decodeJSON reads a size-limited JSON body into v. It writes the error
// reply itself and reports whether the handler should continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxBytesErr):
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "request body is empty")
		default:
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return false
	}
	return true
}

// newClient builds a broker client for apiKey. Every client built for the
// same credential shares one rate gate.
func (a *API) newClient(apiKey string) (broker.Client, error) {
	cfg := a.brokerCfg
	cfg.APIKey = apiKey
	opts := []broker.Option{broker.WithLogger(a.logger)}
	if a.gates != nil {
		opts = append(opts, broker.WithGate(a.gates.For(apiKey)))
	}
	opts = append(opts, a.clientOpt...)
	return broker.New(cfg, opts...)
}

// sessionClient rehydrates the client for a stored session.
func (a *API) sessionClient(ctx context.Context, sessionID string) (broker.Client, *session.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, nil, session.ErrNotFound
	}
	sess, err := a.store.Get(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	client, err := a.newClient(sess.APIKey)
	if err != nil {
		return nil, nil, err
	}
	client.Restore(sess.AuthHash, sess.AuthToken)
	return client, sess, nil
}

// retryRead runs a read-only broker call with retries.
func (a *API) retryRead(ctx context.Context, fn func(ctx context.Context) error) error {
	return broker.Retry(ctx, a.retryAttempts, a.retryDelay, fn)
}

func parseDecimal(field, raw string, allowEmpty bool) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" && allowEmpty {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s must be a decimal number", broker.ErrInvalidRequest, field)
	}
	return d, nil
}

// Root handles GET /.
func (a *API) Root(w http.ResponseWriter, r *http.Request) {
	resp := RootResponse{
		Service: "Algolab Bridge Server",
		Version: a.info.Version,
		Status:  "running",
	}
	if !a.isProduction() {
		docs := "/docs"
		resp.Docs = &docs
	}
	writeJSON(w, http.StatusOK, resp)
}

// Health handles GET /health. A failing store is reported, never fatal.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "healthy",
		Environment:   a.info.Environment,
		Redis:         "not_configured",
		SessionStore:  "unavailable",
		AlgolabAPIURL: a.info.APIURL,
		MockMode:      a.mockMode(),
	}
	if a.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if a.store.HealthCheck(ctx) {
			resp.SessionStore = "connected"
			if a.info.StoreBackend == "redis" {
				resp.Redis = "connected"
			}
		} else if a.info.StoreBackend == "redis" {
			resp.Redis = "disconnected"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// BrokerStatus handles GET /bridge/broker-status.
func (a *API) BrokerStatus(w http.ResponseWriter, r *http.Request) {
	ttl := session.DefaultTTL
	if a.store != nil {
		ttl = a.store.TTL()
	}
	interval := ratelimit.DefaultInterval
	if a.gates != nil {
		interval = a.gates.MinInterval()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"broker":      "algolab",
		"broker_name": "Algolab / Denizbank",
		"status":      "available",
		"mock_mode":   a.mockMode(),
		"features": []string{
			"sms_authentication",
			"order_send",
			"order_modify",
			"order_delete",
			"portfolio",
			"cash_flow",
			"equity_info",
			"subaccounts",
			"session_refresh",
		},
		"market": map[string]string{
			"exchange": "BIST",
			"country":  "Turkey",
			"timezone": "Europe/Istanbul",
			"currency": "TRY",
		},
		"connection": map[string]any{
			"method":      "https_api",
			"encryption":  "aes256",
			"rate_limit":  fmt.Sprintf("%g seconds minimum", interval.Seconds()),
			"session_ttl": int(ttl.Seconds()),
			"api_url":     a.info.APIURL,
		},
		"websocket_url": a.info.WSURL,
	})
}

// BrokerTest handles POST /bridge/broker-test. It always answers 200 and
// reports the login outcome in the body.
func (a *API) BrokerTest(w http.ResponseWriter, r *http.Request) {
	var req BrokerTestRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp := BrokerTestResponse{Broker: "algolab"}
	start := a.now()
	client, err := a.newClient(req.APIKey)
	if err == nil {
		defer client.Close()
		_, err = client.Login(r.Context(), req.Username, req.Password)
	}
	elapsed := a.now().Sub(start)

	a.audit.log(AuditBrokerTest, r, func(e *zerolog.Event) {
		e.Str("username", util.Mask(req.Username, 3)).Bool("ok", err == nil)
	})

	if err != nil {
		_, msg := a.errorStatus(err)
		resp.TestStatus = "failed"
		resp.Error = msg
		resp.Details = map[string]any{"mock_mode": a.mockMode()}
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.Success = true
	resp.TestStatus = "passed"
	resp.Message = "Broker connection successful, SMS sent"
	resp.Details = map[string]any{
		"mock_mode":        a.mockMode(),
		"response_time_ms": elapsed.Milliseconds(),
		"sms_required":     true,
	}
	writeJSON(w, http.StatusOK, resp)
}

// Login handles POST /bridge/login.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	client, err := a.newClient(req.APIKey)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	defer client.Close()

	res, err := client.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		var authErr *broker.AuthError
		if errors.As(err, &authErr) {
			a.audit.log(AuditLoginFailure, r, func(e *zerolog.Event) {
				e.Str("username", util.Mask(req.Username, 3))
			})
			writeError(w, http.StatusBadRequest, authErr.Message)
			return
		}
		a.mapError(w, r, err)
		return
	}

	a.audit.log(AuditLoginRequested, r, func(e *zerolog.Event) {
		e.Str("username", util.Mask(req.Username, 3))
	})
	writeJSON(w, http.StatusOK, LoginResponse{
		Success:   true,
		TempToken: res.TempToken,
		Message:   "SMS code sent",
	})
}

// VerifySMS handles POST /bridge/verify-sms. Repeated failures from one
// address lock it out with growing delays.
func (a *API) VerifySMS(w http.ResponseWriter, r *http.Request) {
	ip := extractClientIPWithProxies(r, a.auth.trustedProxies)
	if blocked, retryAfter := a.lockout.check(ip); blocked {
		a.audit.log(AuditVerifyLockedOut, r, nil)
		writeLockedOut(w, retryAfter)
		return
	}

	var req VerifySMSRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	code := util.NarrowDigits(strings.TrimSpace(req.SMSCode))
	if req.TempToken == "" || code == "" {
		writeError(w, http.StatusBadRequest, "temp_token and sms_code are required")
		return
	}

	client, err := a.newClient(req.APIKey)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	defer client.Close()

	res, err := client.VerifyCode(r.Context(), req.TempToken, code)
	if err != nil {
		var authErr *broker.AuthError
		if errors.As(err, &authErr) {
			a.lockout.recordFailure(ip)
			a.audit.logFailure(AuditSMSFailure, r, authErr.Message)
		}
		a.mapError(w, r, err)
		return
	}
	a.lockout.recordSuccess(ip)

	sess, err := a.store.Create(r.Context(), req.APIKey, res.AuthHash, res.AuthToken)
	if err != nil {
		a.mapError(w, r, err)
		return
	}

	a.audit.log(AuditSMSVerified, r, func(e *zerolog.Event) { e.Str("session_id", sess.ID) })
	writeJSON(w, http.StatusOK, VerifySMSResponse{
		Success:   true,
		SessionID: sess.ID,
		Hash:      sess.AuthHash,
		ExpiresAt: sess.ExpiresAt,
		Message:   "Authentication successful",
	})
}

// RefreshSession handles POST /bridge/refresh-session. A session the broker
// rejects is deleted at once; other failures leave it to expire.
func (a *API) RefreshSession(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	client, sess, err := a.sessionClient(r.Context(), req.SessionID)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	defer client.Close()

	if err := client.RefreshSession(r.Context()); err != nil {
		if errors.Is(err, broker.ErrSessionRejected) {
			if _, delErr := a.store.Delete(r.Context(), sess.ID); delErr != nil {
				a.logger.Warn().Err(delErr).Str("session_id", sess.ID).Msg("failed to delete rejected session")
			}
			a.audit.log(AuditSessionRejected, r, func(e *zerolog.Event) { e.Str("session_id", sess.ID) })
		}
		a.mapError(w, r, err)
		return
	}

	updated, err := a.store.Update(r.Context(), sess.ID, session.Patch{}, true)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.log(AuditSessionRefreshed, r, func(e *zerolog.Event) { e.Str("session_id", sess.ID) })
	writeJSON(w, http.StatusOK, RefreshSessionResponse{
		Success:   true,
		ExpiresAt: updated.ExpiresAt,
		Message:   "Session refreshed",
	})
}

// Logout handles POST /bridge/logout. Logging out an unknown session
// succeeds with deleted=false.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	deleted, err := a.store.Delete(r.Context(), req.SessionID)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.log(AuditLogout, r, func(e *zerolog.Event) {
		e.Str("session_id", req.SessionID).Bool("deleted", deleted)
	})
	writeJSON(w, http.StatusOK, LogoutResponse{
		Success: true,
		Deleted: deleted,
		Message: "Logged out",
	})
}

// SendOrder handles POST /bridge/send-order.
func (a *API) SendOrder(w http.ResponseWriter, r *http.Request) {
	var req SendOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	order := broker.OrderRequest{
		Symbol:      strings.TrimSpace(req.Symbol),
		Side:        broker.Side(strings.ToUpper(req.Direction)),
		PriceType:   broker.PriceType(strings.ToLower(req.PriceType)),
		NotifySMS:   req.SMS,
		NotifyEmail: req.Email,
		Subaccount:  req.Subaccount,
	}
	var err error
	if order.Price, err = parseDecimal("price", req.Price, true); err != nil {
		a.mapError(w, r, err)
		return
	}
	if order.Lot, err = parseDecimal("lot", req.Lot, false); err != nil {
		a.mapError(w, r, err)
		return
	}
	if err := order.Validate(); err != nil {
		a.mapError(w, r, err)
		return
	}

	client, sess, err := a.sessionClient(r.Context(), req.SessionID)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	defer client.Close()

	res, err := client.PlaceOrder(r.Context(), order)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.log(AuditOrderSent, r, func(e *zerolog.Event) {
		e.Str("session_id", sess.ID).
			Str("symbol", order.Symbol).
			Str("direction", string(order.Side)).
			Str("reference", res.Reference)
	})
	writeJSON(w, http.StatusOK, Result{Success: true, Message: res.Message, Content: res})
}

// DeleteOrder handles POST /bridge/delete-order.
func (a *API) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	var req DeleteOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	client, sess, err := a.sessionClient(r.Context(), req.SessionID)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	defer client.Close()

	if err := client.CancelOrder(r.Context(), req.OrderID, req.Subaccount); err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.log(AuditOrderDeleted, r, func(e *zerolog.Event) {
		e.Str("session_id", sess.ID).Str("order_id", req.OrderID)
	})
	writeJSON(w, http.StatusOK, Result{Success: true, Message: "Order deleted"})
}

// ModifyOrder handles POST /bridge/modify-order.
func (a *API) ModifyOrder(w http.ResponseWriter, r *http.Request) {
	var req ModifyOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	mod := broker.ModifyOrderRequest{
		OrderID:    req.OrderID,
		Derivative: req.Viop,
		Subaccount: req.Subaccount,
	}
	var err error
	if mod.Price, err = parseDecimal("price", req.Price, false); err != nil {
		a.mapError(w, r, err)
		return
	}
	if mod.Lot, err = parseDecimal("lot", req.Lot, false); err != nil {
		a.mapError(w, r, err)
		return
	}

	client, sess, err := a.sessionClient(r.Context(), req.SessionID)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	defer client.Close()

	if err := client.ModifyOrder(r.Context(), mod); err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.log(AuditOrderModified, r, func(e *zerolog.Event) {
		e.Str("session_id", sess.ID).Str("order_id", req.OrderID)
	})
	writeJSON(w, http.StatusOK, Result{Success: true, Message: "Order modified"})
}

// Portfolio handles POST /bridge/portfolio.
func (a *API) Portfolio(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	client, _, err := a.sessionClient(r.Context(), req.SessionID)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	defer client.Close()

	var positions []broker.Position
	err = a.retryRead(r.Context(), func(ctx context.Context) error {
		var err error
		positions, err = client.GetPositions(ctx, req.Subaccount)
		return err
	})
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	if positions == nil {
		positions = []broker.Position{}
	}
	writeJSON(w, http.StatusOK, Result{Success: true, Content: positions})
}

// CashFlow handles POST /bridge/cash-flow.
func (a *API) CashFlow(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	client, _, err := a.sessionClient(r.Context(), req.SessionID)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	defer client.Close()

	var cash broker.CashBalances
	err = a.retryRead(r.Context(), func(ctx context.Context) error {
		var err error
		cash, err = client.GetCashBalances(ctx, req.Subaccount)
		return err
	})
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Result{Success: true, Content: cash})
}

// EquityInfo handles POST /bridge/equity-info.
func (a *API) EquityInfo(w http.ResponseWriter, r *http.Request) {
	var req EquityInfoRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	client, _, err := a.sessionClient(r.Context(), req.SessionID)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	defer client.Close()

	var inst broker.Instrument
	err = a.retryRead(r.Context(), func(ctx context.Context) error {
		var err error
		inst, err = client.GetInstrumentInfo(ctx, symbol)
		return err
	})
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Result{Success: true, Content: inst})
}

// Subaccounts handles POST /bridge/subaccounts.
func (a *API) Subaccounts(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	client, _, err := a.sessionClient(r.Context(), req.SessionID)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	defer client.Close()

	var accounts []broker.Subaccount
	err = a.retryRead(r.Context(), func(ctx context.Context) error {
		var err error
		accounts, err = client.GetSubaccounts(ctx)
		return err
	})
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	if accounts == nil {
		accounts = []broker.Subaccount{}
	}
	writeJSON(w, http.StatusOK, Result{Success: true, Content: accounts})
}
