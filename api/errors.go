package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ozkandogan90-glitch/algolab-bridge-server/broker"
	"github.com/ozkandogan90-glitch/algolab-bridge-server/crypto"
	"github.com/ozkandogan90-glitch/algolab-bridge-server/session"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Success: false, Error: msg})
}

// errorStatus maps a pipeline error onto an HTTP status and a client-safe
// message.
func (a *API) errorStatus(err error) (int, string) {
	var (
		cfgErr    *crypto.ConfigError
		cryptoErr *crypto.CryptoError
		authErr   *broker.AuthError
		logicErr  *broker.LogicError
		rlErr     *broker.RateLimitedError
		apiErr    *broker.APIError
	)
	switch {
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, broker.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &authErr):
		return http.StatusUnauthorized, authErr.Message
	case errors.Is(err, session.ErrNotFound):
		return http.StatusUnauthorized, "session invalid or expired"
	case errors.Is(err, session.ErrExpired):
		return http.StatusUnauthorized, "session expired"
	case errors.Is(err, broker.ErrNotAuthenticated):
		return http.StatusUnauthorized, "session is not authenticated"
	case errors.Is(err, broker.ErrSessionRejected):
		return http.StatusUnauthorized, "session refresh failed"
	case errors.As(err, &logicErr):
		return http.StatusBadRequest, logicErr.Message
	case errors.As(err, &rlErr):
		return http.StatusTooManyRequests, "broker rate limit exceeded"
	case errors.As(err, &apiErr):
		return http.StatusBadGateway, "broker api error"
	case errors.Is(err, session.ErrUnavailable):
		return http.StatusServiceUnavailable, "session store unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "broker call timed out"
	case errors.As(err, &cryptoErr):
		return http.StatusInternalServerError, "request signing failed"
	}
	if a.isProduction() {
		return http.StatusInternalServerError, "an error occurred"
	}
	return http.StatusInternalServerError, err.Error()
}

// mapError writes the error reply for err and logs it. A broker 429 carries
// its Retry-After through.
func (a *API) mapError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := a.errorStatus(err)

	var rlErr *broker.RateLimitedError
	if errors.As(err, &rlErr) {
		if rlErr.RetryAfter > 0 {
			w.Header().Set("Retry-After", retryAfterString(rlErr.RetryAfter))
		}
		a.audit.log(AuditBrokerRateLimited, r, nil)
	}

	e := a.logger.Warn()
	if status >= http.StatusInternalServerError {
		e = a.logger.Error()
	}
	e.Err(err).Int("status", status).Str("path", r.URL.Path).Msg("request failed")

	writeError(w, status, msg)
}
