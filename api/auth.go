package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenIssuer is the issuer every caller JWT must carry.
const TokenIssuer = "railway_backend"

// DefaultTokenTTL is the lifetime of tokens minted by IssueToken when no TTL
// is given.
const DefaultTokenTTL = time.Hour

// CallerClaims are the claims of a caller JWT.
type CallerClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// IssueToken mints an HS256 caller token for userID.
func IssueToken(secret []byte, userID string, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret is empty")
	}
	if ttl == 0 {
		ttl = DefaultTokenTTL
	}
	claims := CallerClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("signing caller token: %w", err)
	}
	return signed, nil
}

// callerAuth authenticates requests from the trading backend.
type callerAuth struct {
	jwtSecret      []byte
	sharedSecret   []byte
	allowedIPs     map[netip.Addr]struct{}
	trustedProxies []netip.Prefix
	now            func() time.Time
}

// Caller identifies an authenticated caller.
type Caller struct {
	UserID string
	Method string
	IP     string
}

type callerKey struct{}

func callerFromContext(ctx context.Context) Caller {
	c, _ := ctx.Value(callerKey{}).(Caller)
	return c
}

var (
	errNoCredentials    = errors.New("authentication required")
	errBadToken         = errors.New("invalid or expired token")
	errBadSecret        = errors.New("invalid bridge secret")
	errIPNotAllowed     = errors.New("ip not whitelisted")
	errAuthUnconfigured = errors.New("caller authentication not configured")
)

func (ca *callerAuth) verifyToken(raw string) (*CallerClaims, error) {
	keyFunc := func(*jwt.Token) (any, error) { return ca.jwtSecret, nil }
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ca.now),
	)
	var claims CallerClaims
	if _, err := parser.ParseWithClaims(raw, &claims, keyFunc); err != nil {
		return nil, fmt.Errorf("%w: %w", errBadToken, err)
	}
	return &claims, nil
}

// authenticate resolves the caller of r. The IP allowlist is checked first,
// then a bearer token, then the shared secret header.
func (ca *callerAuth) authenticate(r *http.Request) (Caller, error) {
	ip := extractClientIPWithProxies(r, ca.trustedProxies)
	caller := Caller{IP: ip}

	if len(ca.allowedIPs) > 0 {
		addr, err := netip.ParseAddr(ip)
		if _, ok := ca.allowedIPs[addr.Unmap()]; err != nil || !ok {
			return caller, fmt.Errorf("%w: %s", errIPNotAllowed, ip)
		}
	}

	if len(ca.jwtSecret) == 0 && len(ca.sharedSecret) == 0 {
		return caller, errAuthUnconfigured
	}

	if raw, ok := bearerToken(r); ok && len(ca.jwtSecret) > 0 {
		claims, err := ca.verifyToken(raw)
		if err != nil {
			return caller, err
		}
		caller.UserID = claims.UserID
		caller.Method = "jwt"
		return caller, nil
	}

	if secret := r.Header.Get("X-Bridge-Secret"); secret != "" && len(ca.sharedSecret) > 0 {
		if subtle.ConstantTimeCompare([]byte(secret), ca.sharedSecret) != 1 {
			return caller, errBadSecret
		}
		caller.Method = "shared_secret"
		return caller, nil
	}

	return caller, errNoCredentials
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// CallerAuth is middleware that rejects unauthenticated callers and stores
// the Caller on the request context.
func (a *API) CallerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := a.auth.authenticate(r)
		if err != nil {
			status := http.StatusUnauthorized
			switch {
			case errors.Is(err, errIPNotAllowed), errors.Is(err, errBadSecret):
				status = http.StatusForbidden
			case errors.Is(err, errAuthUnconfigured):
				status = http.StatusServiceUnavailable
			}
			a.audit.logFailure(AuditCallerRejected, r, err.Error())
			msg := err.Error()
			if errors.Is(err, errBadToken) {
				msg = errBadToken.Error()
			}
			writeError(w, status, msg)
			return
		}
		ctx := context.WithValue(r.Context(), callerKey{}, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
