// Package api exposes the bridge over HTTP: a chi router whose /bridge routes
// authenticate the caller, rehydrate a broker session from the session store
// and proxy one broker operation.
package api

import (
	_ "embed"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"
	"github.com/rs/zerolog"

	"github.com/ozkandogan90-glitch/algolab-bridge-server/broker"
	"github.com/ozkandogan90-glitch/algolab-bridge-server/ratelimit"
	"github.com/ozkandogan90-glitch/algolab-bridge-server/session"
)

// Defaults for read-only call retries.
const (
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = time.Second
)

// ServiceInfo is reported by the informational routes.
type ServiceInfo struct {
	Version      string
	Environment  string
	APIURL       string
	WSURL        string
	StoreBackend string
}

// API holds the dependencies needed by the REST handlers.
type API struct {
	store     *session.Store
	gates     *ratelimit.Registry
	brokerCfg broker.Config
	clientOpt []broker.Option

	auth    *callerAuth
	lockout *verifyLockout
	audit   *auditLogger
	logger  zerolog.Logger
	info    ServiceInfo
	now     func() time.Time

	alertFn       AlertFunc
	retryAttempts int
	retryDelay    time.Duration
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the logger for request and audit events.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// WithJWTSecret enables bearer token authentication.
func WithJWTSecret(secret string) Option {
	return func(a *API) { a.auth.jwtSecret = []byte(secret) }
}

// WithSharedSecret enables X-Bridge-Secret authentication.
func WithSharedSecret(secret string) Option {
	return func(a *API) { a.auth.sharedSecret = []byte(secret) }
}

// WithAllowedIPs restricts callers to the given addresses. Unparseable
// entries are ignored; config validation rejects them earlier.
func WithAllowedIPs(ips []string) Option {
	return func(a *API) {
		for _, raw := range ips {
			if addr, err := netip.ParseAddr(raw); err == nil {
				a.auth.allowedIPs[addr.Unmap()] = struct{}{}
			}
		}
	}
}

// WithTrustedProxies sets the proxies whose forwarding headers are honoured.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) { a.auth.trustedProxies = prefixes }
}

// WithServiceInfo sets what /, /health and /bridge/broker-status report.
func WithServiceInfo(info ServiceInfo) Option {
	return func(a *API) { a.info = info }
}

// WithClientOptions appends options to every broker client the API builds.
func WithClientOptions(opts ...broker.Option) Option {
	return func(a *API) { a.clientOpt = append(a.clientOpt, opts...) }
}

// WithRetry configures retries of read-only broker calls. attempts of 1
// disables retrying.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(a *API) {
		if attempts > 0 {
			a.retryAttempts = attempts
		}
		if delay > 0 {
			a.retryDelay = delay
		}
	}
}

// WithClock replaces the wall clock used for tokens and lockouts.
func WithClock(now func() time.Time) Option {
	return func(a *API) { a.now = now }
}

// WithAlertFunc installs a callback for anomaly alerts. Without it alerts
// are logged.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) { a.alertFn = fn }
}

// New creates a new API instance. gates supplies the per-credential rate
// gate shared by every client built for that credential.
func New(store *session.Store, gates *ratelimit.Registry, brokerCfg broker.Config, opts ...Option) *API {
	a := &API{
		store:         store,
		gates:         gates,
		brokerCfg:     brokerCfg,
		auth:          &callerAuth{allowedIPs: make(map[netip.Addr]struct{})},
		logger:        zerolog.Nop(),
		now:           time.Now,
		retryAttempts: DefaultRetryAttempts,
		retryDelay:    DefaultRetryDelay,
		info:          ServiceInfo{Version: "dev", Environment: "development", APIURL: brokerCfg.BaseURL},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.auth.now = a.now
	a.lockout = newVerifyLockout(a.now)
	if a.alertFn == nil {
		logger := a.logger
		a.alertFn = func(e AlertEvent) {
			logger.Warn().Str("alert", string(e.Type)).Int("count", e.Count).Int("threshold", e.Threshold).Msg(e.Message)
		}
	}
	a.audit = newAuditLogger(a.logger, newFailureMonitor(a.alertFn, a.now), a.now)
	return a
}

// mockMode reports whether clients are simulated.
func (a *API) mockMode() bool {
	return a.brokerCfg.Mode != broker.ModeLive
}

func (a *API) isProduction() bool {
	return a.info.Environment == "production"
}

// Router returns a chi.Router with all routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(a.RequestLogger)
	r.Use(SecurityHeaders)

	r.Get("/", a.Root)
	r.Get("/health", a.Health)

	if !a.isProduction() {
		r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/yaml")
			w.Write(openapiSpec)
		})

		r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
			SpecURL: "/openapi.yaml",
			Path:    "docs",
		}, nil))

		r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
			SpecURL: "/openapi.yaml",
			Path:    "redoc",
		}, nil))
	}

	r.Route("/bridge", func(r chi.Router) {
		r.Use(a.MockModeHeader)
		r.Get("/broker-status", a.BrokerStatus)

		r.Group(func(r chi.Router) {
			r.Use(a.CallerAuth)

			r.Post("/broker-test", a.BrokerTest)
			r.Post("/login", a.Login)
			r.Post("/verify-sms", a.VerifySMS)
			r.Post("/refresh-session", a.RefreshSession)
			r.Post("/logout", a.Logout)

			r.Post("/send-order", a.SendOrder)
			r.Post("/delete-order", a.DeleteOrder)
			r.Post("/modify-order", a.ModifyOrder)

			r.Post("/portfolio", a.Portfolio)
			r.Post("/cash-flow", a.CashFlow)
			r.Post("/equity-info", a.EquityInfo)
			r.Post("/subaccounts", a.Subaccounts)
		})
	})

	return r
}

// SweepLockouts drops expired verification lockout records. Call
// periodically from a background goroutine.
func (a *API) SweepLockouts() int {
	return a.lockout.sweep()
}
