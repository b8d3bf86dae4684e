// Package config loads the bridge server configuration from an optional YAML
// file and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the bridge server.
type Config struct {
	Environment string  `yaml:"environment"`
	Algolab     Algolab `yaml:"algolab"`
	Session     Session `yaml:"session"`
	Auth        Auth    `yaml:"auth"`
	Server      Server  `yaml:"server"`
	Logging     Logging `yaml:"logging"`
}

// Algolab holds the broker endpoint and client behaviour.
type Algolab struct {
	APIURL             string        `yaml:"api_url"`
	WSURL              string        `yaml:"ws_url"`
	Hostname           string        `yaml:"hostname"`
	UseMock            bool          `yaml:"use_mock"`
	MockSuccessRate    float64       `yaml:"mock_success_rate"`
	MinRequestInterval time.Duration `yaml:"min_request_interval"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
}

// Session selects the session store backend.
type Session struct {
	Backend    string        `yaml:"backend"`
	RedisURL   string        `yaml:"redis_url"`
	BoltPath   string        `yaml:"bolt_path"`
	TTL        time.Duration `yaml:"ttl"`
	SealSecret string        `yaml:"seal_secret"`
}

// Auth configures how callers of the bridge are authenticated.
type Auth struct {
	JWTSecret      string   `yaml:"jwt_secret"`
	SharedSecret   string   `yaml:"shared_secret"`
	AllowedIPs     []string `yaml:"allowed_ips"`
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Session backends.
const (
	BackendRedis  = "redis"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// DefaultJWTSecret is the development fallback. Validate rejects it in
// production.
const DefaultJWTSecret = "dummy-secret-for-testing-only"

// Default returns the configuration used when neither file nor environment
// says otherwise.
func Default() *Config {
	return &Config{
		Environment: "development",
		Algolab: Algolab{
			APIURL:             "https://www.algolab.com.tr",
			WSURL:              "wss://www.algolab.com.tr/api/ws",
			Hostname:           "www.algolab.com.tr",
			UseMock:            true,
			MockSuccessRate:    0.95,
			MinRequestInterval: 5 * time.Second,
			RequestTimeout:     30 * time.Second,
		},
		Session: Session{
			Backend:  BackendRedis,
			RedisURL: "redis://localhost:6379/0",
			BoltPath: "./data/sessions.db",
			TTL:      time.Hour,
		},
		Auth: Auth{
			JWTSecret: DefaultJWTSecret,
		},
		Server: Server{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load starts from Default, overlays the YAML file at path when path is not
// empty, applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(name); ok && v != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}
	float := func(name string, dst *float64) {
		if v, ok := lookup(name); ok && v != "" {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = f
		}
	}
	seconds := func(name string, dst *time.Duration) {
		if v, ok := lookup(name); ok && v != "" {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = time.Duration(f * float64(time.Second))
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = splitList(v)
		}
	}

	str("ENVIRONMENT", &cfg.Environment)

	str("ALGOLAB_API_URL", &cfg.Algolab.APIURL)
	str("ALGOLAB_WS_URL", &cfg.Algolab.WSURL)
	str("ALGOLAB_HOSTNAME", &cfg.Algolab.Hostname)
	boolean("ALGOLAB_USE_MOCK", &cfg.Algolab.UseMock)
	float("MOCK_SUCCESS_RATE", &cfg.Algolab.MockSuccessRate)
	seconds("MIN_REQUEST_INTERVAL_SECONDS", &cfg.Algolab.MinRequestInterval)
	seconds("ALGOLAB_REQUEST_TIMEOUT", &cfg.Algolab.RequestTimeout)

	str("SESSION_BACKEND", &cfg.Session.Backend)
	str("REDIS_URL", &cfg.Session.RedisURL)
	str("SESSION_BOLT_PATH", &cfg.Session.BoltPath)
	seconds("SESSION_TTL_SECONDS", &cfg.Session.TTL)
	str("SESSION_SEAL_SECRET", &cfg.Session.SealSecret)

	str("BRIDGE_JWT_SECRET", &cfg.Auth.JWTSecret)
	str("BRIDGE_SECRET_KEY", &cfg.Auth.SharedSecret)
	list("ALLOWED_RAILWAY_IPS", &cfg.Auth.AllowedIPs)
	list("TRUSTED_PROXIES", &cfg.Auth.TrustedProxies)

	str("HOST", &cfg.Server.Host)
	if v, ok := lookup("PORT"); ok && v != "" {
		p, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("PORT: %w", err))
		} else {
			cfg.Server.Port = p
		}
	}

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// IsProduction reports whether the environment is "production".
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if u, err := url.Parse(c.Algolab.APIURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("algolab.api_url %q is not an absolute URL", c.Algolab.APIURL)
	}
	if c.Algolab.Hostname == "" {
		add("algolab.hostname must not be empty")
	}
	if c.Algolab.MockSuccessRate < 0 || c.Algolab.MockSuccessRate > 1 {
		add("algolab.mock_success_rate must be within [0, 1], got %v", c.Algolab.MockSuccessRate)
	}
	if c.Algolab.MinRequestInterval <= 0 {
		add("algolab.min_request_interval must be positive")
	}
	if c.Algolab.RequestTimeout <= 0 {
		add("algolab.request_timeout must be positive")
	}

	switch c.Session.Backend {
	case BackendRedis:
		if c.Session.RedisURL == "" {
			add("session.redis_url is required for the redis backend")
		}
	case BackendBolt:
		if c.Session.BoltPath == "" {
			add("session.bolt_path is required for the bolt backend")
		}
	case BackendMemory:
	default:
		add("session.backend %q is not one of redis, bolt, memory", c.Session.Backend)
	}
	if c.Session.TTL < time.Minute {
		add("session.ttl must be at least 1m, got %s", c.Session.TTL)
	}

	if c.Auth.JWTSecret == "" && c.Auth.SharedSecret == "" {
		add("one of auth.jwt_secret or auth.shared_secret is required")
	}
	if c.IsProduction() && c.Auth.JWTSecret == DefaultJWTSecret {
		add("auth.jwt_secret must be changed from the development default in production")
	}
	for _, ip := range c.Auth.AllowedIPs {
		if _, err := netip.ParseAddr(ip); err != nil {
			add("auth.allowed_ips: %q is not an IP address", ip)
		}
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port %d is out of range", c.Server.Port)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text", "console":
	default:
		add("logging.format %q is not one of json, text, console", c.Logging.Format)
	}

	return errors.Join(errs...)
}

// TrustedProxyPrefixes parses Auth.TrustedProxies. Bare addresses are
// accepted as single-host prefixes.
func (c *Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.Auth.TrustedProxies))
	for _, raw := range c.Auth.TrustedProxies {
		if p, err := netip.ParsePrefix(raw); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("auth.trusted_proxies: %q is neither a CIDR nor an IP address", raw)
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// SignerHostname is the value mixed into the broker checker: the configured
// hostname with an https:// scheme.
func (c *Config) SignerHostname() string {
	h := c.Algolab.Hostname
	if strings.HasPrefix(h, "https://") || strings.HasPrefix(h, "http://") {
		return h
	}
	return "https://" + h
}
