package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ozkandogan90-glitch/algolab-bridge-server/api"
	"github.com/ozkandogan90-glitch/algolab-bridge-server/broker"
	"github.com/ozkandogan90-glitch/algolab-bridge-server/internal/config"
	"github.com/ozkandogan90-glitch/algolab-bridge-server/internal/util"
	"github.com/ozkandogan90-glitch/algolab-bridge-server/ratelimit"
	"github.com/ozkandogan90-glitch/algolab-bridge-server/session"
	"github.com/ozkandogan90-glitch/algolab-bridge-server/storage"
	bboltstorage "github.com/ozkandogan90-glitch/algolab-bridge-server/storage/bbolt"
	"github.com/ozkandogan90-glitch/algolab-bridge-server/storage/memory"
	redisstorage "github.com/ozkandogan90-glitch/algolab-bridge-server/storage/redis"
)

const (
	sweepInterval        = time.Minute
	lockoutSweepInterval = 5 * time.Minute
)

var (
	port     int
	noBanner bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the bridge server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = port
		}
		logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		kv, err := openKV(ctx, cfg, logger)
		if err != nil {
			return err
		}
		store := session.NewStore(kv,
			session.WithTTL(cfg.Session.TTL),
			session.WithLogger(logger.With().Str("component", "session").Logger()),
		)
		defer store.Close()

		if !store.HealthCheck(ctx) {
			logger.Warn().Str("backend", cfg.Session.Backend).Msg("session store is not reachable yet")
		}

		a, err := newAPI(cfg, store, logger)
		if err != nil {
			return err
		}

		go func() {
			ticker := time.NewTicker(lockoutSweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if n := a.SweepLockouts(); n > 0 {
						logger.Debug().Int("removed", n).Msg("verify lockout sweep")
					}
				}
			}
		}()

		r := chi.NewRouter()
		r.Use(middleware.Recoverer)
		r.Mount("/", a.Router())

		server := &http.Server{
			Addr:              cfg.Addr(),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			// Broker calls wait on the rate gate, so writes get more room
			// than the broker timeout.
			WriteTimeout: cfg.Algolab.RequestTimeout + 2*cfg.Algolab.MinRequestInterval + 10*time.Second,
			IdleTimeout:  60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		if !noBanner {
			printBanner(cfg.Algolab.UseMock)
		}
		logger.Info().
			Str("addr", cfg.Addr()).
			Str("environment", cfg.Environment).
			Str("session_backend", cfg.Session.Backend).
			Bool("mock", cfg.Algolab.UseMock).
			Msg("starting bridge server")

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

// openKV opens the configured session backend, sealed when a seal secret
// is set. A bolt store gets a background expiry sweeper bound to ctx.
func openKV(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (storage.KV, error) {
	var kv storage.KV
	switch cfg.Session.Backend {
	case config.BackendRedis:
		rs, err := redisstorage.NewFromURL(cfg.Session.RedisURL, 5*time.Second)
		if err != nil {
			return nil, err
		}
		kv = rs
	case config.BackendBolt:
		if err := os.MkdirAll(filepath.Dir(cfg.Session.BoltPath), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		bs, err := bboltstorage.NewFromFile(cfg.Session.BoltPath, nil,
			bboltstorage.WithLogger(logger.With().Str("component", "bbolt").Logger()))
		if err != nil {
			return nil, fmt.Errorf("failed to open session storage: %w", err)
		}
		bs.StartSweeper(ctx, sweepInterval)
		kv = bs
	case config.BackendMemory:
		kv = memory.New()
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}

	if cfg.Session.SealSecret == "" {
		return kv, nil
	}
	sealed, err := storage.Sealed(kv, []byte(cfg.Session.SealSecret))
	if err != nil {
		kv.Close()
		return nil, err
	}
	return sealed, nil
}

// newAPI wires the broker configuration, the shared rate gates and caller
// authentication into an api.API.
func newAPI(cfg *config.Config, store *session.Store, logger zerolog.Logger) (*api.API, error) {
	proxies, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		return nil, err
	}
	mode := broker.ModeLive
	if cfg.Algolab.UseMock {
		mode = broker.ModeSimulated
	}
	brokerCfg := broker.Config{
		Mode:        mode,
		BaseURL:     cfg.Algolab.APIURL,
		Hostname:    cfg.SignerHostname(),
		Timeout:     cfg.Algolab.RequestTimeout,
		SuccessRate: cfg.Algolab.MockSuccessRate,
	}
	gates := ratelimit.NewRegistry(cfg.Algolab.MinRequestInterval,
		ratelimit.WithLogger(logger.With().Str("component", "ratelimit").Logger()))

	opts := []api.Option{
		api.WithLogger(logger),
		api.WithAllowedIPs(cfg.Auth.AllowedIPs),
		api.WithTrustedProxies(proxies),
		api.WithServiceInfo(api.ServiceInfo{
			Version:      Version,
			Environment:  cfg.Environment,
			APIURL:       cfg.Algolab.APIURL,
			WSURL:        cfg.Algolab.WSURL,
			StoreBackend: cfg.Session.Backend,
		}),
	}
	if cfg.Auth.JWTSecret != "" {
		opts = append(opts, api.WithJWTSecret(cfg.Auth.JWTSecret))
	}
	if cfg.Auth.SharedSecret != "" {
		opts = append(opts, api.WithSharedSecret(cfg.Auth.SharedSecret))
	}
	return api.New(store, gates, brokerCfg, opts...), nil
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&port, "port", "p", 8000, "Port to listen on (overrides config)")
	serverCmd.Flags().BoolVar(&noBanner, "no-banner", false, "Do not print the startup banner")
}
