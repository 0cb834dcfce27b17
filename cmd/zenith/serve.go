// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Zenith Contributors

package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/zenithweb/zenith/internal/auth"
	"github.com/zenithweb/zenith/internal/config"
	"github.com/zenithweb/zenith/internal/kv"
	"github.com/zenithweb/zenith/internal/logging"
	"github.com/zenithweb/zenith/internal/observability"
	"github.com/zenithweb/zenith/internal/realtime"
	"github.com/zenithweb/zenith/internal/web"
)

const shutdownTimeout = 5 * time.Second

// ServeDeps holds injectable dependencies for the serve command.
// Nil fields fall back to production implementations.
type ServeDeps struct {
	// StoreFactory opens the PostgreSQL store. The returned cleanup func
	// closes it.
	StoreFactory func(ctx context.Context, dsn string) (kv.Store, func(), error)
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Zenith server",
		Long: `Start the HTTP server (site + WebSocket endpoint) and the
observability server (metrics + health probes).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config") //nolint:errcheck // flag is registered on the root command
			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, cmd, nil)
		},
	}

	defaults := config.Default()
	cmd.Flags().String("http.addr", defaults.HTTP.Addr, "site listen address")
	cmd.Flags().String("metrics.addr", defaults.Metrics.Addr, "metrics/health listen address")
	cmd.Flags().String("database.url", "", "PostgreSQL DSN (empty = in-memory store)")
	cmd.Flags().Duration("session.ttl", defaults.Session.TTL, "session lifetime")
	cmd.Flags().String("log.format", defaults.Log.Format, "log format (json or text)")
	cmd.Flags().String("log.level", defaults.Log.Level, "log level (debug, info, warn, error)")

	return cmd
}

// runServe wires the identity and realtime components together and runs
// until a shutdown signal arrives.
func runServe(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.StoreFactory == nil {
		deps.StoreFactory = func(ctx context.Context, dsn string) (kv.Store, func(), error) {
			store, err := kv.NewPostgresStore(ctx, dsn)
			if err != nil {
				return nil, nil, err
			}
			return store, store.Close, nil
		}
	}

	logging.SetDefault("zenith", version, cfg.Log.Format, cfg.Log.Level)
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := buildStore(ctx, cfg, deps, logger)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	// Identity core.
	users := auth.NewUserStore(store)
	sessions := auth.NewSessionManager(store, cfg.Session.TTL)
	service := auth.NewServiceWithLogger(
		store,
		auth.NewDirectory(store),
		auth.NewCredentialStore(store),
		users,
		sessions,
		logger,
	)

	// Realtime core.
	gateway := realtime.NewGatewayWithLogger(logger)
	binder, err := realtime.NewBinderWithLogger(sessions, users, gateway, logger)
	if err != nil {
		return err
	}
	pager, err := realtime.NewPager(binder, users, gateway)
	if err != nil {
		return err
	}
	wsHandler := realtime.NewWSHandler(gateway, binder, pager, logger,
		cfg.Realtime.SendBuffer, newOriginChecker(cfg.Realtime.AllowedOrigins))

	// HTTP surface.
	handler := web.NewHandler(service, cfg.Session.TTL, cfg.HTTP.SecureCookies, logger)
	webServer := web.NewServer(cfg.HTTP.Addr, handler.Routes(wsHandler), logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	webErrCh, err := webServer.Start()
	if err != nil {
		return oops.Code("SERVE_START_FAILED").With("server", "web").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, webErrCh, "web")

	obsServer := observability.NewServer(cfg.Metrics.Addr, func() bool { return true })
	obsErrCh, err := obsServer.Start()
	if err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stopCancel()
		if stopErr := webServer.Stop(stopCtx); stopErr != nil {
			logger.Warn("failed to stop web server during cleanup", "error", stopErr)
		}
		return oops.Code("SERVE_START_FAILED").With("server", "observability").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, obsErrCh, "observability")

	go runJanitor(ctx, store, cfg.Session.SweepInterval, logger)

	cmd.Println("Zenith server started")
	logger.Info("zenith ready",
		"http_addr", webServer.Addr(),
		"metrics_addr", obsServer.Addr(),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := webServer.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping web server", "error", err)
	}
	if err := obsServer.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// buildStore selects the backing store: PostgreSQL when a DSN is configured,
// otherwise the in-memory store.
func buildStore(ctx context.Context, cfg *config.Config, deps *ServeDeps, logger *slog.Logger) (kv.Store, func(), error) {
	if cfg.Database.URL == "" {
		logger.Warn("no database configured, using in-memory store; state is lost on restart")
		return kv.NewMemoryStore(), nil, nil
	}

	store, closeStore, err := deps.StoreFactory(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "connect to database").
			Wrap(err)
	}
	logger.Info("connected to database")
	return store, closeStore, nil
}

// newOriginChecker accepts same-origin upgrades plus the configured extra
// origins. Origins compare by scheme and host.
func newOriginChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		// Same-origin only, the upgrader's default policy.
		return nil
	}

	allowedHosts := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			allowedHosts[strings.ToLower(u.Host)] = struct{}{}
		}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		_, ok := allowedHosts[strings.ToLower(u.Host)]
		return ok
	}
}

// runJanitor periodically removes expired entries from the store. Session
// reads already treat expired entries as absent; the sweep just reclaims
// storage.
func runJanitor(ctx context.Context, store kv.Store, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := store.DeleteExpired(ctx)
			if err != nil {
				logger.Warn("expired entry sweep failed", "error", err)
				continue
			}
			if deleted > 0 {
				logger.Debug("swept expired entries", "deleted", deleted)
			}
		}
	}
}

// monitorServerErrors cancels the run context when a server reports a fatal
// error, triggering graceful shutdown of the whole process.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
