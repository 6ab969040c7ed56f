// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initInfra    — external connections (Redis, ClickHouse when configured)
//  2. initStores   — workspace resolver, secret store, trace store, webhook config
//  3. initServices — validation pipeline, dispatcher, background queue
//  4. initGateway  — proxy + management routes
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/errgroup"

	"github.com/nulpointcorp/sentinel-gateway/internal/analytics"
	"github.com/nulpointcorp/sentinel-gateway/internal/config"
	"github.com/nulpointcorp/sentinel-gateway/internal/metrics"
	"github.com/nulpointcorp/sentinel-gateway/internal/notify"
	"github.com/nulpointcorp/sentinel-gateway/internal/proxy"
	"github.com/nulpointcorp/sentinel-gateway/internal/secrets"
	"github.com/nulpointcorp/sentinel-gateway/internal/trace"
	"github.com/nulpointcorp/sentinel-gateway/internal/validation"
	"github.com/nulpointcorp/sentinel-gateway/internal/worker"
	"github.com/nulpointcorp/sentinel-gateway/internal/workspace"
)

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *slog.Logger

	// Optional external connections — nil when not configured.
	rdb  *redis.Client
	sink *analytics.Sink

	prom *metrics.Registry

	resolver   *workspace.Resolver
	secretSt   *secrets.Store
	traceStore trace.Store
	webhookCfg notify.ConfigStore
	pipeline   *validation.Pipeline
	dispatcher *notify.Dispatcher
	queue      *worker.Queue

	gw  *proxy.Gateway
	srv *fasthttp.Server
}

// New initialises all subsystems and returns a ready-to-run App.
// All resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"infra", a.initInfra},
		{"stores", a.initStores},
		{"services", a.initServices},
		{"gateway", a.initGateway},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or an error
// occurs. It closes the app gracefully when returning.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.Port)

	a.log.Info("starting gateway",
		slog.String("version", a.version),
		slog.String("addr", addr),
		slog.Bool("local_mode", a.cfg.LocalMode()),
		slog.Bool("analytics", a.sink != nil),
	)

	a.srv = &fasthttp.Server{
		Handler:            a.gw.Handler(),
		Name:               "sentinel-gateway",
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       0, // streaming responses manage their own lifetime
		MaxRequestBodySize: 10 << 20,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.srv.ListenAndServe(addr)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.srv.ShutdownWithContext(shutdownCtx); err != nil {
			a.log.Error("server shutdown error", slog.String("error", err.Error()))
		}
		a.Close()
		return nil
	})

	return g.Wait()
}

// Close releases all resources in reverse-init order. Safe to call multiple
// times.
func (a *App) Close() {
	if a.gw != nil {
		a.gw.Close()
		a.gw = nil
	}
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			a.log.Error("queue close error", slog.String("error", err.Error()))
		}
		a.queue = nil
	}
	if a.resolver != nil {
		a.resolver.Close()
		a.resolver = nil
	}
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			a.log.Error("analytics close error", slog.String("error", err.Error()))
		}
		a.sink = nil
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis close error", slog.String("error", err.Error()))
		}
		a.rdb = nil
	}
}

// ── Private helpers ──────────────────────────────────────────────────────────

// connectRedis parses the URL and verifies connectivity with a PING.
func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return rdb, nil
}

// redisPinger returns a readiness check for the HealthChecker, run under
// the checker's own deadline. Reuses the existing client — no new
// connections.
func redisPinger(rdb *redis.Client) func(context.Context) bool {
	return func(ctx context.Context) bool {
		return rdb.Ping(ctx).Err() == nil
	}
}

// redactURL replaces the userinfo portion of a URL with "***" for safe logging.
// e.g. "redis://:secret@localhost:6379" → "redis://***@localhost:6379"
func redactURL(raw string) string {
	for i, c := range raw {
		if c == '@' {
			for j := i - 1; j >= 0; j-- {
				if j+2 < len(raw) && raw[j:j+3] == "://" {
					return raw[:j+3] + "***" + raw[i:]
				}
			}
			return "***" + raw[i:]
		}
	}
	return raw
}
