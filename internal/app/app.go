// Package app wires configuration, candle sources, caches, the HTTP API,
// the websocket hub and the cache warmer into one runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"marketdash/config"
	"marketdash/internal/analytics"
	"marketdash/internal/api"
	"marketdash/internal/cache"
	"marketdash/internal/gateway"
	"marketdash/internal/metrics"
	"marketdash/internal/source"
	"marketdash/internal/warmer"
)

// Options tunes how the App is assembled.
type Options struct {
	// Offline serves candles from the sqlite archive only.
	Offline bool
	// Registerer receives the prometheus collectors. Nil uses the default registry.
	Registerer prometheus.Registerer
	// Sources overrides the exchange clients (tests).
	Sources map[string]source.CandleSource
}

// App is the assembled service.
type App struct {
	Config   *config.Config
	Metrics  *metrics.Metrics
	Health   *metrics.HealthStatus
	Registry *source.Registry
	Service  *analytics.Service
	Hub      *gateway.Hub

	redis   *cache.RedisStore
	archive *source.Archive
	handler http.Handler
}

// New builds every component from cfg. Redis and the archive are optional:
// an unreachable Redis degrades to the in-memory store.
func New(cfg *config.Config, opts Options) (*App, error) {
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &App{
		Config:  cfg,
		Metrics: metrics.NewMetrics(reg),
		Health:  metrics.NewHealthStatus(),
	}

	if cfg.SQLitePath != "" {
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create archive dir: %w", err)
			}
		}
		archive, err := source.OpenArchive(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.archive = archive
		a.Health.Register("sqlite", archive)
	} else if opts.Offline {
		return nil, errors.New("offline mode needs SQLITE_PATH")
	}

	registry, err := a.buildRegistry(opts)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Registry = registry

	var store cache.Store = cache.NewMemoryStore()
	if cfg.RedisAddr != "" && !opts.Offline {
		rs, err := cache.NewRedisStore(cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			slog.Warn("[app] redis unavailable, using in-memory cache", "addr", cfg.RedisAddr, "error", err)
		} else {
			a.redis = rs
			store = rs
			a.Health.Register("redis", rs)
		}
	}

	a.Service = analytics.NewService(analytics.Options{
		Registry:      registry,
		DefaultSymbol: cfg.DefaultSymbol,
		Store:         store,
		TTL: analytics.TTLs{
			Heatmap:     cfg.CacheTTL.Heatmap,
			MVRV:        cfg.CacheTTL.MVRV,
			PiCycle:     cfg.CacheTTL.PiCycle,
			StockToFlow: cfg.CacheTTL.StockToFlow,
			Technical:   cfg.CacheTTL.Technical,
		},
		Metrics: a.Metrics,
	})

	a.Hub = gateway.NewHub(a.Service.Last, a.Metrics)
	if a.redis != nil {
		a.Hub.UseRedis(a.redis.Client(), gateway.DefaultRelayChannel)
	}
	a.Service.OnRefresh(a.Hub.Publish)

	a.handler = api.NewRouter(a.Service, registry.Names(), func(mux *http.ServeMux) {
		gateway.RegisterRoutes(mux, a.Hub)
	})
	return a, nil
}

func (a *App) buildRegistry(opts Options) (*source.Registry, error) {
	cfg := a.Config
	registry := source.NewRegistry(cfg.DefaultExchange)

	if opts.Offline {
		for _, name := range []string{"binance", "bybit"} {
			registry.Register(name, source.NewOfflineSource(name, a.archive))
		}
		return registry, nil
	}

	clients := opts.Sources
	if clients == nil {
		cc := func(base string) source.ClientConfig {
			return source.ClientConfig{
				BaseURL:   base,
				RateLimit: cfg.RateLimit,
				Timeout:   cfg.RequestTimeout,
				Metrics:   a.Metrics,
			}
		}
		clients = map[string]source.CandleSource{
			"binance": source.NewBinanceClient(cc(cfg.BinanceBaseURL)),
			"bybit":   source.NewBybitClient(cc(cfg.BybitBaseURL)),
		}
	}
	for name, client := range clients {
		var src source.CandleSource = source.NewGuardedSource(client,
			source.NewCircuitBreaker(cfg.BreakerFailures, cfg.BreakerCooldown), a.Metrics)
		if a.archive != nil {
			src = source.NewArchiveSource(src, a.archive)
		}
		registry.Register(name, src)
	}
	if _, err := registry.Get(""); err != nil {
		return nil, fmt.Errorf("default exchange: %w", err)
	}
	return registry, nil
}

// Handler returns the HTTP handler serving the API and the websocket.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves until ctx is cancelled, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config

	w := warmer.New(ctx, a.Service, a.Metrics)
	if err := w.Register(cfg.WarmCron); err != nil {
		return err
	}

	metricsSrv := metrics.NewServer(cfg.MetricsAddr, a.Health)
	metricsSrv.Start()
	a.Health.StartLivenessChecker(ctx, 15*time.Second)

	go a.Hub.Run(ctx)

	w.Start()
	if cfg.WarmOnStart {
		go w.RunNow()
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("[app] serving", "addr", cfg.HTTPAddr, "exchanges", a.Registry.Names(), "default", a.Registry.Default())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("[app] shutdown signal received, cleaning up...")
	case serveErr = <-errCh:
		slog.Error("[app] server error", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	w.Stop()
	metricsSrv.Stop(shutdownCtx)
	slog.Info("[app] shutdown complete")
	return serveErr
}

// Close releases Redis and the archive.
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.archive != nil {
		errs = append(errs, a.archive.Close())
	}
	return errors.Join(errs...)
}
