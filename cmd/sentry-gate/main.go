package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inferstack/sentry-gate/internal/analysis"
	"github.com/inferstack/sentry-gate/internal/api"
	"github.com/inferstack/sentry-gate/internal/cache"
	"github.com/inferstack/sentry-gate/internal/config"
	"github.com/inferstack/sentry-gate/internal/metrics"
	"github.com/inferstack/sentry-gate/internal/predictor"
	"github.com/inferstack/sentry-gate/internal/ratelimit"
	"github.com/inferstack/sentry-gate/internal/repo"
	"github.com/inferstack/sentry-gate/internal/tracker"
	"github.com/inferstack/sentry-gate/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting sentry-gate", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NewMemoryProvider()
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable, using in-process cache", slog.Any("error", err))
		} else {
			logger.Info("report cache backed by valkey", slog.String("addr", cfg.Cache.Addr))
			cacheProvider = provider
		}
	}
	defer cacheProvider.Close()

	var store repo.EventStore
	switch cfg.Store.Driver {
	case "sqlite":
		sqliteStore, err := repo.NewSQLiteEventStore(cfg.Store.Path)
		if err != nil {
			logger.Error("failed to open sqlite store", slog.String("path", cfg.Store.Path), slog.Any("error", err))
			os.Exit(1)
		}
		store = sqliteStore
		logger.Info("prediction events persisted to sqlite", slog.String("path", cfg.Store.Path))
	default:
		store = repo.NewMemoryEventStore(cfg.Store.Retention)
	}
	defer store.Close()

	tr := tracker.New(logger, store)
	if err := tr.UpdateThresholds(cfg.Thresholds); err != nil {
		logger.Error("invalid threshold config", slog.Any("error", err))
		os.Exit(1)
	}

	model := predictor.NewLexiconModel(cfg.Model.SimulatedDelay, cfg.Model.DelayJitter)

	fallback, err := analysis.NewFallbackEngine(cfg.Analyzer.RulesPath, logger)
	if err != nil {
		logger.Error("failed to load fallback rules", slog.Any("error", err))
		os.Exit(1)
	}
	providerClient := analysis.NewProviderClient(analysis.ProviderConfig{
		BaseURL:     cfg.Analyzer.BaseURL,
		APIKey:      cfg.Analyzer.APIKey,
		Model:       cfg.Analyzer.Model,
		Temperature: cfg.Analyzer.Temperature,
		MaxTokens:   cfg.Analyzer.MaxTokens,
		Timeout:     cfg.Analyzer.Timeout,
	})
	if !providerClient.Configured() {
		logger.Warn("analysis provider not configured, all analyses will use the rule engine")
	}
	retrier := analysis.NewRetrier(logger, analysis.RetrierConfig{
		MaxAttempts:    cfg.Analyzer.MaxAttempts,
		BaseDelay:      cfg.Analyzer.RetryBase,
		MaxDelay:       cfg.Analyzer.RetryMax,
		AttemptTimeout: cfg.Analyzer.Timeout,
	})
	loader := cache.NewLoader(logger, cacheProvider, cache.LoaderConfig{
		Prefix:       cfg.Cache.Prefix,
		LockTTL:      cfg.Cache.LockTTL,
		WaitBudget:   cfg.Cache.LockWait,
		PollInterval: cfg.Cache.PollInterval,
	})
	analyzer := analysis.NewAnalyzer(
		logger,
		tr,
		loader,
		ratelimit.New(cfg.Egress.Limit, cfg.Egress.Window),
		providerClient,
		retrier,
		fallback,
		analysis.AnalyzerConfig{
			ReportTTL:   cfg.Cache.ReportTTL,
			DegradedTTL: cfg.Cache.DegradedTTL,
		},
	)

	ingress := ratelimit.New(cfg.Ingress.Limit, cfg.Ingress.Window)
	handlers := api.NewHandlers(logger, model, tr, ingress, analyzer)

	server, err := api.NewServer(cfg.Server, handlers.Routes())
	if err != nil {
		logger.Error("failed to create server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Store.Retention > 0 {
		go pruneLoop(ctx, logger, store, cfg.Store.Retention)
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		logger.Info("api server listening", slog.String("address", server.Address()))
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("api server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown", slog.Any("error", err))
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	logger.Info("sentry-gate stopped")
}

// pruneLoop drops events older than the retention horizon once an hour.
func pruneLoop(ctx context.Context, logger *slog.Logger, store repo.EventStore, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.Prune(ctx, time.Now().Add(-retention))
			if err != nil {
				logger.Warn("prune prediction events", slog.Any("error", err))
				continue
			}
			if removed > 0 {
				logger.Info("pruned prediction events", slog.Int("removed", removed))
			}
		}
	}
}
