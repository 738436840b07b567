package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sentinelbist/sentinel/internal/broker"
	"github.com/sentinelbist/sentinel/internal/cache"
	"github.com/sentinelbist/sentinel/internal/config"
	"github.com/sentinelbist/sentinel/internal/control"
	"github.com/sentinelbist/sentinel/internal/degraded"
	"github.com/sentinelbist/sentinel/internal/engine"
	"github.com/sentinelbist/sentinel/internal/httpapi"
	"github.com/sentinelbist/sentinel/internal/lifecycle"
	"github.com/sentinelbist/sentinel/internal/marketdata"
	"github.com/sentinelbist/sentinel/internal/observability"
	"github.com/sentinelbist/sentinel/internal/quotes"
	"github.com/sentinelbist/sentinel/internal/session"
)

const inFlightCheckInterval = 100 * time.Millisecond

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	feedClient, err := marketdata.NewFeedClientWithRetry(
		cfg.MarketAPIKey,
		cfg.MarketQuoteURL,
		cfg.MarketNewsURL,
		cfg.MarketAPITimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
	)
	if err != nil {
		logger.Fatal("market data client", zap.Error(err))
	}

	breaker := marketdata.NewBreaker(marketdata.BreakerConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		Cooldown:         cfg.BreakerCooldown,
		OnStateChange: func(from, to marketdata.BreakerState) {
			observability.RecordCircuitBreakerTransition("market_api", from.String(), to.String())
			observability.SetCircuitBreakerStateGauge("market_api", float64(to))
		},
	})
	feedClient.SetBreaker(breaker)
	observability.SetCircuitBreakerStateGauge("market_api", 0)

	var quoteCache cache.Cache
	var memcacheCloser *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcacheCloser = mc
		quoteCache = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		quoteCache = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}
	quoteService := quotes.NewService(feedClient, quoteCache, cfg.CacheTTL, cfg.StaleQuoteTTL, cfg.CoalesceEnabled, cfg.CoalesceTimeout)

	for _, p := range []string{cfg.StatePath, cfg.SwitchPath} {
		if dir := filepath.Dir(p); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				logger.Fatal("state directory", zap.String("dir", dir), zap.Error(err))
			}
		}
	}

	store := broker.NewStateStore(cfg.StatePath)
	virtualBroker, err := broker.NewVirtualBroker(
		broker.WithInitialBalance(cfg.InitialBalance),
		broker.WithAllocationFraction(cfg.AllocationFraction),
		broker.WithStateStore(store),
	)
	if err != nil {
		logger.Fatal("broker state", zap.Error(err))
	}
	logger.Info("virtual broker ready",
		zap.Float64("balance", virtualBroker.Balance()),
		zap.Int("openPositions", len(virtualBroker.Positions())))

	calendar, err := session.NewCalendar(cfg.SessionTimezone)
	if err != nil {
		logger.Fatal("session calendar", zap.Error(err))
	}
	decisionEngine := engine.New(quoteService, virtualBroker, logger, calendar.Location())
	engineSwitch := control.NewSwitch(cfg.SwitchPath)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		err := engineSwitch.Watch(rootCtx, logger, func(status control.Status) {
			if status.Running {
				observability.EngineRunning.Set(1)
			} else {
				observability.EngineRunning.Set(0)
			}
		})
		if err != nil && err != context.Canceled {
			logger.Warn("engine switch watcher stopped", zap.Error(err))
		}
	}()

	runner := session.NewRunner(calendar, engineSwitch, func(ctx context.Context) {
		decisionEngine.RunCycle(ctx, cfg.Tickers)
	}, cfg.CycleInterval, logger)
	go runner.Run(rootCtx)

	// Degraded-state recovery re-validates the market feed on a Fibonacci
	// backoff and flags shutdown when attempts are exhausted.
	go degraded.StartRecoveryListener(rootCtx, logger, feedClient.ValidateAPIKey,
		cfg.DegradedRetryInitial, cfg.DegradedRetryMax, func() {
			logger.Error("recovery attempts exhausted")
			lifecycle.SetShuttingDown(true)
		})

	healthConfig := &httpapi.HealthConfig{
		OverloadWindow:         cfg.OverloadWindow,
		OverloadThresholdPct:   cfg.OverloadThresholdPct,
		RateLimitRPS:           cfg.RateLimitRPS,
		RateLimitBurst:         cfg.RateLimitBurst,
		DegradedWindow:         cfg.DegradedWindow,
		DegradedErrorPct:       cfg.DegradedErrorPct,
		DegradedRetryInitial:   cfg.DegradedRetryInitial,
		DegradedRetryMax:       cfg.DegradedRetryMax,
		IdleWindow:             cfg.IdleWindow,
		IdleThresholdReqPerMin: cfg.IdleThresholdReqPerMin,
		MinimumLifespan:        cfg.MinimumLifespan,
		StartTime:              time.Now(),
	}
	if memcacheCloser != nil {
		healthConfig.CachePing = memcacheCloser.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httpapi.NewHandler(quoteService, feedClient, virtualBroker, decisionEngine, engineSwitch, healthConfig, logger, limiter)

	observability.RegisterRateLimitGauges(cfg.OverloadWindow)
	if len(cfg.TrackedSymbols) > 0 {
		observability.SetTrackedSymbols(cfg.TrackedSymbols)
	}

	if cfg.WarmOnStartup && len(cfg.Tickers) > 0 {
		warmer := cache.NewWarmer(quoteService, logger)
		warmCtx, warmCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := warmer.Warm(warmCtx, cfg.Tickers); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		warmCancel()
		if cfg.WarmInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(rootCtx, cfg.Tickers, cfg.WarmInterval); err != nil && err != context.Canceled {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}()
		}
	}

	router := mux.NewRouter()
	router.Use(httpapi.CorrelationIDMiddleware(logger))
	router.Use(httpapi.MetricsMiddleware)
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())
	router.HandleFunc("/portfolio", handler.GetPortfolio).Methods("GET")
	router.HandleFunc("/positions", handler.GetPositions).Methods("GET")
	router.HandleFunc("/trades", handler.GetTrades).Methods("GET")
	router.HandleFunc("/decisions", handler.GetDecisions).Methods("GET")
	router.HandleFunc("/engine", handler.GetEngine).Methods("GET")
	router.HandleFunc("/engine/start", handler.PostEngineStart).Methods("POST")
	router.HandleFunc("/engine/stop", handler.PostEngineStop).Methods("POST")
	quoteRouter := router.PathPrefix("/quotes").Subrouter()
	quoteRouter.Use(httpapi.RateLimitMiddleware(limiter))
	quoteRouter.Use(httpapi.TimeoutMiddleware(cfg.RequestTimeout))
	quoteRouter.HandleFunc("/{ticker}", handler.GetQuote).Methods("GET")

	if cfg.TestingMode {
		logger.Warn("Testing mode enabled; /test endpoint exposed")
		router.HandleFunc("/test", handler.GetTestStatus).Methods("GET")
		router.HandleFunc("/test/{action}", handler.PostTestAction).Methods("POST")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httpapi.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	observability.RecordShutdownInFlight(inFlight)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer waitCancel()
	if err := httpapi.WaitForInFlight(waitCtx, inFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httpapi.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
