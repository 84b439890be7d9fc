package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ama3639/telegram-bot-os-sub000/internal/api"
	"github.com/ama3639/telegram-bot-os-sub000/internal/auth"
	"github.com/ama3639/telegram-bot-os-sub000/internal/clock"
	"github.com/ama3639/telegram-bot-os-sub000/internal/config"
	"github.com/ama3639/telegram-bot-os-sub000/internal/currency"
	"github.com/ama3639/telegram-bot-os-sub000/internal/ledger"
	"github.com/ama3639/telegram-bot-os-sub000/internal/security"
	"github.com/ama3639/telegram-bot-os-sub000/internal/store"
	"github.com/ama3639/telegram-bot-os-sub000/internal/worker"
	"github.com/ama3639/telegram-bot-os-sub000/pkg/audit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("starting ledgerd", "env", cfg.Environment, "http_addr", cfg.HTTPAddr, "grpc_addr", cfg.GRPCAddr)

	if err := run(cfg, logger); err != nil {
		logger.Error("ledgerd stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk, err := clock.New(cfg.Timezone)
	if err != nil {
		return err
	}

	gw, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer gw.Close()
	if err := store.Migrate(ctx, gw); err != nil {
		return err
	}

	sink, closeSink, err := openAuditSink(cfg.AuditSink)
	if err != nil {
		return err
	}
	defer closeSink()
	chain := audit.NewChainLogger(sink, audit.WithClock(clk), audit.WithLogger(logger))

	l := ledger.New(ledger.Options{Gateway: gw, Clock: clk, Logger: logger, Auditor: chain})

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, falling back to in-process rate cache", "addr", cfg.RedisAddr, "error", err)
			redisClient = nil
		}
	}

	var rateCache currency.RateCache = currency.NewMemoryCache(cfg.RateCacheTTL, clk)
	if redisClient != nil {
		rateCache = currency.NewRedisCache(redisClient, "ledgerd", cfg.RateCacheTTL, logger)
	}
	converter := currency.NewConverter(currency.Options{
		Cache: rateCache,
		Store: currency.NewRateStore(gw),
		Fiat: currency.NewExchangeRateAPI(currency.ProviderConfig{
			BaseURL: cfg.ExchangeRate.BaseURL,
			APIKey:  cfg.ExchangeRate.APIKey,
			Enabled: cfg.ExchangeRate.Enabled,
			Timeout: cfg.ProviderTimeout,
		}),
		Crypto: currency.NewCoinMarketCap(currency.ProviderConfig{
			BaseURL: cfg.CoinMarket.BaseURL,
			APIKey:  cfg.CoinMarket.APIKey,
			Enabled: cfg.CoinMarket.Enabled,
			Timeout: cfg.ProviderTimeout,
		}),
		Clock:  clk,
		MaxAge: cfg.RateMaxAge,
		Logger: logger,
	})

	refresher := &worker.RateRefresher{
		Converter: converter,
		Interval:  cfg.RateRefreshInterval,
		Logger:    logger,
		Immediate: cfg.ExchangeRate.Enabled || cfg.CoinMarket.Enabled,
	}
	refresher.Start(ctx)

	allowlist, err := security.ParseCIDRAllowlist(cfg.IPAllowlist)
	if err != nil {
		return err
	}
	var limiter *security.RedisTokenBucket
	if redisClient != nil {
		limiter = &security.RedisTokenBucket{
			Redis:      redisClient,
			Prefix:     "ledgerd_rl",
			Capacity:   cfg.RateLimitCapacity,
			RefillRate: cfg.RateLimitRefill,
		}
	}

	var validator *auth.Validator
	if cfg.JWTSecret != "" {
		validator = auth.NewValidator(cfg.JWTSecret, cfg.JWTIssuer)
	} else {
		logger.Warn("API_JWT_SECRET not set, /v1 routes are unauthenticated")
	}

	ready := func(ctx context.Context) error {
		var one int
		return gw.QueryRow(ctx, "SELECT 1").Scan(&one)
	}

	router, err := api.NewRouter(api.Dependencies{
		Logger:       logger,
		Ledger:       l,
		Converter:    converter,
		Ready:        ready,
		Auth:         validator,
		Auditor:      chain,
		RateLimiter:  limiter,
		IPAllowlist:  allowlist,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	tlsCfg := security.TLSConfig{CertFile: cfg.TLSCertFile, KeyFile: cfg.TLSKeyFile, ClientCAFile: cfg.TLSClientCAFile}
	if tlsCfg.Enabled() {
		if srv.TLSConfig, err = security.LoadServerTLSConfig(tlsCfg); err != nil {
			return err
		}
	}

	grpcServer, health := api.NewGRPCServer(api.GRPCOptions{Logger: logger, Token: cfg.GRPCToken})
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("grpc server listening", "addr", grpcLis.Addr().String())
		errCh <- grpcServer.Serve(grpcLis)
	}()
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr, "tls", tlsCfg.Enabled())
		var err error
		if tlsCfg.Enabled() {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()
	api.SetServing(health, true)

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
	}

	api.SetServing(health, false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	grpcServer.GracefulStop()
	return serveErr
}

func openAuditSink(target string) (io.Writer, func(), error) {
	switch target {
	case "":
		return nil, func() {}, nil
	case "stdout":
		return os.Stdout, func() {}, nil
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
