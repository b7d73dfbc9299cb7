// Command orchestrator is the long-running server: it loads configuration,
// connects to Postgres and Redis, wires every component, and runs the HTTP
// server, the Job Runner's event consumer, and the Usage Metering generator
// side by side until a shutdown signal arrives. Grounded directly on the
// teacher's cmd/billing/main.go wiring and shutdown sequence.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/openclaw/deploy-orchestrator/internal/appctx"
	"github.com/openclaw/deploy-orchestrator/internal/cache"
	"github.com/openclaw/deploy-orchestrator/internal/config"
	"github.com/openclaw/deploy-orchestrator/internal/crypto"
	"github.com/openclaw/deploy-orchestrator/internal/eventbus"
	"github.com/openclaw/deploy-orchestrator/internal/guard"
	"github.com/openclaw/deploy-orchestrator/internal/httpapi"
	"github.com/openclaw/deploy-orchestrator/internal/identity"
	"github.com/openclaw/deploy-orchestrator/internal/jobrunner"
	"github.com/openclaw/deploy-orchestrator/internal/marketplace"
	"github.com/openclaw/deploy-orchestrator/internal/payment"
	"github.com/openclaw/deploy-orchestrator/internal/ratelimit"
	"github.com/openclaw/deploy-orchestrator/internal/repo"
	"github.com/openclaw/deploy-orchestrator/internal/statemachine"
	"github.com/openclaw/deploy-orchestrator/internal/store"
	"github.com/openclaw/deploy-orchestrator/internal/usage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load failed:", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Server.LogLevel)
	defer log.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Open(cfg.Postgres.URL)
	if err != nil {
		log.Fatal("postgres connect failed", zap.Error(err))
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}

	app := appctx.New(cfg, log, db, rdb)

	keyBytes, err := hex.DecodeString(app.Config.Usage.EncryptionKeyHex)
	if err != nil {
		app.Log.Fatal("invalid CREDENTIAL_ENCRYPTION_KEY_HEX", zap.Error(err))
	}
	box, err := crypto.NewBox(keyBytes)
	if err != nil {
		app.Log.Fatal("crypto box init failed", zap.Error(err))
	}

	mediator := payment.New(app.Config.Stripe.APIKey, app.Config.Stripe.WebhookSecret, app.Config.Stripe.SuccessURL, app.Config.Stripe.CancelURL, app.Redis, app.Log)

	deploymentRepo := repo.NewDeploymentRepository(app.DB, mediator)
	userRepo := repo.NewUserRepository(app.DB)
	blacklistRepo := repo.NewProviderBlacklistRepository(app.DB)
	jobStepRepo := repo.NewJobStepRepository(app.DB)

	memCache := newCache(app.Config, app.Redis, app.Log)
	bus := newEventBus(app.Config, app.Redis, app.Log)
	limiter := newLimiter(app.Config, app.Redis)

	resolver := identity.NewJWTResolver([]byte(app.Config.JWT.PublicKeyPEM), app.Config.JWT.Issuer, app.Config.JWT.Audience)

	marketplaceClient := marketplace.NewClient(app.Config.Marketplace.BaseURL, &http.Client{Timeout: 30 * time.Second}, app.Log)
	failover := marketplace.NewFailoverEngine(marketplaceClient, blacklistRepo, app.Log)

	sm := statemachine.New(deploymentRepo, memCache, bus, app.Log)
	g := guard.New(deploymentRepo, mediator)
	usageBridge := usage.New(mediator, memCache, app.Log)

	runner := jobrunner.New(jobrunner.Config{
		MarketplaceAPIKey: app.Config.Marketplace.APIKey,
		DepositUSD:        app.Config.Marketplace.DepositUSD,
		PricingDenom:      app.Config.Marketplace.PricingDenom,
		UpstreamLLMKey:    app.Config.Usage.UpstreamLLMKey,
		ZombieGraceWindow: time.Duration(app.Config.Usage.ZombieGraceWindowSec) * time.Second,
	}, deploymentRepo, sm, marketplaceClient, failover, bus, jobStepRepo, box, app.Log)

	httpServer := httpapi.New(userRepo, g, deploymentRepo, mediator, bus, limiter, resolver, box, app.Log)

	go func() {
		if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			app.Log.Error("job runner stopped", zap.Error(err))
		}
	}()

	go usage.RunGenerator(ctx, time.Duration(app.Config.Usage.TickIntervalSec)*time.Second, deploymentRepo, userRepo, usageBridge, app.Log)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", app.Config.Server.Port),
		Handler: httpServer.Handler(),
	}

	go func() {
		app.Log.Info("HTTP server starting", zap.Int("port", app.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	app.Log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(app.Config.Server.ShutdownTimeoutSec)*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Log.Error("HTTP server shutdown error", zap.Error(err))
	}
	app.Log.Info("shutdown complete")
}

func newLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	log, err := cfg.Build()
	if err != nil {
		log = zap.NewNop()
	}
	return log
}

func newCache(cfg *config.Config, rdb *redis.Client, log *zap.Logger) cache.Cache {
	if cfg.Cache.URL == "" {
		return cache.NoOp{}
	}
	return cache.NewRedis(rdb, log)
}

func newEventBus(cfg *config.Config, rdb *redis.Client, log *zap.Logger) eventbus.Bus {
	if cfg.EventBus.Backend == "redis" {
		return eventbus.NewRedisBus(rdb, log)
	}
	return eventbus.NewInProcess(cfg.EventBus.BufferCapacity)
}

func newLimiter(cfg *config.Config, rdb *redis.Client) ratelimit.Limiter {
	if cfg.RateLimit.Backend == "redis" {
		return ratelimit.NewRedisLimiter(rdb, int64(cfg.RateLimit.Burst), time.Duration(cfg.RateLimit.WindowSec)*time.Second)
	}
	return ratelimit.NewMemory(cfg.RateLimit.RequestsPerSec, cfg.RateLimit.Burst)
}
