package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	intconfig "gateway/internal/config"
	"gateway/internal/domain"
	"gateway/internal/gateway"
	router "gateway/internal/http"
	"gateway/internal/http/handlers"
	"gateway/internal/http/middleware"
	"gateway/internal/metrics"
	"gateway/internal/services"
	"gateway/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	if err := intconfig.LoadDotEnv(); err != nil {
		log.Printf("warning: .env not loaded: %v", err)
	}
	env := intconfig.LoadEnv()
	if env.GinMode != "" {
		gin.SetMode(env.GinMode)
	}

	logger, err := utils.NewLogger(env.LogLevel, env.GinMode == gin.DebugMode)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(env, logger); err != nil {
		logger.Fatal("gateway stopped", zap.Error(err))
	}
}

func run(env intconfig.Env, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb redis.UniversalClient
	if env.UsesQueue() {
		rdb = redis.NewClient(&redis.Options{
			Addr:                  env.RedisAddr,
			Password:              env.RedisPassword,
			DB:                    env.RedisDB,
			ContextTimeoutEnabled: true,
		})
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	registry, err := gateway.Dial(dialCtx, rdb, endpoints(env), logger)
	cancel()
	if err != nil {
		if rdb != nil {
			_ = rdb.Close()
		}
		return fmt.Errorf("dial backends: %w", err)
	}
	defer func() {
		if err := registry.Close(); err != nil {
			logger.Warn("closing backends", zap.Error(err))
		}
	}()

	m := metrics.New()
	fwd := gateway.NewForwarder(registry, env.RPCTimeout, logger, m)
	api := &handlers.API{
		Forwarder: fwd,
		Dashboard: services.DashboardService{
			Forwarder:      fwd,
			Orchestrator:   gateway.NewOrchestrator(logger, m),
			SectionTimeout: env.SectionTimeout,
			Logger:         logger,
		},
		Readiness:    registry,
		PageMaxLimit: env.PageMaxLimit,
		RPCTimeout:   env.RPCTimeout,
		Logger:       logger,
	}

	limiter := middleware.NewRateLimiter(env.RateLimitRPS, env.RateLimitBurst, logger)
	limiter.StartCleanup(ctx, time.Minute)

	r := router.NewRouter(router.Options{
		API:         api,
		Metrics:     m,
		RateLimiter: limiter,
		CORSOrigins: env.CORSOrigins,
		Logger:      logger,
	})

	srv := &http.Server{
		Addr:              env.AppAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       20 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", zap.String("addr", env.AppAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("gateway stopped cleanly")
	return nil
}

func endpoints(env intconfig.Env) map[domain.Backend]gateway.Endpoint {
	out := make(map[domain.Backend]gateway.Endpoint, len(env.Backends))
	for b, be := range env.Backends {
		out[b] = gateway.Endpoint{Transport: be.Transport, Queue: be.Queue, URL: be.URL}
	}
	return out
}
