// Command taskservice is the task backend. It answers the task operations
// from MySQL over both the Redis queue and the HTTP RPC endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	intconfig "gateway/internal/config"
	"gateway/internal/http/middleware"
	"gateway/internal/repositories"
	"gateway/internal/services"
	"gateway/internal/transport"
	"gateway/internal/transport/queue"
	"gateway/internal/transport/stub"
	"gateway/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func main() {
	if err := intconfig.LoadDotEnv(); err != nil {
		log.Printf("warning: .env not loaded: %v", err)
	}
	env := intconfig.LoadTaskServiceEnv()

	logger, err := utils.NewLogger(env.LogLevel, false)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(env, logger); err != nil {
		logger.Fatal("taskservice stopped", zap.Error(err))
	}
}

func run(env intconfig.TaskServiceEnv, logger *zap.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := intconfig.OpenDB(ctx, env.DSN)
	if err != nil {
		return err
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     env.RedisAddr,
		Password: env.RedisPassword,
		DB:       env.RedisDB,
		// BRPOP blocks for the poll interval; cancellation ends it.
		ContextTimeoutEnabled: true,
	})
	defer func() {
		err = multierr.Combine(err, rdb.Close(), db.Close())
	}()

	mux := transport.NewMux()
	services.TaskService{
		Repo:   repositories.TaskRepository{DB: db},
		Logger: logger,
	}.Register(mux)
	logger.Info("task operations registered", zap.Strings("operations", mux.Operations()))

	qs := queue.NewServer(rdb, mux, queue.ServerConfig{Queue: env.Queue, Workers: env.Workers}, logger)

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logger(logger), gin.Recovery())
	stub.NewServer(mux, logger).Register(r)
	srv := &http.Server{
		Addr:              env.RPCAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := qs.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("queue server: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		logger.Info("rpc endpoint listening", zap.String("addr", env.RPCAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("rpc server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	runErr = multierr.Append(runErr, srv.Shutdown(shutdownCtx))
	wg.Wait()
	return runErr
}
