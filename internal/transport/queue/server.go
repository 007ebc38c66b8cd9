package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"gateway/internal/transport"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type ServerConfig struct {
	Queue        string
	Workers      int
	ReplyTTL     time.Duration
	PollInterval time.Duration
}

// Server is the backend side: it pops requests off a queue, dispatches them
// through the mux on a bounded pool and pushes the reply envelope to the
// request's reply key.
type Server struct {
	rdb      redis.UniversalClient
	mux      *transport.Mux
	queue    string
	workers  int
	replyTTL time.Duration
	poll     time.Duration
	logger   *zap.Logger
}

func NewServer(rdb redis.UniversalClient, mux *transport.Mux, cfg ServerConfig, logger *zap.Logger) *Server {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.ReplyTTL <= 0 {
		cfg.ReplyTTL = time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		rdb:      rdb,
		mux:      mux,
		queue:    cfg.Queue,
		workers:  cfg.Workers,
		replyTTL: cfg.ReplyTTL,
		poll:     cfg.PollInterval,
		logger:   logger.With(zap.String("queue", cfg.Queue)),
	}
}

// Serve blocks until ctx is done; in-flight requests finish before it returns.
func (s *Server) Serve(ctx context.Context) error {
	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup

	s.logger.Info("queue server started", zap.Int("workers", s.workers), zap.Strings("operations", s.mux.Operations()))
	defer func() {
		wg.Wait()
		s.logger.Info("queue server stopped")
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		res, err := s.rdb.BRPop(ctx, s.poll, s.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("pop request failed", zap.Error(err))
			select {
			case <-time.After(s.poll):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		if len(res) != 2 {
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return nil
		}
		wg.Add(1)
		go func(raw string) {
			defer wg.Done()
			defer func() { <-sem }()
			s.handle(ctx, raw)
		}(res[1])
	}
}

func (s *Server) handle(ctx context.Context, raw string) {
	var req transport.Request
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		s.logger.Warn("drop malformed request", zap.Error(err))
		return
	}
	if req.ReplyTo == "" {
		s.logger.Warn("drop request without reply key", zap.String("id", req.ID), zap.String("pattern", req.Pattern))
		return
	}

	env := s.mux.Dispatch(transport.WithRequestID(ctx, req.RequestID), req.ID, req.Pattern, req.Data)
	if !env.OK && env.Error != nil && env.Error.StatusCode >= 500 {
		s.logger.Error("operation failed",
			zap.String("id", req.ID),
			zap.String("request_id", req.RequestID),
			zap.String("pattern", req.Pattern),
			zap.Int("status", env.Error.StatusCode),
		)
	}

	body, err := json.Marshal(env)
	if err != nil {
		s.logger.Error("marshal reply", zap.String("id", req.ID), zap.Error(err))
		return
	}

	// the reply must go out even when shutdown has begun
	replyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	pipe := s.rdb.TxPipeline()
	pipe.LPush(replyCtx, req.ReplyTo, body)
	pipe.Expire(replyCtx, req.ReplyTo, s.replyTTL)
	if _, err := pipe.Exec(replyCtx); err != nil {
		s.logger.Warn("push reply failed", zap.String("id", req.ID), zap.Error(err))
	}
}
