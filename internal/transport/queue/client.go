// Package queue implements command/response over a Redis list. The caller
// pushes a correlated request onto the backend's queue and blocks on a
// reply key that only that request uses, so one connection pool carries
// any number of concurrent calls.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"gateway/internal/domain"
	"gateway/internal/transport"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultReplyPrefix = "gateway:replies:"

type Config struct {
	// Queue is the list the backend consumes requests from.
	Queue string
	// ReplyPrefix is prepended to the correlation id to form the reply key.
	ReplyPrefix string
}

type Client struct {
	rdb         redis.UniversalClient
	target      domain.Backend
	queue       string
	replyPrefix string
	ready       atomic.Bool
	closed      atomic.Bool
}

// NewClient binds a backend to a queue on a shared Redis connection. The
// caller owns rdb; Close on the Client does not close it. rdb should have
// ContextTimeoutEnabled so a reply wait ends at the call deadline.
func NewClient(rdb redis.UniversalClient, target domain.Backend, cfg Config) *Client {
	queue := cfg.Queue
	if queue == "" {
		queue = string(target) + ":requests"
	}
	prefix := cfg.ReplyPrefix
	if prefix == "" {
		prefix = DefaultReplyPrefix
	}
	return &Client{
		rdb:         rdb,
		target:      target,
		queue:       queue,
		replyPrefix: prefix,
	}
}

// Connect checks the connection and marks the client ready.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.Ping(ctx); err != nil {
		c.ready.Store(false)
		return err
	}
	c.ready.Store(true)
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return transport.ErrClosed
	}
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return &transport.ConnError{Target: c.target, Err: err}
	}
	return nil
}

func (c *Client) Ready() bool { return c.ready.Load() && !c.closed.Load() }

func (c *Client) Queue() string { return c.queue }

func (c *Client) Invoke(ctx context.Context, d transport.Descriptor, timeout time.Duration) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("%s: %w", d, transport.ErrClosed)
	}
	if !c.ready.Load() {
		if err := c.Connect(ctx); err != nil {
			return nil, fmt.Errorf("%s: %w: %v", d, transport.ErrNotReady, err)
		}
	}

	payload, err := json.Marshal(d.Payload)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal payload: %w", d, err)
	}

	id := uuid.NewString()
	replyKey := c.replyPrefix + id
	body, err := json.Marshal(transport.Request{
		ID:        id,
		Pattern:   d.Operation,
		Data:      payload,
		ReplyTo:   replyKey,
		RequestID: transport.RequestID(ctx),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", d, err)
	}

	timeout = transport.EffectiveTimeout(ctx, timeout)
	if timeout <= 0 {
		return nil, fmt.Errorf("%s: %w", d, transport.ErrNoReply)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.rdb.LPush(ctx, c.queue, body).Err(); err != nil {
		return nil, c.fault(ctx, d, err)
	}

	res, err := c.rdb.BRPop(ctx, blockTimeout(timeout), replyKey).Result()
	if err != nil {
		return nil, c.fault(ctx, d, err)
	}
	if len(res) != 2 {
		return nil, &transport.ConnError{Target: c.target, Err: fmt.Errorf("malformed reply for %s", id)}
	}

	var env transport.Envelope
	if err := json.Unmarshal([]byte(res[1]), &env); err != nil {
		return nil, fmt.Errorf("%s: decode reply: %w", d, err)
	}
	if env.ID != "" && env.ID != id {
		return nil, fmt.Errorf("%s: reply correlation mismatch: got %s want %s", d, env.ID, id)
	}
	return env.Result()
}

// Close stops new invocations. The shared Redis client stays open.
func (c *Client) Close() error {
	c.closed.Store(true)
	c.ready.Store(false)
	return nil
}

func (c *Client) fault(ctx context.Context, d transport.Descriptor, err error) error {
	switch {
	case errors.Is(err, redis.Nil), errors.Is(ctx.Err(), context.DeadlineExceeded), isNetTimeout(err):
		return fmt.Errorf("%s: %w", d, transport.ErrNoReply)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", d, err)
	case errors.Is(err, redis.ErrClosed):
		c.ready.Store(false)
		return fmt.Errorf("%s: %w", d, transport.ErrNotReady)
	default:
		c.ready.Store(false)
		return &transport.ConnError{Target: c.target, Err: err}
	}
}

// blockTimeout rounds the BRPOP timeout up to whole seconds, the unit Redis
// accepts. The call context still ends the wait at the exact deadline, which
// needs a client created with ContextTimeoutEnabled.
func blockTimeout(timeout time.Duration) time.Duration {
	secs := (timeout + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}
	return secs * time.Second
}

func isNetTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
