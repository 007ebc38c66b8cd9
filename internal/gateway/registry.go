package gateway

import (
	"context"
	"fmt"
	"io"
	"sync"

	"gateway/internal/domain"
	"gateway/internal/transport"
	"gateway/internal/transport/queue"
	"gateway/internal/transport/stub"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Registry owns one client per backend for the life of the process.
type Registry struct {
	mu      sync.RWMutex
	clients map[domain.Backend]transport.Client
	owned   []io.Closer
	closed  bool
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[domain.Backend]transport.Client)}
}

func (r *Registry) Register(target domain.Backend, c transport.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[target] = c
}

// Own hands a shared resource to the registry so Close releases it after
// the clients.
func (r *Registry) Own(c io.Closer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owned = append(r.owned, c)
}

func (r *Registry) Client(target domain.Backend) (transport.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, fmt.Errorf("%s: %w", target, transport.ErrClosed)
	}
	c, ok := r.clients[target]
	if !ok {
		return nil, fmt.Errorf("%s: %w: no client registered", target, transport.ErrNotReady)
	}
	return c, nil
}

func (r *Registry) Backends() []domain.Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Backend, 0, len(r.clients))
	for b := range r.clients {
		out = append(out, b)
	}
	domain.SortBackends(out)
	return out
}

// Ping checks every backend concurrently. A nil entry means ready.
func (r *Registry) Ping(ctx context.Context) map[domain.Backend]error {
	backends := r.Backends()
	results := make([]error, len(backends))

	var wg sync.WaitGroup
	for i, b := range backends {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := r.Client(b)
			if err == nil {
				err = c.Ping(ctx)
			}
			results[i] = err
		}()
	}
	wg.Wait()

	out := make(map[domain.Backend]error, len(backends))
	for i, b := range backends {
		out[b] = results[i]
	}
	return out
}

func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	clients := r.clients
	owned := r.owned
	r.mu.Unlock()

	backends := make([]domain.Backend, 0, len(clients))
	for b := range clients {
		backends = append(backends, b)
	}
	domain.SortBackends(backends)

	var err error
	for _, b := range backends {
		if cerr := clients[b].Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close %s: %w", b, cerr))
		}
	}
	for _, c := range owned {
		err = multierr.Append(err, c.Close())
	}
	return err
}

const (
	TransportQueue = "queue"
	TransportStub  = "stub"
)

// Endpoint says how to reach one backend.
type Endpoint struct {
	Transport string
	Queue     string
	URL       string
}

// Dial builds a registry from endpoints. Queue backends share rdb, which the
// registry takes ownership of. A queue backend that cannot be reached yet
// is still registered and connects on first use.
func Dial(ctx context.Context, rdb redis.UniversalClient, endpoints map[domain.Backend]Endpoint, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := NewRegistry()
	usesRedis := false

	backends := make([]domain.Backend, 0, len(endpoints))
	for b := range endpoints {
		backends = append(backends, b)
	}
	domain.SortBackends(backends)

	for _, b := range backends {
		ep := endpoints[b]
		switch ep.Transport {
		case TransportQueue, "":
			if rdb == nil {
				return nil, multierr.Append(fmt.Errorf("%s: queue transport needs redis", b), reg.Close())
			}
			usesRedis = true
			c := queue.NewClient(rdb, b, queue.Config{Queue: ep.Queue})
			if err := c.Connect(ctx); err != nil {
				logger.Warn("backend not reachable yet", zap.String("backend", b.String()), zap.Error(err))
			}
			reg.Register(b, c)
		case TransportStub:
			reg.Register(b, stub.NewClient(b, stub.Config{BaseURL: ep.URL, MaxRetries: 1}))
		default:
			return nil, multierr.Append(fmt.Errorf("%s: unknown transport %q", b, ep.Transport), reg.Close())
		}
		logger.Info("backend registered",
			zap.String("backend", b.String()),
			zap.String("transport", transportName(ep.Transport)),
		)
	}
	if usesRedis {
		reg.Own(rdb)
	}
	return reg, nil
}

func transportName(t string) string {
	if t == "" {
		return TransportQueue
	}
	return t
}
