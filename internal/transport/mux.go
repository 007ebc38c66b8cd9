package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"gateway/internal/domain"
)

// HandlerFunc serves one named operation on the backend side.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

// Mux routes operations to handlers. Both the queue server and the stub
// server dispatch through it so a backend registers its operations once.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewMux() *Mux {
	return &Mux{handlers: make(map[string]HandlerFunc)}
}

func (m *Mux) Handle(operation string, h HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[operation] = h
}

func (m *Mux) Operations() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ops := make([]string, 0, len(m.handlers))
	for op := range m.handlers {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Dispatch runs the handler for operation and always returns an envelope.
func (m *Mux) Dispatch(ctx context.Context, id, operation string, payload json.RawMessage) (env Envelope) {
	m.mu.RLock()
	h, ok := m.handlers[operation]
	m.mu.RUnlock()
	if !ok {
		return Failure(id, domain.NotFoundError{Resource: "operation", ID: operation})
	}

	defer func() {
		if r := recover(); r != nil {
			env = Failure(id, domain.InternalError{Msg: fmt.Sprintf("operation %s panicked", operation)})
		}
	}()

	out, err := h(ctx, payload)
	if err != nil {
		return Failure(id, err)
	}
	env, err = Success(id, out)
	if err != nil {
		return Failure(id, domain.InternalError{Err: err})
	}
	return env
}
