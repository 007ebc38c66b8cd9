// Package transport is the remote call abstraction shared by the gateway and
// the backends. A Client wraps one long-lived backend connection; queue and
// stub provide the two concrete transports.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gateway/internal/domain"
)

// DefaultTimeout applies when a caller passes a non-positive timeout.
const DefaultTimeout = 5 * time.Second

var (
	ErrNotReady = errors.New("transport: connection not ready")
	ErrNoReply  = errors.New("transport: no reply before deadline")
	ErrClosed   = errors.New("transport: client closed")
)

// Descriptor names one call: which backend, which operation, what payload.
type Descriptor struct {
	Target    domain.Backend
	Operation string
	Payload   any
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s %s", d.Target, d.Operation)
}

// Client invokes named operations on one backend. Implementations must be
// safe for concurrent use.
type Client interface {
	Invoke(ctx context.Context, d Descriptor, timeout time.Duration) (json.RawMessage, error)
	Ping(ctx context.Context) error
	Close() error
}

// ConnError is a connection-level fault: the request could not be delivered
// or the reply channel broke.
type ConnError struct {
	Target domain.Backend
	Err    error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("%s: connection error: %v", e.Target, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }

// RemoteError is an application-level error the backend returned inside an
// otherwise successful transport exchange. StatusCode is 0 when the backend
// did not attach one.
type RemoteError struct {
	StatusCode int
	Messages   []string
	Detail     any
}

func (e *RemoteError) Message() string {
	return strings.Join(e.Messages, "; ")
}

func (e *RemoteError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("remote error %d: %s", e.StatusCode, e.Message())
	}
	return "remote error: " + e.Message()
}

type requestIDKey struct{}

// WithRequestID carries the inbound request id to whichever backend serves
// the call.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id stored by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// EffectiveTimeout narrows timeout to the context deadline when that is sooner.
func EffectiveTimeout(ctx context.Context, timeout time.Duration) time.Duration {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			if left < 0 {
				return 0
			}
			return left
		}
	}
	return timeout
}
