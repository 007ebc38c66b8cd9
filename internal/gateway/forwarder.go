package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"gateway/internal/domain"
	"gateway/internal/transport"

	"go.uber.org/zap"
)

// ClientSource resolves the long-lived connection for a backend.
type ClientSource interface {
	Client(target domain.Backend) (transport.Client, error)
}

// CallObserver records one remote call. Outcome is "ok" or the lower-case
// error kind.
type CallObserver interface {
	ObserveCall(target domain.Backend, operation, outcome string, elapsed time.Duration)
}

// Forwarder relays one inbound request to exactly one backend operation.
type Forwarder struct {
	clients  ClientSource
	timeout  time.Duration
	logger   *zap.Logger
	observer CallObserver
}

func NewForwarder(clients ClientSource, timeout time.Duration, logger *zap.Logger, observer CallObserver) *Forwarder {
	if timeout <= 0 {
		timeout = transport.DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forwarder{clients: clients, timeout: timeout, logger: logger, observer: observer}
}

// Forward returns the backend reply unchanged. Any failure comes back as a
// *Error. A non-positive timeout uses the forwarder default.
func (f *Forwarder) Forward(ctx context.Context, target domain.Backend, operation string, payload any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = f.timeout
	}
	d := transport.Descriptor{Target: target, Operation: operation, Payload: payload}

	start := time.Now()
	reply, err := f.invoke(ctx, d, timeout)
	elapsed := time.Since(start)

	if err != nil {
		gerr := Normalize(err)
		f.observe(d, outcomeOf(gerr), elapsed)
		f.logFailure(d, gerr, err, elapsed)
		return nil, gerr
	}
	f.observe(d, "ok", elapsed)
	return reply, nil
}

// ForwardInto decodes the reply into out.
func (f *Forwarder) ForwardInto(ctx context.Context, target domain.Backend, operation string, payload any, timeout time.Duration, out any) error {
	reply, err := f.Forward(ctx, target, operation, payload, timeout)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(reply, out); err != nil {
		gerr := newError(KindInternal, msgInternal)
		gerr.Detail = "decode " + target.String() + " " + operation + " reply: " + err.Error()
		f.logger.Error("remote reply decode failed",
			zap.String("backend", target.String()),
			zap.String("operation", operation),
			zap.Error(err),
		)
		return gerr
	}
	return nil
}

func (f *Forwarder) invoke(ctx context.Context, d transport.Descriptor, timeout time.Duration) (json.RawMessage, error) {
	client, err := f.clients.Client(d.Target)
	if err != nil {
		return nil, err
	}
	return client.Invoke(ctx, d, timeout)
}

func (f *Forwarder) observe(d transport.Descriptor, outcome string, elapsed time.Duration) {
	if f.observer != nil {
		f.observer.ObserveCall(d.Target, d.Operation, outcome, elapsed)
	}
}

func (f *Forwarder) logFailure(d transport.Descriptor, gerr *Error, raw error, elapsed time.Duration) {
	fields := []zap.Field{
		zap.String("backend", d.Target.String()),
		zap.String("operation", d.Operation),
		zap.String("kind", string(gerr.Kind)),
		zap.Int("status", gerr.HTTPStatus),
		zap.Duration("elapsed", elapsed),
	}
	switch {
	case gerr.Kind == KindTimeout || gerr.Kind == KindUnavailable:
		f.logger.Warn("remote call failed", append(fields, zap.Error(raw))...)
	case gerr.HTTPStatus >= 500:
		f.logger.Error("remote call failed", append(fields, zap.Error(raw))...)
	default:
		f.logger.Debug("remote call rejected", fields...)
	}
}

func outcomeOf(e *Error) string {
	return strings.ToLower(string(e.Kind))
}

// Call builds an aggregation section that forwards one operation and
// decodes the reply as T. The section deadline, when set, bounds the call
// instead of the forwarder default.
func Call[T any](f *Forwarder, target domain.Backend, operation string, payload any) Section {
	return func(ctx context.Context) (any, error) {
		var out T
		if err := f.ForwardInto(ctx, target, operation, payload, sectionTimeout(ctx), &out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// sectionTimeout is the time left before the context deadline, or 0 for the
// forwarder default when there is none. A spent deadline yields a tiny
// positive value so the call fails as a timeout.
func sectionTimeout(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	if left := time.Until(deadline); left > 0 {
		return left
	}
	return time.Nanosecond
}
