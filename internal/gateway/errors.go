// Package gateway holds the gateway's RPC core: error normalization, the
// single-target forwarder, the aggregation orchestrator and the registry of
// long-lived backend connections.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"gateway/internal/transport"
)

type Kind string

const (
	KindNotFound    Kind = "NotFound"
	KindBadRequest  Kind = "BadRequest"
	KindConflict    Kind = "Conflict"
	KindTimeout     Kind = "Timeout"
	KindUnavailable Kind = "Unavailable"
	KindInternal    Kind = "Internal"
)

// Status is the HTTP status a kind maps to when no structured status is known.
func (k Kind) Status() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

const (
	msgTimeout     = "upstream service did not respond in time"
	msgUnavailable = "upstream service unavailable"
	msgInternal    = "internal server error"
)

// Error is the only error shape the gateway answers clients with.
type Error struct {
	Kind       Kind
	HTTPStatus int
	Message    string
	// Messages holds every entry when the backend sent a list.
	Messages []string
	// Detail keeps the raw text for errors that were not recognized.
	Detail any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.HTTPStatus, e.Message)
}

// Is matches on kind so callers can test errors.Is(err, &Error{Kind: KindTimeout}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// MessageValue is a string unless several messages were reported.
func (e *Error) MessageValue() any {
	if len(e.Messages) > 1 {
		return e.Messages
	}
	return e.Message
}

// Body is the outbound error payload.
type Body struct {
	StatusCode int    `json:"statusCode"`
	Message    any    `json:"message"`
	Path       string `json:"path,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

func (e *Error) Body(path, requestID string, now time.Time) Body {
	return Body{
		StatusCode: e.HTTPStatus,
		Message:    e.MessageValue(),
		Path:       path,
		Timestamp:  now.UTC().Format(time.RFC3339),
		RequestID:  requestID,
	}
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, HTTPStatus: kind.Status(), Message: msg}
}

// StatusError is a raw failure raised by the gateway itself, such as an
// unknown route or a rate limit rejection. Normalize honors its status.
type StatusError struct {
	Status int
	Msg    string
}

func (e StatusError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Msg)
}

var (
	notFoundMarkers    = []string{"not found", "does not exist", "no such"}
	conflictMarkers    = []string{"already exists", "duplicate", "conflict"}
	badRequestMarkers  = []string{"invalid", "constraint", "violates", "validation", "bad request", "must be", "is required"}
	timeoutMarkers     = []string{"timed out", "timeout", "deadline exceeded", "no reply"}
	unavailableMarkers = []string{"unavailable", "connection refused", "econnrefused", "not ready"}
)

// Normalize maps any error raised while talking to a backend onto a gateway
// error. A structured status wins over the text; text is sniffed in the
// order not found, conflict, bad request, then transport markers.
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}

	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}

	var se StatusError
	if errors.As(err, &se) {
		return fromStatus(se.Status, []string{se.Msg}, nil)
	}

	var remote *transport.RemoteError
	if errors.As(err, &remote) {
		if remote.StatusCode > 0 {
			return fromStatus(remote.StatusCode, remote.Messages, remote.Detail)
		}
		return fromText(remote.Message(), remote.Messages)
	}

	if isTimeout(err) {
		e := newError(KindTimeout, msgTimeout)
		e.Detail = err.Error()
		return e
	}
	if isUnavailable(err) {
		e := newError(KindUnavailable, msgUnavailable)
		e.Detail = err.Error()
		return e
	}

	return fromText(err.Error(), nil)
}

func fromStatus(status int, messages []string, detail any) *Error {
	msg := strings.Join(messages, "; ")
	var e *Error
	switch {
	case status == http.StatusNotFound:
		e = newError(KindNotFound, msg)
	case status == http.StatusConflict:
		e = newError(KindConflict, msg)
	case status == http.StatusGatewayTimeout, status == http.StatusRequestTimeout:
		e = newError(KindTimeout, msg)
	case status == http.StatusServiceUnavailable:
		e = newError(KindUnavailable, msg)
	case status >= 400 && status < 500:
		e = newError(KindBadRequest, msg)
	default:
		e = newError(KindInternal, msg)
	}
	e.HTTPStatus = status
	if status < 400 || status > 599 {
		e.HTTPStatus = http.StatusInternalServerError
	}
	if e.Message == "" {
		e.Message = http.StatusText(e.HTTPStatus)
	}
	if len(messages) > 1 {
		e.Messages = append([]string(nil), messages...)
	}
	e.Detail = detail
	return e
}

func fromText(text string, messages []string) *Error {
	lower := strings.ToLower(text)
	var e *Error
	switch {
	case containsAny(lower, notFoundMarkers):
		e = newError(KindNotFound, text)
	case containsAny(lower, conflictMarkers):
		e = newError(KindConflict, text)
	case containsAny(lower, badRequestMarkers):
		e = newError(KindBadRequest, text)
	case containsAny(lower, timeoutMarkers):
		e = newError(KindTimeout, msgTimeout)
		e.Detail = text
		return e
	case containsAny(lower, unavailableMarkers):
		e = newError(KindUnavailable, msgUnavailable)
		e.Detail = text
		return e
	default:
		e = newError(KindInternal, msgInternal)
		e.Detail = text
		return e
	}
	if len(messages) > 1 {
		e.Messages = append([]string(nil), messages...)
	}
	return e
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, transport.ErrNoReply) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isUnavailable(err error) bool {
	if errors.Is(err, transport.ErrNotReady) ||
		errors.Is(err, transport.ErrClosed) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var ce *transport.ConnError
	if errors.As(err, &ce) {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}
