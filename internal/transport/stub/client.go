// Package stub implements the remote-interface transport: each operation is
// a method on the backend's RPC endpoint, called synchronously over HTTP
// with a JSON body and answered with the shared reply envelope.
package stub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"gateway/internal/domain"
	"gateway/internal/transport"

	"github.com/google/uuid"
)

const (
	maxReplyBytes = 8 << 20
	maxErrorBytes = 64 << 10

	RequestIDHeader     = "X-Request-ID"
	CorrelationIDHeader = "X-Correlation-ID"
)

type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	// MaxRetries applies only to refused connections, where the request
	// never reached the backend.
	MaxRetries int
}

type Client struct {
	target     domain.Backend
	baseURL    string
	httpClient *http.Client
	maxRetries int
	closed     atomic.Bool
}

func NewClient(target domain.Backend, cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	return &Client{
		target:     target,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: hc,
		maxRetries: cfg.MaxRetries,
	}
}

func (c *Client) Invoke(ctx context.Context, d transport.Descriptor, timeout time.Duration) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("%s: %w", d, transport.ErrClosed)
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("%s: %w: no base url", d, transport.ErrNotReady)
	}

	body, err := json.Marshal(d.Payload)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal payload: %w", d, err)
	}

	timeout = transport.EffectiveTimeout(ctx, timeout)
	if timeout <= 0 {
		return nil, fmt.Errorf("%s: %w", d, transport.ErrNoReply)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	id := uuid.NewString()
	endpoint := c.baseURL + "/rpc/" + url.PathEscape(d.Operation)
	resp, err := c.doWithRetry(ctx, id, endpoint, body, 0)
	if err != nil {
		return nil, c.fault(ctx, d, err)
	}
	defer resp.Body.Close()

	return c.decode(d, id, resp)
}

func (c *Client) doWithRetry(ctx context.Context, id, endpoint string, body []byte, attempt int) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(CorrelationIDHeader, id)
	if rid := transport.RequestID(ctx); rid != "" {
		req.Header.Set(RequestIDHeader, rid)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil && errors.Is(err, syscall.ECONNREFUSED) && attempt < c.maxRetries && ctx.Err() == nil {
		return c.doWithRetry(ctx, id, endpoint, body, attempt+1)
	}
	return resp, err
}

func (c *Client) decode(d transport.Descriptor, id string, resp *http.Response) (json.RawMessage, error) {
	limit := int64(maxReplyBytes)
	if resp.StatusCode >= 400 {
		limit = maxErrorBytes
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, &transport.ConnError{Target: c.target, Err: fmt.Errorf("read reply: %w", err)}
	}

	var probe struct {
		OK *bool `json:"ok"`
	}
	if json.Unmarshal(raw, &probe) == nil && probe.OK != nil {
		var env transport.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("%s: decode reply: %w", d, err)
		}
		if env.ID != "" && env.ID != id {
			return nil, fmt.Errorf("%s: reply correlation mismatch", d)
		}
		return env.Result()
	}

	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &transport.RemoteError{StatusCode: resp.StatusCode, Messages: []string{msg}}
	}
	if len(raw) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%s: reply is not json", d)
	}
	return raw, nil
}

// Ping calls the backend's health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return transport.ErrClosed
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &transport.ConnError{Target: c.target, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBytes))
	if resp.StatusCode != http.StatusOK {
		return &transport.ConnError{Target: c.target, Err: fmt.Errorf("health status %d", resp.StatusCode)}
	}
	return nil
}

func (c *Client) Close() error {
	c.closed.Store(true)
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) fault(ctx context.Context, d transport.Descriptor, err error) error {
	var ne net.Error
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		return fmt.Errorf("%s: %w", d, transport.ErrNoReply)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", d, err)
	default:
		return &transport.ConnError{Target: c.target, Err: err}
	}
}
