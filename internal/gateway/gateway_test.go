package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"syscall"
	"testing"
	"time"

	"gateway/internal/domain"
	"gateway/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	invoke func(ctx context.Context, d transport.Descriptor, timeout time.Duration) (json.RawMessage, error)
	pingErr  error
	closeErr error
	closed   bool
}

func (f *fakeClient) Invoke(ctx context.Context, d transport.Descriptor, timeout time.Duration) (json.RawMessage, error) {
	return f.invoke(ctx, d, timeout)
}

func (f *fakeClient) Ping(context.Context) error { return f.pingErr }

func (f *fakeClient) Close() error {
	f.closed = true
	return f.closeErr
}

func replying(body string) *fakeClient {
	return &fakeClient{invoke: func(context.Context, transport.Descriptor, time.Duration) (json.RawMessage, error) {
		return json.RawMessage(body), nil
	}}
}

func failing(err error) *fakeClient {
	return &fakeClient{invoke: func(context.Context, transport.Descriptor, time.Duration) (json.RawMessage, error) {
		return nil, err
	}}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o wait" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestNormalizeStructuredStatusWins(t *testing.T) {
	cases := []struct {
		status int
		msg    string
		kind   Kind
	}{
		{http.StatusNotFound, "Task x not found", KindNotFound},
		{http.StatusConflict, "not found but conflicting", KindConflict},
		{http.StatusBadRequest, "title must be set", KindBadRequest},
		{http.StatusUnprocessableEntity, "not found", KindBadRequest},
		{http.StatusServiceUnavailable, "invalid", KindUnavailable},
		{http.StatusGatewayTimeout, "duplicate", KindTimeout},
		{http.StatusInternalServerError, "already exists", KindInternal},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			got := Normalize(&transport.RemoteError{StatusCode: tc.status, Messages: []string{tc.msg}, Detail: "d"})
			assert.Equal(t, tc.kind, got.Kind)
			assert.Equal(t, tc.status, got.HTTPStatus)
			assert.Equal(t, tc.msg, got.Message)
			assert.Equal(t, "d", got.Detail)
		})
	}
}

func TestNormalizeKeywordPrecedence(t *testing.T) {
	cases := map[string]Kind{
		"invalid id: user not found":          KindNotFound,
		"duplicate key, record does not exist": KindNotFound,
		"email already exists (invalid)":       KindConflict,
		"Duplicate entry 'a' for key":          KindConflict,
		"check constraint violated":            KindBadRequest,
		"page must be positive":                KindBadRequest,
		"crack service unavailable":            KindUnavailable,
		"request timed out":                    KindTimeout,
		"segmentation fault in worker 3":       KindInternal,
	}
	for msg, kind := range cases {
		t.Run(msg, func(t *testing.T) {
			got := Normalize(&transport.RemoteError{Messages: []string{msg}})
			assert.Equal(t, kind, got.Kind)
			assert.Equal(t, kind.Status(), got.HTTPStatus)
		})
	}
}

func TestNormalizeUnrecognizedHidesText(t *testing.T) {
	got := Normalize(errors.New("pq: relation \"secrets\" exploded"))
	assert.Equal(t, KindInternal, got.Kind)
	assert.Equal(t, http.StatusInternalServerError, got.HTTPStatus)
	assert.Equal(t, msgInternal, got.Message)
	assert.Equal(t, "pq: relation \"secrets\" exploded", got.Detail)
}

func TestNormalizeTransportFaults(t *testing.T) {
	timeouts := []error{
		fmt.Errorf("tasks GET: %w", transport.ErrNoReply),
		context.DeadlineExceeded,
		context.Canceled,
		&net.OpError{Op: "read", Err: timeoutErr{}},
	}
	for _, err := range timeouts {
		got := Normalize(err)
		assert.Equal(t, KindTimeout, got.Kind, err.Error())
		assert.Equal(t, http.StatusGatewayTimeout, got.HTTPStatus)
	}

	unavailable := []error{
		fmt.Errorf("x: %w", transport.ErrNotReady),
		transport.ErrClosed,
		&transport.ConnError{Target: domain.BackendTasks, Err: errors.New("broken pipe")},
		&net.OpError{Op: "dial", Err: syscall.ECONNREFUSED},
	}
	for _, err := range unavailable {
		got := Normalize(err)
		assert.Equal(t, KindUnavailable, got.Kind, err.Error())
		assert.Equal(t, http.StatusServiceUnavailable, got.HTTPStatus)
		assert.Equal(t, msgUnavailable, got.Message)
	}
}

func TestNormalizeMultipleMessages(t *testing.T) {
	got := Normalize(&transport.RemoteError{StatusCode: 400, Messages: []string{"title is required", "priority must be 1-5"}})
	assert.Equal(t, []string{"title is required", "priority must be 1-5"}, got.MessageValue())

	body := got.Body("/api/tasks", "rid", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"statusCode":400,"message":["title is required","priority must be 1-5"],"path":"/api/tasks","timestamp":"2026-01-02T03:04:05Z","request_id":"rid"}`, string(raw))
}

func TestNormalizeIsIdempotent(t *testing.T) {
	first := Normalize(&transport.RemoteError{StatusCode: 404, Messages: []string{"gone"}})
	assert.Same(t, first, Normalize(fmt.Errorf("wrapped: %w", first)))
	assert.Nil(t, Normalize(nil))
	assert.ErrorIs(t, first, &Error{Kind: KindNotFound})
}

func TestNormalizeStatusError(t *testing.T) {
	got := Normalize(StatusError{Status: http.StatusTooManyRequests, Msg: "too many requests"})
	assert.Equal(t, KindBadRequest, got.Kind)
	assert.Equal(t, http.StatusTooManyRequests, got.HTTPStatus)
	assert.Equal(t, "too many requests", got.Message)
}

type recordingObserver struct {
	mu       sync.Mutex
	calls    []string
	sections map[string]string
}

func (r *recordingObserver) ObserveCall(target domain.Backend, op, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf("%s/%s/%s", target, op, outcome))
}

func (r *recordingObserver) ObserveSection(section, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sections == nil {
		r.sections = map[string]string{}
	}
	r.sections[section] = outcome
}

func TestForwardPassThrough(t *testing.T) {
	reg := NewRegistry()
	var got transport.Descriptor
	reg.Register(domain.BackendTasks, &fakeClient{invoke: func(_ context.Context, d transport.Descriptor, timeout time.Duration) (json.RawMessage, error) {
		got = d
		assert.Equal(t, 2*time.Second, timeout)
		return json.RawMessage(`{"id":"x","extra":[1,2]}`), nil
	}})
	obs := &recordingObserver{}
	f := NewForwarder(reg, 2*time.Second, nil, obs)

	reply, err := f.Forward(context.Background(), domain.BackendTasks, "GET_BY_ID", map[string]string{"id": "x"}, 0)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"x","extra":[1,2]}`, string(reply))
	assert.Equal(t, "GET_BY_ID", got.Operation)
	assert.Equal(t, []string{"tasks/GET_BY_ID/ok"}, obs.calls)
}

func TestForwardNotFound(t *testing.T) {
	reg := NewRegistry()
	reg.Register(domain.BackendTasks, failing(&transport.RemoteError{StatusCode: 404, Messages: []string{"Task x not found"}}))
	obs := &recordingObserver{}
	f := NewForwarder(reg, time.Second, nil, obs)

	_, err := f.Forward(context.Background(), domain.BackendTasks, "GET_BY_ID", map[string]string{"id": "x"}, 0)
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindNotFound, gerr.Kind)
	assert.Equal(t, http.StatusNotFound, gerr.HTTPStatus)
	assert.Equal(t, "Task x not found", gerr.Message)
	assert.Equal(t, []string{"tasks/GET_BY_ID/notfound"}, obs.calls)
}

func TestForwardUnregisteredBackend(t *testing.T) {
	f := NewForwarder(NewRegistry(), time.Second, nil, nil)
	_, err := f.Forward(context.Background(), domain.BackendSchedules, "LIST", nil, 0)
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindUnavailable, gerr.Kind)
}

func TestForwardIntoDecodeFailure(t *testing.T) {
	reg := NewRegistry()
	reg.Register(domain.BackendUsers, replying(`"not an object"`))
	f := NewForwarder(reg, time.Second, nil, nil)

	var out struct{ Total int }
	err := f.ForwardInto(context.Background(), domain.BackendUsers, "GET_STAFF_STATISTICS", nil, 0, &out)
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindInternal, gerr.Kind)
	assert.Equal(t, msgInternal, gerr.Message)
}

func constant(v any) Section {
	return func(context.Context) (any, error) { return v, nil }
}

func TestAggregateIsolatesFailure(t *testing.T) {
	obs := &recordingObserver{}
	o := NewOrchestrator(nil, obs)

	res, err := o.Aggregate(context.Background(), map[string]Section{
		"s1": constant(1),
		"s2": func(context.Context) (any, error) { return nil, errors.New("boom") },
		"s3": constant(3),
		"s4": func(ctx context.Context) (any, error) {
			time.Sleep(50 * time.Millisecond)
			return 4, nil
		},
	}, time.Second)
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.Len(t, res.Sections, 4)
	for name, want := range map[string]int{"s1": 1, "s3": 3, "s4": 4} {
		v, ok := res.Value(name)
		require.True(t, ok, name)
		assert.Equal(t, want, v)
	}
	assert.False(t, res.Sections["s2"].OK)
	assert.Equal(t, KindInternal, res.Sections["s2"].Error.Kind)
	assert.Equal(t, []string{"s2"}, res.Failed())
	assert.Equal(t, "internal", obs.sections["s2"])
	assert.Equal(t, "ok", obs.sections["s4"])
}

func TestAggregateCrackServiceUnavailable(t *testing.T) {
	reg := NewRegistry()
	reg.Register(domain.BackendTasks, replying(`{"assigned":2,"completed":3}`))
	reg.Register(domain.BackendCracks, failing(&transport.RemoteError{Messages: []string{"crack service unavailable"}}))
	reg.Register(domain.BackendUsers, replying(`{"total":5}`))
	f := NewForwarder(reg, time.Second, nil, nil)

	res, err := NewOrchestrator(nil, nil).Aggregate(context.Background(), map[string]Section{
		"tasks":  Call[map[string]int](f, domain.BackendTasks, "GET_STATISTICS", nil),
		"cracks": Call[map[string]int](f, domain.BackendCracks, "GET_STATISTICS", nil),
		"staff":  Call[map[string]int](f, domain.BackendUsers, "GET_STAFF_STATISTICS", nil),
	}, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.Equal(t, map[string]int{"assigned": 2, "completed": 3}, res.Sections["tasks"].Value)
	assert.Equal(t, map[string]int{"total": 5}, res.Sections["staff"].Value)

	cracks := res.Sections["cracks"]
	require.False(t, cracks.OK)
	assert.Equal(t, KindUnavailable, cracks.Error.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, cracks.Error.HTTPStatus)
}

func TestAggregateAllFailed(t *testing.T) {
	res, err := NewOrchestrator(nil, nil).Aggregate(context.Background(), map[string]Section{
		"a": func(context.Context) (any, error) { return nil, errors.New("kaput") },
		"b": func(context.Context) (any, error) { return nil, &transport.RemoteError{StatusCode: 404, Messages: []string{"gone"}} },
		"c": func(context.Context) (any, error) { return nil, errors.New("also kaput") },
	}, time.Second)
	assert.Empty(t, res.Sections)

	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindNotFound, gerr.Kind)

	_, err = NewOrchestrator(nil, nil).Aggregate(context.Background(), map[string]Section{
		"a": func(context.Context) (any, error) { return nil, errors.New("kaput") },
	}, time.Second)
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindInternal, gerr.Kind)
}

func TestAggregateSectionTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	start := time.Now()
	res, err := NewOrchestrator(nil, nil).Aggregate(context.Background(), map[string]Section{
		"fast": constant("ok"),
		"hung": func(context.Context) (any, error) {
			<-block
			return nil, nil
		},
	}, 100*time.Millisecond)
	elapsed := time.Since(start)
	require.NoError(t, err)

	hung := res.Sections["hung"]
	require.False(t, hung.OK)
	assert.Equal(t, KindTimeout, hung.Error.Kind)
	assert.Equal(t, http.StatusGatewayTimeout, hung.Error.HTTPStatus)
	assert.Less(t, elapsed, 600*time.Millisecond)
	assert.True(t, res.Partial)
}

func TestAggregateTimeoutsAreIndependent(t *testing.T) {
	res, err := NewOrchestrator(nil, nil).Aggregate(context.Background(), map[string]Section{
		"slow": func(ctx context.Context) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
		"medium": func(ctx context.Context) (any, error) {
			select {
			case <-time.After(80 * time.Millisecond):
				return "medium", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}, 200*time.Millisecond)
	require.NoError(t, err)
	v, ok := res.Value("medium")
	require.True(t, ok)
	assert.Equal(t, "medium", v)
	assert.Equal(t, KindTimeout, res.Sections["slow"].Error.Kind)
}

func TestAggregatePanicAndEmpty(t *testing.T) {
	res, err := NewOrchestrator(nil, nil).Aggregate(context.Background(), map[string]Section{
		"bad":  func(context.Context) (any, error) { panic("nil map") },
		"good": constant(true),
		"nil":  nil,
	}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"bad", "nil"}, res.Failed())

	res, err = NewOrchestrator(nil, nil).Aggregate(context.Background(), nil, time.Second)
	require.NoError(t, err)
	assert.False(t, res.Partial)
	assert.Empty(t, res.Sections)
}

func TestAggregateNotPartialWhenAllSucceed(t *testing.T) {
	res, err := NewOrchestrator(nil, nil).Aggregate(context.Background(), map[string]Section{
		"a": constant(1), "b": constant(2),
	}, time.Second)
	require.NoError(t, err)
	assert.False(t, res.Partial)
	assert.Empty(t, res.Failed())
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestRegistryLifecycle(t *testing.T) {
	reg := NewRegistry()
	users := replying(`{}`)
	cracks := &fakeClient{pingErr: errors.New("down"), closeErr: errors.New("close failed")}
	reg.Register(domain.BackendUsers, users)
	reg.Register(domain.BackendCracks, cracks)
	ownedClosed := false
	reg.Own(closerFunc(func() error {
		ownedClosed = true
		return nil
	}))

	assert.Equal(t, []domain.Backend{domain.BackendCracks, domain.BackendUsers}, reg.Backends())

	ping := reg.Ping(context.Background())
	assert.NoError(t, ping[domain.BackendUsers])
	assert.Error(t, ping[domain.BackendCracks])

	err := reg.Close()
	assert.ErrorContains(t, err, "close cracks")
	assert.True(t, users.closed)
	assert.True(t, cracks.closed)
	assert.True(t, ownedClosed)
	assert.NoError(t, reg.Close())

	_, err = reg.Client(domain.BackendUsers)
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestDialRejectsUnknownTransport(t *testing.T) {
	_, err := Dial(context.Background(), nil, map[domain.Backend]Endpoint{
		domain.BackendCracks: {Transport: "carrier-pigeon"},
	}, nil)
	assert.ErrorContains(t, err, "unknown transport")

	_, err = Dial(context.Background(), nil, map[domain.Backend]Endpoint{
		domain.BackendTasks: {Transport: TransportQueue},
	}, nil)
	assert.ErrorContains(t, err, "needs redis")
}

func TestDialStubBackends(t *testing.T) {
	reg, err := Dial(context.Background(), nil, map[domain.Backend]Endpoint{
		domain.BackendCracks:        {Transport: TransportStub, URL: "http://127.0.0.1:1"},
		domain.BackendNotifications: {Transport: TransportStub, URL: "http://127.0.0.1:1"},
	}, nil)
	require.NoError(t, err)
	defer reg.Close()
	assert.Equal(t, []domain.Backend{domain.BackendCracks, domain.BackendNotifications}, reg.Backends())
}

func TestCallUsesSectionDeadline(t *testing.T) {
	reg := NewRegistry()
	var got time.Duration
	reg.Register(domain.BackendTasks, &fakeClient{invoke: func(_ context.Context, _ transport.Descriptor, timeout time.Duration) (json.RawMessage, error) {
		got = timeout
		return json.RawMessage(`{"total":1}`), nil
	}})
	f := NewForwarder(reg, 100*time.Millisecond, nil, nil)

	res, err := NewOrchestrator(nil, nil).Aggregate(context.Background(), map[string]Section{
		"tasks": Call[map[string]int](f, domain.BackendTasks, "GET_STATISTICS", nil),
	}, 3*time.Second)
	require.NoError(t, err)
	require.True(t, res.Sections["tasks"].OK)
	assert.Greater(t, got, 2*time.Second, "section deadline must bound the call, not the forwarder default")
	assert.LessOrEqual(t, got, 3*time.Second)

	got = 0
	_, err = Call[map[string]int](f, domain.BackendTasks, "GET_STATISTICS", nil)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, got)
}
