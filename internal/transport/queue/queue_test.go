package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"gateway/internal/domain"
	"gateway/internal/transport"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), ContextTimeoutEnabled: true})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func startServer(t *testing.T, rdb *redis.Client, queue string, mux *transport.Mux) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(rdb, mux, ServerConfig{Queue: queue, Workers: 4, PollInterval: time.Second}, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func tasksMux() *transport.Mux {
	mux := transport.NewMux()
	mux.Handle("GET_BY_ID", func(_ context.Context, payload json.RawMessage) (any, error) {
		var in struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(payload, &in); err != nil {
			return nil, domain.ValidationError{Field: "id", Err: err}
		}
		if in.ID == "missing" {
			return nil, domain.NotFoundError{Resource: "Task", ID: in.ID}
		}
		return map[string]string{"id": in.ID, "title": "Fix roof"}, nil
	})
	return mux
}

func TestInvokeRoundTrip(t *testing.T) {
	_, rdb := newRedis(t)
	startServer(t, rdb, "tasks:requests", tasksMux())

	client := NewClient(rdb, domain.BackendTasks, Config{})
	require.NoError(t, client.Connect(context.Background()))
	assert.True(t, client.Ready())
	assert.Equal(t, "tasks:requests", client.Queue())

	reply, err := client.Invoke(context.Background(), transport.Descriptor{
		Target:    domain.BackendTasks,
		Operation: "GET_BY_ID",
		Payload:   map[string]string{"id": "t-1"},
	}, 3*time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"t-1","title":"Fix roof"}`, string(reply))
}

func TestInvokeRemoteError(t *testing.T) {
	_, rdb := newRedis(t)
	startServer(t, rdb, "tasks:requests", tasksMux())

	client := NewClient(rdb, domain.BackendTasks, Config{})
	_, err := client.Invoke(context.Background(), transport.Descriptor{
		Target:    domain.BackendTasks,
		Operation: "GET_BY_ID",
		Payload:   map[string]string{"id": "missing"},
	}, 3*time.Second)

	var remote *transport.RemoteError
	require.True(t, errors.As(err, &remote), "got %v", err)
	assert.Equal(t, http.StatusNotFound, remote.StatusCode)
	assert.Equal(t, "Task missing not found", remote.Message())
}

func TestInvokeNoReplyBeforeDeadline(t *testing.T) {
	_, rdb := newRedis(t)
	client := NewClient(rdb, domain.BackendTasks, Config{Queue: "nobody:listens"})
	require.NoError(t, client.Connect(context.Background()))

	start := time.Now()
	_, err := client.Invoke(context.Background(), transport.Descriptor{
		Target:    domain.BackendTasks,
		Operation: "GET_BY_ID",
	}, 300*time.Millisecond)

	require.ErrorIs(t, err, transport.ErrNoReply)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestInvokeNotReady(t *testing.T) {
	mr, rdb := newRedis(t)
	mr.Close()

	client := NewClient(rdb, domain.BackendTasks, Config{})
	require.Error(t, client.Connect(context.Background()))
	assert.False(t, client.Ready())

	_, err := client.Invoke(context.Background(), transport.Descriptor{Target: domain.BackendTasks, Operation: "GET_BY_ID"}, time.Second)
	require.ErrorIs(t, err, transport.ErrNotReady)
}

func TestInvokeAfterClose(t *testing.T) {
	_, rdb := newRedis(t)
	client := NewClient(rdb, domain.BackendTasks, Config{})
	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.Close())

	_, err := client.Invoke(context.Background(), transport.Descriptor{Target: domain.BackendTasks, Operation: "GET_BY_ID"}, time.Second)
	require.ErrorIs(t, err, transport.ErrClosed)
	require.ErrorIs(t, client.Ping(context.Background()), transport.ErrClosed)
}

func TestConcurrentInvocationsKeepCorrelation(t *testing.T) {
	_, rdb := newRedis(t)
	startServer(t, rdb, "tasks:requests", tasksMux())

	client := NewClient(rdb, domain.BackendTasks, Config{})
	require.NoError(t, client.Connect(context.Background()))

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	replies := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reply, err := client.Invoke(context.Background(), transport.Descriptor{
				Target:    domain.BackendTasks,
				Operation: "GET_BY_ID",
				Payload:   map[string]string{"id": fmt.Sprintf("t-%d", i)},
			}, 5*time.Second)
			errs[i] = err
			replies[i] = string(reply)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.JSONEq(t, fmt.Sprintf(`{"id":"t-%d","title":"Fix roof"}`, i), replies[i])
	}
}

func TestServerSetsReplyTTL(t *testing.T) {
	mr, rdb := newRedis(t)
	srv := NewServer(rdb, tasksMux(), ServerConfig{Queue: "q", ReplyTTL: 30 * time.Second}, nil)

	raw, err := json.Marshal(transport.Request{ID: "c-1", Pattern: "GET_BY_ID", Data: json.RawMessage(`{"id":"t-9"}`), ReplyTo: "r:c-1"})
	require.NoError(t, err)
	srv.handle(context.Background(), string(raw))

	assert.Equal(t, 30*time.Second, mr.TTL("r:c-1"))
	items, err := mr.List("r:c-1")
	require.NoError(t, err)
	require.Len(t, items, 1)

	var env transport.Envelope
	require.NoError(t, json.Unmarshal([]byte(items[0]), &env))
	assert.True(t, env.OK)
	assert.Equal(t, "c-1", env.ID)
}

func TestInvokeWaitsForFractionalDeadline(t *testing.T) {
	_, rdb := newRedis(t)
	mux := transport.NewMux()
	mux.Handle("SLOW", func(context.Context, json.RawMessage) (any, error) {
		time.Sleep(1300 * time.Millisecond)
		return map[string]bool{"done": true}, nil
	})
	startServer(t, rdb, "tasks:requests", mux)

	client := NewClient(rdb, domain.BackendTasks, Config{})
	require.NoError(t, client.Connect(context.Background()))

	reply, err := client.Invoke(context.Background(), transport.Descriptor{
		Target:    domain.BackendTasks,
		Operation: "SLOW",
	}, 1900*time.Millisecond)
	require.NoError(t, err)
	assert.JSONEq(t, `{"done":true}`, string(reply))
}

func TestInvokeNoReplyAtFractionalDeadline(t *testing.T) {
	_, rdb := newRedis(t)
	client := NewClient(rdb, domain.BackendTasks, Config{Queue: "nobody:listens"})
	require.NoError(t, client.Connect(context.Background()))

	start := time.Now()
	_, err := client.Invoke(context.Background(), transport.Descriptor{
		Target:    domain.BackendTasks,
		Operation: "GET_BY_ID",
	}, 1500*time.Millisecond)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, transport.ErrNoReply)
	assert.GreaterOrEqual(t, elapsed, 1400*time.Millisecond)
	assert.Less(t, elapsed, 1900*time.Millisecond)
}

func TestBlockTimeoutRoundsUp(t *testing.T) {
	assert.Equal(t, time.Second, blockTimeout(300*time.Millisecond))
	assert.Equal(t, 2*time.Second, blockTimeout(1900*time.Millisecond))
	assert.Equal(t, 5*time.Second, blockTimeout(4999*time.Millisecond))
	assert.Equal(t, 5*time.Second, blockTimeout(5*time.Second))
	assert.Equal(t, time.Second, blockTimeout(0))
}

func TestInvokeCarriesRequestID(t *testing.T) {
	_, rdb := newRedis(t)
	seen := make(chan string, 1)
	mux := transport.NewMux()
	mux.Handle("ECHO", func(ctx context.Context, _ json.RawMessage) (any, error) {
		seen <- transport.RequestID(ctx)
		return nil, nil
	})
	startServer(t, rdb, "tasks:requests", mux)

	client := NewClient(rdb, domain.BackendTasks, Config{})
	ctx := transport.WithRequestID(context.Background(), "req-42")
	_, err := client.Invoke(ctx, transport.Descriptor{Target: domain.BackendTasks, Operation: "ECHO"}, 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "req-42", <-seen)
}
