package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gateway/internal/domain"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserversCount(t *testing.T) {
	m := New()

	m.ObserveCall(domain.BackendTasks, "GET_BY_ID", "ok", 10*time.Millisecond)
	m.ObserveCall(domain.BackendTasks, "GET_BY_ID", "notfound", 5*time.Millisecond)
	m.ObserveCall(domain.BackendTasks, "GET_BY_ID", "ok", time.Millisecond)
	m.ObserveSection("cracks", "unavailable")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.remoteCalls.WithLabelValues("tasks", "GET_BY_ID", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.remoteCalls.WithLabelValues("tasks", "GET_BY_ID", "notfound")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sections.WithLabelValues("cracks", "unavailable")))
}

func TestRequestLifecycle(t *testing.T) {
	m := New()

	m.RequestStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpInFlight))
	m.RequestFinished(http.MethodGet, "", http.StatusNotFound, time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.httpInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "unmatched", "4xx")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.ObserveSection("tasks", "ok")

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `gateway_aggregation_sections_total{outcome="ok",section="tasks"} 1`))
}
