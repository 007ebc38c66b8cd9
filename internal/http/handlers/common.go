package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"gateway/internal/domain"
	"gateway/internal/gateway"
	"gateway/internal/http/middleware"
	"gateway/internal/services"
	"gateway/internal/transport"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Pinger reports per-backend readiness. A nil entry means ready.
type Pinger interface {
	Ping(ctx context.Context) map[domain.Backend]error
}

// API holds the dependencies every handler shares.
type API struct {
	Forwarder    *gateway.Forwarder
	Dashboard    services.DashboardService
	Readiness    Pinger
	PageMaxLimit int
	RPCTimeout   time.Duration
	Logger       *zap.Logger

	routes func() gin.RoutesInfo
}

// SetRouter stores the active gin engine for later inspection (e.g., /api/routes).
func (a *API) SetRouter(r *gin.Engine) {
	a.routes = r.Routes
}

func (a *API) logger() *zap.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return zap.NewNop()
}

// requestContext carries the request id to the backends.
func requestContext(c *gin.Context) context.Context {
	return transport.WithRequestID(c.Request.Context(), middleware.GetRequestID(c))
}

const msgEmptyBody = "request body is required"

// bindBody decodes a JSON object body. An empty body is a bad request.
func bindBody(c *gin.Context) (map[string]any, error) {
	if c.Request.Body == nil {
		return nil, gateway.StatusError{Status: http.StatusBadRequest, Msg: msgEmptyBody}
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		return nil, gateway.StatusError{Status: http.StatusBadRequest, Msg: "unreadable request body"}
	}
	if len(raw) == 0 {
		return nil, gateway.StatusError{Status: http.StatusBadRequest, Msg: msgEmptyBody}
	}
	body := map[string]any{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, gateway.StatusError{Status: http.StatusBadRequest, Msg: "request body must be a JSON object"}
	}
	return body, nil
}
