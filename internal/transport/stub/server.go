package stub

import (
	"io"
	"net/http"

	"gateway/internal/transport"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server exposes a backend's operations as POST /rpc/:operation.
type Server struct {
	mux    *transport.Mux
	logger *zap.Logger
}

func NewServer(mux *transport.Mux, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{mux: mux, logger: logger}
}

func (s *Server) Register(r gin.IRoutes) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "operations": s.mux.Operations()})
	})
	r.POST("/rpc/:operation", s.handle)
}

func (s *Server) handle(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxReplyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, transport.Envelope{Error: &transport.ErrorBody{
			StatusCode: http.StatusBadRequest,
			Message:    transport.Message{"unreadable request body"},
		}})
		return
	}

	rid := c.GetHeader(RequestIDHeader)
	id := c.GetHeader(CorrelationIDHeader)
	if id == "" {
		id = rid
	}
	op := c.Param("operation")
	env := s.mux.Dispatch(transport.WithRequestID(c.Request.Context(), rid), id, op, raw)

	status := http.StatusOK
	if !env.OK {
		status = http.StatusInternalServerError
		if env.Error != nil && env.Error.StatusCode > 0 {
			status = env.Error.StatusCode
		}
		if status >= 500 {
			s.logger.Error("operation failed", zap.String("operation", op), zap.String("id", id), zap.Int("status", status))
		}
	}
	c.JSON(status, env)
}
