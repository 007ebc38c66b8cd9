package api

import (
	"fmt"
	"net/http"

	"gateway/internal/gateway"
	"gateway/internal/http/handlers"
	"gateway/internal/http/middleware"
	"gateway/internal/metrics"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Options struct {
	API         *handlers.API
	Metrics     *metrics.Metrics
	RateLimiter *middleware.RateLimiter
	CORSOrigins []string
	Logger      *zap.Logger
}

func NewRouter(opts Options) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Logger(logger),
		gin.CustomRecovery(recovered(logger)),
		middleware.CORS(opts.CORSOrigins),
		middleware.Metrics(opts.Metrics),
	)
	if opts.RateLimiter != nil {
		r.Use(opts.RateLimiter.Handler())
	}

	if err := r.SetTrustedProxies(nil); err != nil {
		logger.Warn("failed to set trusted proxies", zap.Error(err))
	}

	r.NoRoute(handlers.NoRoute)

	h := opts.API
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	api := r.Group("/api")
	{
		api.GET("/health", h.Health)
		api.GET("/ready", h.Ready)
		api.GET("/routes", h.Routes)

		dashboard := api.Group("/dashboard")
		dashboard.GET("/summary", h.DashboardSummary)
		dashboard.GET("/summary.pdf", h.DashboardPDF)

		h.Mount(api, handlers.ForwardRoutes())
	}

	h.SetRouter(r)
	return r
}

// recovered answers a panicking handler in the normalized error shape.
func recovered(logger *zap.Logger) gin.RecoveryFunc {
	return func(c *gin.Context, err any) {
		logger.Error("handler panicked",
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.String("panic", fmt.Sprint(err)),
		)
		handlers.RespondGatewayError(c, gateway.StatusError{
			Status: http.StatusInternalServerError,
			Msg:    "internal server error",
		})
	}
}
