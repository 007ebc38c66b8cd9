package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (a *API) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "gateway running"})
}

// Ready pings every backend connection and answers 503 when any is down.
func (a *API) Ready(c *gin.Context) {
	if a.Readiness == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready", "backends": gin.H{}})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	results := a.Readiness.Ping(ctx)
	backends := make(map[string]string, len(results))
	status := http.StatusOK
	for b, err := range results {
		if err != nil {
			backends[b.String()] = "unavailable"
			status = http.StatusServiceUnavailable
			a.logger().Warn("backend not ready", zap.String("backend", b.String()), zap.Error(err))
			continue
		}
		backends[b.String()] = "ready"
	}
	overall := "ready"
	if status != http.StatusOK {
		overall = "degraded"
	}
	c.JSON(status, gin.H{"status": overall, "backends": backends})
}

func (a *API) Routes(c *gin.Context) {
	if a.routes == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "router not ready"})
		return
	}

	routes := a.routes()
	out := make([]gin.H, 0, len(routes))
	for _, rt := range routes {
		out = append(out, gin.H{
			"method":  rt.Method,
			"path":    rt.Path,
			"handler": rt.Handler,
		})
	}
	c.JSON(http.StatusOK, gin.H{"routes": out})
}
