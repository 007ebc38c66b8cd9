package handlers

import (
	"time"

	"gateway/internal/gateway"
	"gateway/internal/http/middleware"

	"github.com/gin-gonic/gin"
)

// RespondGatewayError writes any failure in the one outbound error shape.
func RespondGatewayError(c *gin.Context, err error) {
	gerr := gateway.Normalize(err)
	if gerr == nil {
		return
	}
	c.AbortWithStatusJSON(gerr.HTTPStatus, gerr.Body(c.Request.URL.Path, middleware.GetRequestID(c), time.Now()))
}

// NoRoute answers unknown paths in the normalized shape.
func NoRoute(c *gin.Context) {
	RespondGatewayError(c, gateway.StatusError{Status: 404, Msg: "route " + c.Request.Method + " " + c.Request.URL.Path + " not found"})
}
