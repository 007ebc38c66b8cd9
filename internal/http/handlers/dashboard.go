package handlers

import (
	"net/http"

	"gateway/internal/http/middleware"

	"github.com/gin-gonic/gin"
)

func (a *API) DashboardSummary(c *gin.Context) {
	svc := a.Dashboard
	svc.RequestID = middleware.GetRequestID(c)
	out, err := svc.Summary(requestContext(c))
	if err != nil {
		RespondGatewayError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (a *API) DashboardPDF(c *gin.Context) {
	svc := a.Dashboard
	svc.RequestID = middleware.GetRequestID(c)
	pdf, filename, err := svc.Report(requestContext(c))
	if err != nil {
		RespondGatewayError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/pdf", pdf)
}
