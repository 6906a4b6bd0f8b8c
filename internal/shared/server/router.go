package server

import (
	"github.com/gin-gonic/gin"

	"docpipe-backend/internal/services/health"
	"docpipe-backend/internal/shared/metrics"
	"docpipe-backend/internal/shared/server/middleware"
	"docpipe-backend/internal/shared/server/respond"
)

// NewOpsRouter builds the worker's operational HTTP surface: /healthz and /metrics.
func NewOpsRouter(checks *health.Service, m *metrics.Worker) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging("/healthz", "/metrics"),
		middleware.Recovery(),
	)

	r.GET("/healthz", func(c *gin.Context) {
		if checks == nil {
			respond.Health(c, health.Report{Status: health.StatusOK, Components: map[string]bool{}})
			return
		}
		respond.Health(c, checks.Check(c.Request.Context()))
	})
	r.GET("/metrics", m.Handler())

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
