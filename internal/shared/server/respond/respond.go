// Package respond writes the JSON bodies of the worker's ops endpoints.
package respond

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"docpipe-backend/internal/services/health"
	"docpipe-backend/internal/shared/telemetry"
)

// CodeInternal marks a recovered handler panic.
const CodeInternal = "internal"

// Problem is the error body, wrapped as {"error": Problem}.
type Problem struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// Error logs the failure and aborts the request with a Problem body.
func Error(c *gin.Context, status int, code, message string) {
	reqID := telemetry.RequestIDFromContext(c.Request.Context())
	telemetry.Error("http.error", map[string]any{
		"status":     status,
		"code":       code,
		"path":       c.Request.URL.Path,
		"request_id": reqID,
	})
	c.AbortWithStatusJSON(status, gin.H{"error": Problem{Code: code, Message: message, RequestID: reqID}})
}

// Health writes report with 200 when every component is up and 503 otherwise.
func Health(c *gin.Context, report health.Report) {
	status := http.StatusOK
	if report.Status != health.StatusOK {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}
