package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"docpipe-backend/internal/shared/server/respond"
	"docpipe-backend/internal/shared/telemetry"
)

// Recovery turns a handler panic into a 500 Problem and logs the stack.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			telemetry.Error("http.panic", map[string]any{
				"request_id": RequestIDFromContext(c),
				"path":       c.Request.URL.Path,
				"error":      rec,
				"stack":      string(debug.Stack()),
			})
			respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "unexpected server error")
		}()
		c.Next()
	}
}
