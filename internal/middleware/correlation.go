package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/heraldhq/herald/internal/telemetry"
)

// CorrelationHeader carries the request correlation id in and out.
const CorrelationHeader = "X-Correlation-ID"

// Correlation adopts the caller's correlation id or mints one, stores it on
// the request context for the contextual logger, and echoes it on the
// response so callers can quote it in reports.
func Correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := telemetry.WithCorrelationID(c.Request.Context(), c.GetHeader(CorrelationHeader))
		c.Request = c.Request.WithContext(ctx)

		c.Header(CorrelationHeader, telemetry.GetCorrelationID(ctx))
		c.Next()
	}
}
