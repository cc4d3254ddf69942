package middleware

import (
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	apperrors "github.com/heraldhq/herald/internal/errors"
	"github.com/heraldhq/herald/internal/telemetry"
)

// Recovery converts handler panics into a 500 AppError response. The stack
// goes to the log, never to the caller.
func Recovery(logger *telemetry.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.WithContext(c.Request.Context()).WithFields(logrus.Fields{
					"panic": fmt.Sprintf("%v", r),
					"stack": string(debug.Stack()),
					"path":  c.Request.URL.Path,
				}).Error("Handler panicked")

				AbortWithError(c, apperrors.Internal("internal server error", nil))
			}
		}()
		c.Next()
	}
}

// AbortWithError renders err as the response and stops the chain. The
// correlation id is stamped so callers can quote it.
func AbortWithError(c *gin.Context, err error) {
	var app *apperrors.AppError
	if !errors.As(err, &app) {
		app = apperrors.Internal("internal server error", err)
	}
	app.CorrelationID = telemetry.GetCorrelationID(c.Request.Context())
	c.AbortWithStatusJSON(app.HTTPStatus, gin.H{"error": app})
}
