// Package middleware holds the gin middleware for the API surface: JWT and
// cron-secret authentication, correlation-ID propagation, request logging,
// per-caller rate limiting, panic recovery, and a Redis response cache for
// cheap read endpoints.
package middleware

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "github.com/heraldhq/herald/internal/errors"
)

// ContextUserID is the gin context key the auth middleware stores the caller
// id under.
const ContextUserID = "user_id"

// Auth validates the Authorization bearer token as an HS256 JWT and stores
// its subject (the user id) on the context. Tokens are issued elsewhere;
// this layer only resolves them to a caller identity.
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			AbortWithError(c, apperrors.Unauthenticated("missing bearer token"))
			return
		}

		token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
			}
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			AbortWithError(c, apperrors.Unauthenticated("invalid token"))
			return
		}

		sub, err := token.Claims.GetSubject()
		if err != nil || sub == "" {
			AbortWithError(c, apperrors.Unauthenticated("token has no subject"))
			return
		}
		if _, err := uuid.Parse(sub); err != nil {
			AbortWithError(c, apperrors.Unauthenticated("token subject is not a user id"))
			return
		}

		c.Set(ContextUserID, sub)
		c.Next()
	}
}

// CronAuth guards the operational surface (queue drains, digest flushes,
// webhooks replay). The worker sends the shared secret in X-Cron-Secret; a
// bearer form is accepted for manual curl use.
func CronAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			AbortWithError(c, apperrors.New(apperrors.CodeServiceUnavail, "cron secret not configured"))
			return
		}

		presented := c.GetHeader("X-Cron-Secret")
		if presented == "" {
			presented = bearerToken(c)
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
			AbortWithError(c, apperrors.Forbidden("invalid cron secret"))
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated caller id set by Auth.
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
