package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/heraldhq/herald/internal/errors"
	"github.com/heraldhq/herald/internal/middleware"
	"github.com/heraldhq/herald/internal/notification"
)

// PreferenceService covers the per-user settings surface.
type PreferenceService interface {
	Preferences(ctx context.Context, userID uuid.UUID) (*notification.Preferences, error)
	UpdatePreferences(ctx context.Context, userID uuid.UUID, patch *notification.PreferencesPatch) (*notification.Preferences, error)
	SetDnd(ctx context.Context, userID uuid.UUID, until *time.Time) (*notification.Preferences, error)
	RegisterDevice(ctx context.Context, token *notification.DeviceToken) (*notification.DeviceToken, error)
	RemoveDevice(ctx context.Context, token string) error
}

// authedUserID extracts the user id the auth middleware stamped on the
// context. The middleware already rejected malformed subjects, so a parse
// failure here means the route skipped auth.
func authedUserID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(middleware.UserID(c))
	if err != nil {
		middleware.AbortWithError(c, apperrors.Unauthenticated("missing user identity"))
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleGetPreferences(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	prefs, err := s.preferences.Preferences(c.Request.Context(), userID)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, prefs)
}

func (s *Server) handleUpdatePreferences(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	var patch notification.PreferencesPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		middleware.AbortWithError(c, bindError(err))
		return
	}

	prefs, err := s.preferences.UpdatePreferences(c.Request.Context(), userID, &patch)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, prefs)
}

const maxDndHours = 168 // one week

type dndRequest struct {
	Until         *time.Time `json:"until"`
	DurationHours *int       `json:"duration_hours"`
}

// handleSetDnd enables do-not-disturb until an absolute instant or for a
// relative number of hours, whichever the caller provided.
func (s *Server) handleSetDnd(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	var req dndRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, bindError(err))
		return
	}

	var until time.Time
	switch {
	case req.Until != nil:
		until = *req.Until
		if !until.After(time.Now()) {
			middleware.AbortWithError(c, apperrors.Validation("until must be in the future"))
			return
		}
	case req.DurationHours != nil:
		hours := *req.DurationHours
		if hours < 1 || hours > maxDndHours {
			middleware.AbortWithError(c, apperrors.Validation("duration_hours must be between 1 and 168"))
			return
		}
		until = time.Now().Add(time.Duration(hours) * time.Hour)
	default:
		middleware.AbortWithError(c, apperrors.Validation("provide until or duration_hours"))
		return
	}

	prefs, err := s.preferences.SetDnd(c.Request.Context(), userID, &until)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, prefs)
}

func (s *Server) handleClearDnd(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	prefs, err := s.preferences.SetDnd(c.Request.Context(), userID, nil)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, prefs)
}

type registerDeviceRequest struct {
	Token    string  `json:"token" binding:"required"`
	Platform string  `json:"platform" binding:"required"`
	P256dh   *string `json:"p256dh"`
	Auth     *string `json:"auth"`
}

func (s *Server) handleRegisterDevice(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	var req registerDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, bindError(err))
		return
	}

	device := &notification.DeviceToken{
		UserID:   userID,
		Token:    req.Token,
		Platform: notification.Platform(req.Platform),
		P256dh:   req.P256dh,
		Auth:     req.Auth,
	}

	saved, err := s.preferences.RegisterDevice(c.Request.Context(), device)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, saved)
}

func (s *Server) handleRemoveDevice(c *gin.Context) {
	if _, ok := authedUserID(c); !ok {
		return
	}

	token := c.Param("token")
	if token == "" {
		middleware.AbortWithError(c, apperrors.Validation("device token is required"))
		return
	}

	if err := s.preferences.RemoveDevice(c.Request.Context(), token); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
