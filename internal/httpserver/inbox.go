package httpserver

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/heraldhq/herald/internal/errors"
	"github.com/heraldhq/herald/internal/middleware"
	"github.com/heraldhq/herald/internal/notification"
)

// InboxService reads and mutates the in-app feed.
type InboxService interface {
	Inbox(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]*notification.InAppNotification, error)
	MarkRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error)
}

const (
	defaultInboxLimit = 50
	maxInboxLimit     = 200
)

func (s *Server) handleInbox(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	unreadOnly := c.Query("unread") == "true"
	limit := queryInt(c, "limit", defaultInboxLimit)
	if limit < 1 || limit > maxInboxLimit {
		limit = defaultInboxLimit
	}

	items, err := s.inbox.Inbox(c.Request.Context(), userID, unreadOnly, limit)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"notifications": items,
		"count":         len(items),
	})
}

// handleMarkRead marks a single notification read, or the whole feed when
// the path id is the literal "all".
func (s *Server) handleMarkRead(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		return
	}

	var ids []uuid.UUID
	if raw := c.Param("id"); raw != "all" {
		id, err := uuid.Parse(raw)
		if err != nil {
			middleware.AbortWithError(c, apperrors.Validation("notification id must be a uuid or \"all\""))
			return
		}
		ids = []uuid.UUID{id}
	}

	updated, err := s.inbox.MarkRead(c.Request.Context(), userID, ids)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
