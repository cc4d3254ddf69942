package httpserver

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/heraldhq/herald/internal/middleware"
	"github.com/heraldhq/herald/internal/notification"
)

// Dispatcher is the send side of the orchestrator.
type Dispatcher interface {
	Send(ctx context.Context, n *notification.Notification) (*notification.SendResult, error)
	SendBatch(ctx context.Context, req *notification.BatchRequest) (*notification.BatchResult, error)
	SendTemplate(ctx context.Context, req *notification.TemplateSendRequest) (*notification.SendResult, error)
}

// handleSend fans one notification out to its channels. A downstream
// delivery failure is still a 200: the result carries success=false and the
// per-channel errors, and the caller decides what to do with that.
func (s *Server) handleSend(c *gin.Context) {
	var n notification.Notification
	if err := c.ShouldBindJSON(&n); err != nil {
		middleware.AbortWithError(c, bindError(err))
		return
	}

	result, err := s.dispatcher.Send(c.Request.Context(), &n)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleSendBatch(c *gin.Context) {
	var req notification.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, bindError(err))
		return
	}

	result, err := s.dispatcher.SendBatch(c.Request.Context(), &req)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleSendTemplate(c *gin.Context) {
	var req notification.TemplateSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, bindError(err))
		return
	}

	result, err := s.dispatcher.SendTemplate(c.Request.Context(), &req)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
