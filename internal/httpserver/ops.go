package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/heraldhq/herald/internal/errors"
	"github.com/heraldhq/herald/internal/middleware"
	"github.com/heraldhq/herald/internal/notification"
)

// OpsService is the batch-processing side of the orchestrator, driven by
// the scheduler through the cron-authenticated routes.
type OpsService interface {
	ProcessQueue(ctx context.Context, limit int) (*notification.QueueReport, error)
	ReplayFailed(ctx context.Context, limit int) (int64, error)
	ProcessDigest(ctx context.Context, freq notification.Frequency, limit int, dryRun bool) (*notification.DigestReport, error)
	ProcessAutomationQueue(ctx context.Context, batchSize, concurrency int, dryRun bool) (*notification.AutomationReport, error)
	Stats(ctx context.Context, window time.Duration) (*notification.DeliveryStats, error)
}

const (
	defaultQueueLimit        = 100
	defaultReplayLimit       = 100
	defaultDigestLimit       = 500
	defaultAutomationBatch   = 50
	defaultAutomationWorkers = 4

	defaultStatsHours = 24
	maxStatsHours     = 168
)

type processQueueRequest struct {
	Limit int `json:"limit" binding:"omitempty,min=1,max=1000"`
}

func (s *Server) handleProcessQueue(c *gin.Context) {
	var req processQueueRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		middleware.AbortWithError(c, bindError(err))
		return
	}
	if req.Limit == 0 {
		req.Limit = defaultQueueLimit
	}

	report, err := s.ops.ProcessQueue(c.Request.Context(), req.Limit)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleReplayQueue(c *gin.Context) {
	var req processQueueRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		middleware.AbortWithError(c, bindError(err))
		return
	}
	if req.Limit == 0 {
		req.Limit = defaultReplayLimit
	}

	requeued, err := s.ops.ReplayFailed(c.Request.Context(), req.Limit)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requeued": requeued})
}

type processDigestRequest struct {
	Frequency string `json:"frequency" binding:"required"`
	Limit     int    `json:"limit" binding:"omitempty,min=1,max=5000"`
	DryRun    bool   `json:"dryRun"`
}

func (s *Server) handleProcessDigest(c *gin.Context) {
	var req processDigestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, bindError(err))
		return
	}

	freq := notification.Frequency(req.Frequency)
	if !freq.IsDigest() {
		middleware.AbortWithError(c, apperrors.Validation("frequency must be hourly, daily or weekly"))
		return
	}
	if req.Limit == 0 {
		req.Limit = defaultDigestLimit
	}

	report, err := s.ops.ProcessDigest(c.Request.Context(), freq, req.Limit, req.DryRun)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

type processAutomationRequest struct {
	BatchSize   int  `json:"batchSize" binding:"omitempty,min=1,max=500"`
	Concurrency int  `json:"concurrency" binding:"omitempty,min=1,max=32"`
	DryRun      bool `json:"dryRun"`
}

func (s *Server) handleProcessAutomation(c *gin.Context) {
	var req processAutomationRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		middleware.AbortWithError(c, bindError(err))
		return
	}
	if req.BatchSize == 0 {
		req.BatchSize = defaultAutomationBatch
	}
	if req.Concurrency == 0 {
		req.Concurrency = defaultAutomationWorkers
	}

	report, err := s.ops.ProcessAutomationQueue(c.Request.Context(), req.BatchSize, req.Concurrency, req.DryRun)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleStats(c *gin.Context) {
	hours := queryInt(c, "hours", defaultStatsHours)
	if hours < 1 || hours > maxStatsHours {
		hours = defaultStatsHours
	}

	stats, err := s.ops.Stats(c.Request.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// bindOptionalJSON decodes the body into dst when one is present. The ops
// processors accept an empty body and fall back to their defaults.
func bindOptionalJSON(c *gin.Context, dst any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(dst)
}
