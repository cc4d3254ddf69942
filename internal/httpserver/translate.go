package httpserver

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/heraldhq/herald/internal/middleware"
	"github.com/heraldhq/herald/internal/translation"
)

// Translator is the synchronous translation surface.
type Translator interface {
	Translate(ctx context.Context, req translation.Request) (*translation.Result, error)
	TranslateBatch(ctx context.Context, items []translation.BatchItem, targetLocale string) []translation.BatchResult
	Health(ctx context.Context) []translation.ProviderStatus
}

// TranslationQueue drains the deferred translation backlog.
type TranslationQueue interface {
	Process(ctx context.Context, limit int) (*translation.ProcessReport, error)
}

const defaultTranslationQueueLimit = 50

type translateRequest struct {
	Text       string `json:"text" binding:"required"`
	SourceLang string `json:"sourceLang"`
	TargetLang string `json:"targetLang" binding:"required"`
	Context    string `json:"context"`
}

func (s *Server) handleTranslate(c *gin.Context) {
	var req translateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, bindError(err))
		return
	}

	result, err := s.translator.Translate(c.Request.Context(), translation.Request{
		Text:       req.Text,
		SourceLang: req.SourceLang,
		TargetLang: req.TargetLang,
		Context:    req.Context,
	})
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type batchTranslateItem struct {
	Key        string `json:"key" binding:"required"`
	Text       string `json:"text" binding:"required"`
	SourceLang string `json:"sourceLang"`
	Context    string `json:"context"`
}

type batchTranslateRequest struct {
	Items        []batchTranslateItem `json:"items" binding:"required,min=1,max=100,dive"`
	TargetLocale string               `json:"targetLocale" binding:"required"`
}

// handleBatchTranslate translates up to 100 keyed strings in one call.
// Failures are per-key; one bad item never sinks the batch.
func (s *Server) handleBatchTranslate(c *gin.Context) {
	var req batchTranslateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, bindError(err))
		return
	}

	items := make([]translation.BatchItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, translation.BatchItem{
			Key:        item.Key,
			Text:       item.Text,
			SourceLang: item.SourceLang,
			Context:    item.Context,
		})
	}

	results := s.translator.TranslateBatch(c.Request.Context(), items, req.TargetLocale)

	translated := make(map[string]*translation.Result, len(results))
	failed := make(map[string]string)
	for _, r := range results {
		if r.Err != nil {
			failed[r.Key] = r.Err.Error()
			continue
		}
		translated[r.Key] = r.Result
	}

	c.JSON(http.StatusOK, gin.H{
		"targetLocale": req.TargetLocale,
		"results":      translated,
		"failed":       failed,
	})
}

func (s *Server) handleProcessTranslationQueue(c *gin.Context) {
	var req processQueueRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		middleware.AbortWithError(c, bindError(err))
		return
	}
	if req.Limit == 0 {
		req.Limit = defaultTranslationQueueLimit
	}

	report, err := s.translationQueue.Process(c.Request.Context(), req.Limit)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleTranslateHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"providers": s.translator.Health(c.Request.Context()),
	})
}
