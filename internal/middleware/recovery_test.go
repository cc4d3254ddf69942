package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldhq/herald/internal/telemetry"
)

func TestRecoveryRendersInternalError(t *testing.T) {
	r := newTestRouter(Correlation(), Recovery(telemetry.GetGlobalLogger()))
	r.GET("/boom", func(c *gin.Context) { panic("kaput") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL", errorCode(t, w.Body.Bytes()))
	assert.NotContains(t, w.Body.String(), "kaput", "panic values never reach the caller")
}

func TestCorrelationEchoesProvidedID(t *testing.T) {
	var inHandler string

	r := newTestRouter(Correlation())
	r.GET("/", func(c *gin.Context) {
		inHandler = telemetry.GetCorrelationID(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationHeader, "corr-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "corr-123", w.Header().Get(CorrelationHeader))
	assert.Equal(t, "corr-123", inHandler)
}

func TestCorrelationMintsID(t *testing.T) {
	r := newTestRouter(Correlation())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	minted := w.Header().Get(CorrelationHeader)
	require.NotEmpty(t, minted)
	_, err := uuid.Parse(minted)
	assert.NoError(t, err, "minted correlation ids are UUIDs")
}
