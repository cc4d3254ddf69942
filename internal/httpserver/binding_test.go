package httpserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/heraldhq/herald/internal/errors"
)

func bindFailure(t *testing.T, body string) error {
	t.Helper()

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/digest/process", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")

	var req processDigestRequest
	err := c.ShouldBindJSON(&req)
	require.Error(t, err)
	return err
}

func TestBindErrorUsesJSONFieldNames(t *testing.T) {
	err := bindError(bindFailure(t, `{"frequency":"daily","limit":90000}`))

	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
	assert.Contains(t, err.Error(), "limit must be at most 5000")
}

func TestBindErrorReportsMissingFields(t *testing.T) {
	err := bindError(bindFailure(t, `{}`))

	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
	assert.Contains(t, err.Error(), "frequency is required")
}

func TestBindErrorPassesDecoderMessageThrough(t *testing.T) {
	err := bindError(bindFailure(t, `{"frequency":`))

	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
	assert.NotContains(t, err.Error(), "is invalid", "decoder errors are not field errors")
}
