package apierror

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeStatus(t *testing.T) {
	tests := []struct {
		code   Code
		status int
	}{
		{CodeCORSOriginForbidden, http.StatusForbidden},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeRateLimitExceeded, http.StatusTooManyRequests},
		{CodePayloadTooLarge, http.StatusRequestEntityTooLarge},
		{CodePromptTooLarge, http.StatusRequestEntityTooLarge},
		{CodeInvalidJSON, http.StatusBadRequest},
		{CodeInvalidBody, http.StatusBadRequest},
		{CodeBadRequest, http.StatusBadRequest},
		{CodeNotFound, http.StatusNotFound},
		{CodeMethodNotAllowed, http.StatusMethodNotAllowed},
		{CodeServerMisconfigured, http.StatusInternalServerError},
		{CodeUpstreamTimeout, http.StatusGatewayTimeout},
		{CodeUpstreamUnavailable, http.StatusBadGateway},
		{CodeInternalError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, tt.code.Status(), string(tt.code))
	}
}

func TestWritePreservesExistingHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set("Access-Control-Allow-Origin", "https://example.com")

	Write(rec, CodeRateLimitExceeded, "Rate limit exceeded")

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, CodeRateLimitExceeded, resp.Code)
	assert.Equal(t, "Rate limit exceeded", resp.Message)
	assert.Nil(t, resp.Details)
}

func TestWriteWithDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteWithDetails(rec, http.StatusBadRequest, CodeInvalidBody, "Invalid request body", map[string]string{
		"messages": "must not be empty",
	})

	var resp struct {
		Code    Code              `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, CodeInvalidBody, resp.Code)
	assert.Equal(t, "must not be empty", resp.Details["messages"])
}
