// Package apierror defines the gateway's error taxonomy and the JSON shape
// of every error response.
package apierror

import (
	"encoding/json"
	"net/http"
)

// Code identifies an error class in the gateway taxonomy.
type Code string

const (
	CodeCORSOriginForbidden Code = "CORS_ORIGIN_FORBIDDEN"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeRateLimitExceeded   Code = "RATE_LIMIT_EXCEEDED"
	CodePayloadTooLarge     Code = "PAYLOAD_TOO_LARGE"
	CodePromptTooLarge      Code = "PROMPT_TOO_LARGE"
	CodeInvalidJSON         Code = "INVALID_JSON"
	CodeInvalidBody         Code = "INVALID_BODY"
	CodeBadRequest          Code = "BAD_REQUEST"
	CodeNotFound            Code = "NOT_FOUND"
	CodeMethodNotAllowed    Code = "METHOD_NOT_ALLOWED"
	CodeServerMisconfigured Code = "SERVER_MISCONFIGURED"
	CodeUpstreamTimeout     Code = "UPSTREAM_TIMEOUT"
	CodeUpstreamUnavailable Code = "UPSTREAM_UNAVAILABLE"
	CodeUpstreamError       Code = "UPSTREAM_ERROR"
	CodeInternalError       Code = "INTERNAL_ERROR"
)

// Status returns the HTTP status associated with the code. UPSTREAM_ERROR has
// no fixed status; callers pass through the upstream status instead.
func (c Code) Status() int {
	switch c {
	case CodeCORSOriginForbidden:
		return http.StatusForbidden
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case CodePayloadTooLarge, CodePromptTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeInvalidJSON, CodeInvalidBody, CodeBadRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case CodeUpstreamTimeout:
		return http.StatusGatewayTimeout
	case CodeUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Response is the wire shape of every gateway error.
type Response struct {
	Code    Code        `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// Write writes an error response with the status implied by the code.
// Response headers already present on w (CORS set, cache directives) are
// preserved, so errors written after the origin gate carry the resolved origin.
func Write(w http.ResponseWriter, code Code, message string) {
	WriteWithDetails(w, code.Status(), code, message, nil)
}

// WriteWithDetails writes an error response with an explicit status and an
// optional structured details payload.
func WriteWithDetails(w http.ResponseWriter, status int, code Code, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{Code: code, Message: message, Details: details})
}
