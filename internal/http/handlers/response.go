// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the standard response utilities used across all
// endpoints: a structured error envelope with a stable machine-readable
// code, and helpers for writing uniform success and failure responses.
//
// Conventions:
//   - All error responses return an ErrorResponse with a stable `code`.
//   - `fail()` centralizes error logging and formatting; 5xx responses are
//     logged with request context for observability.
//   - Rate-limit failures additionally carry `retry_after_seconds` and the
//     standard Retry-After header.
//
// Example error response:
//
//	HTTP/1.1 409 Conflict
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "challenge_already_used",
//	  "message": "challenge already used"
//	}
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/verigate/go-verify-backend/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"flow_not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"verification flow not found"`
	// Seconds until the caller may retry; only set on rate-limit responses.
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty" example:"42"`
}

// fail aborts the request with a structured error and logs server-side errors.
func fail(c *gin.Context, status int, code, msg string) {
	failWithRetry(c, status, code, msg, 0)
}

// failWithRetry is fail() plus a Retry-After hint for 429/503 responses.
func failWithRetry(c *gin.Context, status int, code, msg string, retryAfterSeconds int) {
	resp := ErrorResponse{
		RequestID:         c.Writer.Header().Get("X-Request-ID"),
		Code:              code,
		Message:           msg,
		RetryAfterSeconds: retryAfterSeconds,
	}
	if retryAfterSeconds > 0 {
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
	}

	// Log 5xx (server-side) with request-scoped logger
	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail().
//
// External packages (e.g., router setup) should call Fail to return
// consistent error envelopes without directly depending on unexported helpers.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
