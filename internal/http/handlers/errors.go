// Package handlers defines the HTTP-layer error translation used across all
// API endpoints.
//
// The service layer returns a closed set of sentinel errors plus one typed
// rate-limit error; this file maps each of them to an HTTP status and the
// stable machine-readable code clients branch on. Generic transport codes
// (bad_request, not_found, method_not_allowed) mirror common HTTP semantics;
// the verification-specific codes come from the services package so API
// responses, failure events, and metrics all agree.
package handlers

import (
	"errors"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/verigate/go-verify-backend/internal/provider"
	"github.com/verigate/go-verify-backend/internal/ratelimit"
	"github.com/verigate/go-verify-backend/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"
)

// failDomain translates a service-layer error into the HTTP response. It
// handles the whole taxonomy: domain sentinels, the typed rate-limit error,
// and the provider error family.
func failDomain(c *gin.Context, err error) {
	var le *ratelimit.LimitError
	if errors.As(err, &le) {
		failWithRetry(c, http.StatusTooManyRequests, services.CodeRateLimited,
			"too many verification attempts", le.RetryAfterSeconds())
		return
	}

	var te *provider.ThrottleError
	if errors.As(err, &te) {
		secs := int(math.Ceil(te.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		failWithRetry(c, http.StatusServiceUnavailable, services.CodeProviderError,
			"challenge provider is throttling requests", secs)
		return
	}

	switch {
	case errors.Is(err, services.ErrUnknownContext):
		fail(c, http.StatusBadRequest, services.CodeUnknownContext, "unknown content context")
	case errors.Is(err, services.ErrInvalidReceipt):
		fail(c, http.StatusForbidden, services.CodeInvalidReceipt, "invalid verification receipt")
	case errors.Is(err, services.ErrReceiptRequired):
		fail(c, http.StatusForbidden, services.CodeReceiptRequired, "verification receipt required")
	case errors.Is(err, services.ErrFlowNotFound):
		fail(c, http.StatusNotFound, services.CodeFlowNotFound, "verification flow not found")
	case errors.Is(err, services.ErrFlowExpired):
		fail(c, http.StatusGone, services.CodeFlowExpired, "verification flow expired")
	case errors.Is(err, services.ErrChallengeAlreadyUsed):
		fail(c, http.StatusConflict, services.CodeChallengeAlreadyUsed, "challenge already used")
	case errors.Is(err, provider.ErrTimeout), errors.Is(err, provider.ErrUnavailable):
		fail(c, http.StatusServiceUnavailable, services.CodeProviderError, "challenge provider unavailable")
	case errors.Is(err, provider.ErrConfig), errors.Is(err, provider.ErrMalformed):
		fail(c, http.StatusBadGateway, services.CodeProviderError, "challenge provider request failed")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}
