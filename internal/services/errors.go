// Package services implements the verification business logic: policy
// evaluation, receipt verification, flow orchestration, and retention.
// This file centralizes the domain error taxonomy so every core operation
// returns one of a closed set of failures that callers can branch on.
//
// Translation into HTTP statuses happens at the handler layer; nothing below
// the service boundary leaks storage- or transport-specific error shapes.
package services

import "errors"

var (
	// ErrInvalidReceipt is the single opaque failure for every receipt
	// problem: bad signature, wrong algorithm, expired, malformed, missing
	// subject. The specific reason is logged, never returned, so a caller
	// cannot probe which check failed. Terminal for the attempt.
	ErrInvalidReceipt = errors.New("invalid verification receipt")

	// ErrFlowNotFound covers a genuinely unknown challenge and every
	// binding violation (wrong actor, wrong context). Sharing one error
	// keeps an unauthorized caller from learning whether a challenge
	// exists. Terminal for the attempt.
	ErrFlowNotFound = errors.New("verification flow not found")

	// ErrFlowExpired is returned when the flow timed out before completion.
	// User-recoverable: start a new flow.
	ErrFlowExpired = errors.New("verification flow expired")

	// ErrChallengeAlreadyUsed names the replay condition: the flow already
	// completed, or a concurrent completer won the race. Terminal for the
	// attempt.
	ErrChallengeAlreadyUsed = errors.New("challenge already used")

	// ErrReceiptRequired is returned by the content gate when policy
	// demands verification but no receipt accompanied the request.
	ErrReceiptRequired = errors.New("verification receipt required")

	// ErrUnknownContext rejects a content context outside post/topic/message.
	ErrUnknownContext = errors.New("unknown content context")

	// ErrInternal is the one generic failure surfaced for unexpected
	// errors. Details are logged server-side only.
	ErrInternal = errors.New("verification failed internally")
)

// Stable error codes, independent of the human-readable messages above.
// These appear in API responses, failure events, and metrics labels.
const (
	CodeInvalidReceipt       = "invalid_receipt"
	CodeFlowNotFound         = "flow_not_found"
	CodeFlowExpired          = "flow_expired"
	CodeChallengeAlreadyUsed = "challenge_already_used"
	CodeReceiptRequired      = "receipt_required"
	CodeUnknownContext       = "unknown_context"
	CodeRateLimited          = "rate_limited"
	CodeProviderError        = "provider_error"
	CodeInternal             = "internal_error"
)

// ErrorCode maps a domain error to its stable code. Unrecognized errors map
// to CodeInternal.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidReceipt):
		return CodeInvalidReceipt
	case errors.Is(err, ErrFlowNotFound):
		return CodeFlowNotFound
	case errors.Is(err, ErrFlowExpired):
		return CodeFlowExpired
	case errors.Is(err, ErrChallengeAlreadyUsed):
		return CodeChallengeAlreadyUsed
	case errors.Is(err, ErrReceiptRequired):
		return CodeReceiptRequired
	case errors.Is(err, ErrUnknownContext):
		return CodeUnknownContext
	default:
		return CodeInternal
	}
}
