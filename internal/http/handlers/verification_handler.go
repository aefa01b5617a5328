// Verification HTTP handlers.
//
// This file exposes the REST endpoints for verification flows:
//   - POST /verification/flows     (start a flow for a content context)
//   - POST /verification/complete  (redeem a provider receipt)
//   - GET  /verification/stats     (aggregate flow counts, ops visibility)
//
// Handlers are transport-thin: they read the actor identity the host forum
// asserted via trusted headers, validate input, call the verification
// service, and translate results into HTTP responses.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/verigate/go-verify-backend/internal/domain"
	"github.com/verigate/go-verify-backend/internal/http/middleware"
	"github.com/verigate/go-verify-backend/internal/repo"
	"github.com/verigate/go-verify-backend/internal/services"
)

// VerificationService defines the flow operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type VerificationService interface {
	// CreateFlow starts a verification flow, or reports that none is needed.
	CreateFlow(ctx context.Context, actor *domain.Actor, cctx domain.ContentContext, ip string) (*services.CreateResult, error)
	// CompleteFlow redeems a receipt against its pending flow.
	CompleteFlow(ctx context.Context, actor *domain.Actor, cctx domain.ContentContext, receipt string) (*services.CompleteResult, error)
}

// Handlers groups the verification HTTP endpoints.
type Handlers struct {
	svc VerificationService
	db  *gorm.DB
}

// New constructs a Handlers instance bound to the given service and store.
func New(svc VerificationService, db *gorm.DB) *Handlers {
	return &Handlers{svc: svc, db: db}
}

//
// DTOs
//

// CreateFlowRequest is the JSON payload for starting a verification flow.
type CreateFlowRequest struct {
	// Context names what the actor is about to create: post, topic, message.
	Context string `json:"context" binding:"required" example:"post"`
}

// CompleteFlowRequest is the JSON payload for redeeming a receipt.
type CompleteFlowRequest struct {
	// Context optionally re-asserts the content context the flow was
	// created for; when present it must match.
	Context string `json:"context" example:"post"`
	// Receipt is the provider-signed token proving the challenge was solved.
	Receipt string `json:"receipt" binding:"required"`
}

// CompleteFlowResponse confirms a successful completion.
type CompleteFlowResponse struct {
	Verified bool   `json:"verified"`
	FlowID   string `json:"flow_id"`
}

//
// Handlers
//

// CreateFlow handles POST /verification/flows.
//
// Responses:
//   - 200 {required:false} when policy does not demand verification
//   - 201 {required:true, token, challenge} when a flow was started
//   - 400 on an unknown context, 429 when rate limited, 502/503 on
//     provider failure
func (h *Handlers) CreateFlow(c *gin.Context) {
	var req CreateFlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "context is required")
		return
	}

	res, err := h.svc.CreateFlow(c.Request.Context(),
		middleware.ActorFrom(c), domain.ContentContext(req.Context), c.ClientIP())
	if err != nil {
		failDomain(c, err)
		return
	}
	if !res.Required {
		ok(c, http.StatusOK, res)
		return
	}
	ok(c, http.StatusCreated, res)
}

// CompleteFlow handles POST /verification/complete.
//
// Responses:
//   - 200 {verified:true, flow_id}
//   - 403 invalid or missing receipt, 404 unknown flow or binding mismatch,
//     409 challenge already used, 410 flow expired
func (h *Handlers) CompleteFlow(c *gin.Context) {
	var req CompleteFlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "receipt is required")
		return
	}
	if req.Context != "" && !domain.ValidContext(domain.ContentContext(req.Context)) {
		failDomain(c, services.ErrUnknownContext)
		return
	}

	res, err := h.svc.CompleteFlow(c.Request.Context(),
		middleware.ActorFrom(c), domain.ContentContext(req.Context), req.Receipt)
	if err != nil {
		failDomain(c, err)
		return
	}
	ok(c, http.StatusOK, CompleteFlowResponse{Verified: true, FlowID: res.FlowID})
}

// Stats handles GET /verification/stats, returning aggregate flow counts per
// status plus the age of the oldest pending flow.
func (h *Handlers) Stats(c *gin.Context) {
	stats, err := repo.CountFlows(c.Request.Context(), h.db)
	if err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("stats query failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
		return
	}
	ok(c, http.StatusOK, stats)
}
