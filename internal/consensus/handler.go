package consensus

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"clearhaven/redemption-platform/redemption-backend/internal/redemption"
	"clearhaven/redemption-platform/redemption-backend/pkg/security"
)

type Handler struct {
	engine *Engine
	signer *security.Signer
}

func NewHandler(engine *Engine, signer *security.Signer) *Handler {
	return &Handler{engine: engine, signer: signer}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/redemptions/:id/decisions", h.SubmitDecision)
	rg.GET("/redemptions/:id/decisions", h.ListDecisions)
}

type decisionRequest struct {
	ApproverID string  `json:"approver_id"`
	Decision   string  `json:"decision" binding:"required"`
	Comment    *string `json:"comment"`
	Signature  *string `json:"signature"`
}

func (h *Handler) SubmitDecision(c *gin.Context) {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var payload decisionRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var decision redemption.DecisionStatus
	switch payload.Decision {
	case string(redemption.DecisionApproved):
		decision = redemption.DecisionApproved
	case string(redemption.DecisionRejected):
		decision = redemption.DecisionRejected
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "decision must be approved or rejected"})
		return
	}

	approverID, err := h.approverID(c, payload.ApproverID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid approver_id"})
		return
	}

	if payload.Signature != nil && h.signer != nil &&
		!h.signer.VerifyDecision(requestID, approverID, payload.Decision, *payload.Signature) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid decision signature"})
		return
	}

	verdict, err := h.engine.SubmitDecision(c.Request.Context(), requestID, approverID, decision, payload.Comment, payload.Signature)
	if err != nil {
		// A late decision on a finalized request is recorded but not applied
		if errors.Is(err, redemption.ErrAlreadyFinalized) {
			c.JSON(http.StatusOK, gin.H{"verdict": verdict, "finalized": true})
			return
		}
		c.JSON(redemption.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"verdict": verdict})
}

func (h *Handler) ListDecisions(c *gin.Context) {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	assignments, err := h.engine.Assignments(c.Request.Context(), requestID)
	if err != nil {
		c.JSON(redemption.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, assignments)
}

func (h *Handler) approverID(c *gin.Context, fallback string) (uuid.UUID, error) {
	if sub, ok := c.Get("user_id"); ok {
		if s, ok := sub.(string); ok {
			return uuid.Parse(s)
		}
	}
	return uuid.Parse(fallback)
}
