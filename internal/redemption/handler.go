package redemption

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	redemptions := rg.Group("/redemptions")
	{
		redemptions.POST("", h.Submit)
		redemptions.GET("", h.List)
		redemptions.GET("/:id", h.Get)
		redemptions.POST("/:id/cancel", h.Cancel)
	}
}

type submitRequest struct {
	InvestorID               string          `json:"investor_id"`
	InvestorCount            int             `json:"investor_count"`
	TokenAmount              decimal.Decimal `json:"token_amount" binding:"required"`
	TokenType                string          `json:"token_type" binding:"required"`
	ConversionRate           decimal.Decimal `json:"conversion_rate"`
	SourceWalletAddress      string          `json:"source_wallet_address" binding:"required"`
	DestinationWalletAddress string          `json:"destination_wallet_address" binding:"required"`
	RedemptionType           RedemptionType  `json:"redemption_type"`
	ApprovalConfigID         string          `json:"approval_config_id" binding:"required"`
	DistributionID           string          `json:"distribution_id"`
}

func (h *Handler) Submit(c *gin.Context) {
	var payload submitRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	investorID, err := callerID(c, payload.InvestorID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid investor_id"})
		return
	}
	configID, err := uuid.Parse(payload.ApprovalConfigID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid approval_config_id"})
		return
	}

	req := &RedemptionRequest{
		InvestorID:               investorID,
		InvestorCount:            payload.InvestorCount,
		TokenAmount:              payload.TokenAmount,
		TokenType:                payload.TokenType,
		ConversionRate:           payload.ConversionRate,
		SourceWalletAddress:      payload.SourceWalletAddress,
		DestinationWalletAddress: payload.DestinationWalletAddress,
		RedemptionType:           payload.RedemptionType,
		ApprovalConfigID:         &configID,
	}
	if payload.DistributionID != "" {
		distID, err := uuid.Parse(payload.DistributionID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid distribution_id"})
			return
		}
		req.DistributionID = &distID
	}

	created, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		c.JSON(HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	req, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *Handler) List(c *gin.Context) {
	var status *RequestStatus
	if s := c.Query("status"); s != "" {
		st := RequestStatus(s)
		status = &st
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	reqs, err := h.service.List(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, reqs)
}

func (h *Handler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	investorID, err := callerID(c, c.Query("investor_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid investor_id"})
		return
	}

	req, err := h.service.Cancel(c.Request.Context(), id, investorID)
	if err != nil {
		c.JSON(HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, req)
}

// callerID resolves the acting user: the authenticated subject when present,
// otherwise an explicit id from the payload
func callerID(c *gin.Context, fallback string) (uuid.UUID, error) {
	if sub, ok := c.Get("user_id"); ok {
		if s, ok := sub.(string); ok {
			return uuid.Parse(s)
		}
	}
	return uuid.Parse(fallback)
}

// HTTPStatus maps domain errors to response codes; shared by the API handlers
func HTTPStatus(err error) int {
	var validation *ValidationError
	var conflict *ConflictError
	var scheduling *SchedulingError
	var fatal *FatalSettlementError

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNoOpenWindow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrDuplicateDecision),
		errors.Is(err, ErrAlreadyFinalized),
		errors.Is(err, ErrSettlementInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrNotAnAssignedApprover):
		return http.StatusForbidden
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &scheduling):
		return http.StatusUnprocessableEntity
	case errors.As(err, &fatal):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
