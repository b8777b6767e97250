package window

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"clearhaven/redemption-platform/redemption-backend/internal/redemption"
)

type Handler struct {
	scheduler *Scheduler
	repo      Repository
}

func NewHandler(scheduler *Scheduler, repo Repository) *Handler {
	return &Handler{scheduler: scheduler, repo: repo}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	windows := rg.Group("/windows")
	{
		windows.POST("", h.Create)
		windows.GET("", h.List)
		windows.GET("/:id", h.Get)
		windows.POST("/:id/close", h.Close)
		windows.POST("/:id/process", h.Process)
		windows.POST("/:id/complete", h.Complete)
	}
}

type createWindowRequest struct {
	TokenType           string           `json:"token_type" binding:"required"`
	SubmissionStart     time.Time        `json:"submission_start" binding:"required"`
	SubmissionEnd       time.Time        `json:"submission_end" binding:"required"`
	Start               time.Time        `json:"start" binding:"required"`
	End                 time.Time        `json:"end" binding:"required"`
	MaxRedemptionAmount *decimal.Decimal `json:"max_redemption_amount"`
	EnableProRata       *bool            `json:"enable_pro_rata"`
	QueueUnprocessed    *bool            `json:"queue_unprocessed"`
}

func (h *Handler) Create(c *gin.Context) {
	var payload createWindowRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	w := &RedemptionWindow{
		TokenType:           payload.TokenType,
		SubmissionStart:     payload.SubmissionStart,
		SubmissionEnd:       payload.SubmissionEnd,
		Start:               payload.Start,
		End:                 payload.End,
		MaxRedemptionAmount: payload.MaxRedemptionAmount,
		EnableProRata:       true,
		QueueUnprocessed:    true,
	}
	if payload.EnableProRata != nil {
		w.EnableProRata = *payload.EnableProRata
	}
	if payload.QueueUnprocessed != nil {
		w.QueueUnprocessed = *payload.QueueUnprocessed
	}

	if err := h.scheduler.CreateWindow(c.Request.Context(), w); err != nil {
		c.JSON(redemption.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, w)
}

func (h *Handler) List(c *gin.Context) {
	var status *Status
	if s := c.Query("status"); s != "" {
		st := Status(s)
		status = &st
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	windows, err := h.repo.List(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(redemption.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, windows)
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	w, err := h.repo.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(redemption.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, w)
}

func (h *Handler) Close(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	if err := h.scheduler.CloseSubmissions(c.Request.Context(), id); err != nil {
		c.JSON(redemption.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(StatusClosed)})
}

type processWindowRequest struct {
	NAV *decimal.Decimal `json:"nav"`
}

func (h *Handler) Process(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var payload processWindowRequest
	if err := c.ShouldBindJSON(&payload); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.scheduler.PriceAndProcess(c.Request.Context(), id, payload.NAV); err != nil {
		c.JSON(redemption.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(StatusProcessing)})
}

func (h *Handler) Complete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	if err := h.scheduler.Complete(c.Request.Context(), id); err != nil {
		c.JSON(redemption.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(StatusCompleted)})
}
