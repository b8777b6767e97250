package settlement

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"clearhaven/redemption-platform/redemption-backend/internal/redemption"
)

type Handler struct {
	repo         Repository
	orchestrator *Orchestrator
}

func NewHandler(repo Repository, orchestrator *Orchestrator) *Handler {
	return &Handler{repo: repo, orchestrator: orchestrator}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/settlements/:id", h.Get)
	rg.GET("/redemptions/:id/settlement", h.GetByRequest)
	rg.POST("/redemptions/:id/settlement/retry", h.Retry)
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	st, err := h.repo.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(redemption.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) GetByRequest(c *gin.Context) {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	st, err := h.repo.GetByRequest(c.Request.Context(), requestID)
	if err != nil {
		c.JSON(redemption.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

// Retry resumes a non-terminal settlement; terminal settlements, including
// failed_post_burn, stay put for manual resolution
func (h *Handler) Retry(c *gin.Context) {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	st, err := h.repo.GetByRequest(c.Request.Context(), requestID)
	if err != nil {
		c.JSON(redemption.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	if st.Status.IsTerminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "settlement already terminal", "status": st.Status})
		return
	}

	h.orchestrator.Enqueue(requestID)
	c.JSON(http.StatusAccepted, gin.H{"status": st.Status})
}
