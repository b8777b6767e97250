package reports

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"clearhaven/redemption-platform/redemption-backend/internal/redemption"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/windows/:id/summary", h.Summary)
	rg.GET("/windows/:id/summary.xlsx", h.ExportExcel)
	rg.GET("/windows/:id/summary.csv", h.ExportCSV)
}

func (h *Handler) Summary(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	summary, err := h.service.WindowSummary(c.Request.Context(), id)
	if err != nil {
		c.JSON(redemption.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) ExportExcel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var buf bytes.Buffer
	if err := h.service.ExportExcel(c.Request.Context(), id, &buf); err != nil {
		c.JSON(redemption.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="window-%s.xlsx"`, id))
	c.Data(http.StatusOK,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		buf.Bytes())
}

func (h *Handler) ExportCSV(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var buf bytes.Buffer
	if err := h.service.ExportCSV(c.Request.Context(), id, &buf); err != nil {
		c.JSON(redemption.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="window-%s.csv"`, id))
	c.Data(http.StatusOK, "text/csv", buf.Bytes())
}
