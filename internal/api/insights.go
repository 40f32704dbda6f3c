package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"whatsapp-campaigns/internal/insights"
	"whatsapp-campaigns/internal/store"
)

type InsightHandler struct {
	Generator *insights.Generator
	log       *slog.Logger
}

func NewInsightHandler(generator *insights.Generator, log *slog.Logger) *InsightHandler {
	return &InsightHandler{Generator: generator, log: log}
}

// GetInsights refreshes the business's insights before listing them.
func (h *InsightHandler) GetInsights(c *gin.Context) {
	ctx := c.Request.Context()
	if _, err := h.Generator.Generate(ctx, businessID(c)); err != nil {
		respondError(c, h.log, err)
		return
	}

	list, err := h.Generator.List(ctx, businessID(c), store.InsightFilter{
		Type:       strings.ToUpper(c.Query("type")),
		UnreadOnly: c.Query("unread") == "true",
		Limit:      queryInt(c, "limit", 20),
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

type markRequest struct {
	IsRead     *bool `json:"is_read"`
	IsActioned *bool `json:"is_actioned"`
}

func (h *InsightHandler) MarkInsight(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.Generator.Mark(c.Request.Context(), businessID(c), id, req.IsRead, req.IsActioned); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}
