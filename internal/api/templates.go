package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"whatsapp-campaigns/internal/templates"
)

type TemplateHandler struct {
	Registry *templates.Registry
	log      *slog.Logger
}

func NewTemplateHandler(registry *templates.Registry, log *slog.Logger) *TemplateHandler {
	return &TemplateHandler{Registry: registry, log: log}
}

func (h *TemplateHandler) CreateTemplate(c *gin.Context) {
	var in templates.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t, err := h.Registry.Create(c.Request.Context(), businessID(c), in)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *TemplateHandler) GetTemplates(c *gin.Context) {
	list, err := h.Registry.List(c.Request.Context(), businessID(c), c.Query("status"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *TemplateHandler) GetTemplate(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	t, err := h.Registry.Get(c.Request.Context(), businessID(c), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type approveRequest struct {
	ContentSID string `json:"content_sid"`
}

// ApproveTemplate records the provider's approval. The body is optional.
func (h *TemplateHandler) ApproveTemplate(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req approveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	t, err := h.Registry.Approve(c.Request.Context(), businessID(c), id, req.ContentSID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *TemplateHandler) RejectTemplate(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	t, err := h.Registry.Reject(c.Request.Context(), businessID(c), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, t)
}
