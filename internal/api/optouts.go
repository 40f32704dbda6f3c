package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"whatsapp-campaigns/internal/optout"
)

type OptOutHandler struct {
	Ledger *optout.Ledger
	log    *slog.Logger
}

func NewOptOutHandler(ledger *optout.Ledger, log *slog.Logger) *OptOutHandler {
	return &OptOutHandler{Ledger: ledger, log: log}
}

type phoneRequest struct {
	Phone string `json:"phone" binding:"required"`
}

// GetOptOuts lists active opt-outs unless ?all=true.
func (h *OptOutHandler) GetOptOuts(c *gin.Context) {
	list, err := h.Ledger.List(c.Request.Context(), businessID(c), c.Query("all") != "true")
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *OptOutHandler) CreateOptOut(c *gin.Context) {
	var req phoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	changed, err := h.Ledger.OptOutManual(c.Request.Context(), businessID(c), req.Phone)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	status := http.StatusOK
	if changed {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"opted_out": true, "changed": changed})
}

func (h *OptOutHandler) OptBackIn(c *gin.Context) {
	var req phoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	changed, err := h.Ledger.OptBackIn(c.Request.Context(), businessID(c), req.Phone)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if !changed {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active opt-out for " + req.Phone})
		return
	}
	c.JSON(http.StatusOK, gin.H{"opted_out": false})
}
