package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"whatsapp-campaigns/internal/accounts"
)

type AccountHandler struct {
	Registry *accounts.Registry
	log      *slog.Logger
}

func NewAccountHandler(registry *accounts.Registry, log *slog.Logger) *AccountHandler {
	return &AccountHandler{Registry: registry, log: log}
}

func (h *AccountHandler) CreateAccount(c *gin.Context) {
	var in accounts.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, err := h.Registry.Create(c.Request.Context(), businessID(c), in)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, account)
}

func (h *AccountHandler) GetAccounts(c *gin.Context) {
	list, err := h.Registry.List(c.Request.Context(), businessID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *AccountHandler) GetAccount(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	account, err := h.Registry.Get(c.Request.Context(), businessID(c), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *AccountHandler) UpdateStatus(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, err := h.Registry.SetStatus(c.Request.Context(), businessID(c), id, req.Status)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, account)
}
