package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"whatsapp-campaigns/internal/models"
	"whatsapp-campaigns/internal/queues"
)

type QueueHandler struct {
	Service *queues.Service
	log     *slog.Logger
}

func NewQueueHandler(service *queues.Service, log *slog.Logger) *QueueHandler {
	return &QueueHandler{Service: service, log: log}
}

func (h *QueueHandler) CreateQueue(c *gin.Context) {
	var in queues.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	q, err := h.Service.Create(c.Request.Context(), businessID(c), in)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, q)
}

func (h *QueueHandler) GetQueues(c *gin.Context) {
	list, err := h.Service.List(c.Request.Context(), businessID(c), c.Query("status"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *QueueHandler) GetQueue(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	q, err := h.Service.Get(c.Request.Context(), businessID(c), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (h *QueueHandler) UpdateQueue(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var in queues.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	q, err := h.Service.Update(c.Request.Context(), businessID(c), id, in)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (h *QueueHandler) DeleteQueue(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.Service.Delete(c.Request.Context(), businessID(c), id); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *QueueHandler) ActivateQueue(c *gin.Context) {
	h.transition(c, h.Service.Activate)
}

func (h *QueueHandler) PauseQueue(c *gin.Context) {
	h.transition(c, h.Service.Pause)
}

func (h *QueueHandler) ResumeQueue(c *gin.Context) {
	h.transition(c, h.Service.Resume)
}

func (h *QueueHandler) transition(c *gin.Context, op func(ctx context.Context, businessID, id uint) (*models.Queue, error)) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	q, err := op(c.Request.Context(), businessID(c), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (h *QueueHandler) GetStats(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	stats, err := h.Service.Stats(c.Request.Context(), businessID(c), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *QueueHandler) GetMessages(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	messages, total, err := h.Service.Messages(c.Request.Context(), businessID(c), id, c.Query("status"), limit, offset)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages, "total": total, "limit": limit, "offset": offset})
}

func (h *QueueHandler) RetryFailed(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	n, err := h.Service.RetryFailed(c.Request.Context(), businessID(c), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requeued": n})
}
