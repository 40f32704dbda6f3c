package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"whatsapp-campaigns/internal/models"
	"whatsapp-campaigns/internal/store"
)

type DashboardHandler struct {
	Store *store.Store
	log   *slog.Logger
}

func NewDashboardHandler(s *store.Store, log *slog.Logger) *DashboardHandler {
	return &DashboardHandler{Store: s, log: log}
}

// Overview aggregates queue counters for the business.
type Overview struct {
	Queues     int            `json:"queues"`
	ByStatus   map[string]int `json:"by_status"`
	Sent       int            `json:"total_sent"`
	Delivered  int            `json:"total_delivered"`
	Read       int            `json:"total_read"`
	Failed     int            `json:"total_failed"`
	Suppressed int            `json:"total_suppressed"`
	Replied    int            `json:"total_replied"`
	OptedOut   int            `json:"total_opted_out"`
}

func (h *DashboardHandler) GetOverview(c *gin.Context) {
	list, err := h.Store.ListQueues(c.Request.Context(), businessID(c), "")
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, summarize(list))
}

func summarize(list []models.Queue) Overview {
	o := Overview{Queues: len(list), ByStatus: map[string]int{}}
	for _, q := range list {
		o.ByStatus[q.Status]++
		o.Sent += q.TotalSent
		o.Delivered += q.TotalDelivered
		o.Read += q.TotalRead
		o.Failed += q.TotalFailed
		o.Suppressed += q.TotalSuppressed
		o.Replied += q.TotalReplied
		o.OptedOut += q.TotalOptedOut
	}
	return o
}

// GetWebhooks returns the stored callbacks for one provider message id.
func (h *DashboardHandler) GetWebhooks(c *gin.Context) {
	sid := c.Query("sid")
	if sid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sid is required"})
		return
	}
	list, err := h.Store.ListWebhooks(c.Request.Context(), sid)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, list)
}
