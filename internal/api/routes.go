package api

import "github.com/gin-gonic/gin"

// Handlers groups the REST handlers mounted under /api.
type Handlers struct {
	Accounts  *AccountHandler
	Templates *TemplateHandler
	Queues    *QueueHandler
	OptOuts   *OptOutHandler
	Insights  *InsightHandler
	Dashboard *DashboardHandler
}

func (h Handlers) Register(api *gin.RouterGroup) {
	api.Use(RequireBusiness())

	api.GET("/accounts", h.Accounts.GetAccounts)
	api.POST("/accounts", h.Accounts.CreateAccount)
	api.GET("/accounts/:id", h.Accounts.GetAccount)
	api.PUT("/accounts/:id/status", h.Accounts.UpdateStatus)

	api.GET("/templates", h.Templates.GetTemplates)
	api.POST("/templates", h.Templates.CreateTemplate)
	api.GET("/templates/:id", h.Templates.GetTemplate)
	api.POST("/templates/:id/approve", h.Templates.ApproveTemplate)
	api.POST("/templates/:id/reject", h.Templates.RejectTemplate)

	api.GET("/queues", h.Queues.GetQueues)
	api.POST("/queues", h.Queues.CreateQueue)
	api.GET("/queues/:id", h.Queues.GetQueue)
	api.PUT("/queues/:id", h.Queues.UpdateQueue)
	api.DELETE("/queues/:id", h.Queues.DeleteQueue)
	api.POST("/queues/:id/activate", h.Queues.ActivateQueue)
	api.POST("/queues/:id/pause", h.Queues.PauseQueue)
	api.POST("/queues/:id/resume", h.Queues.ResumeQueue)
	api.GET("/queues/:id/stats", h.Queues.GetStats)
	api.GET("/queues/:id/messages", h.Queues.GetMessages)
	api.POST("/queues/:id/retry-failed", h.Queues.RetryFailed)

	api.GET("/opt-outs", h.OptOuts.GetOptOuts)
	api.POST("/opt-outs", h.OptOuts.CreateOptOut)
	api.POST("/opt-outs/opt-in", h.OptOuts.OptBackIn)

	api.GET("/insights", h.Insights.GetInsights)
	api.PUT("/insights/:id", h.Insights.MarkInsight)

	api.GET("/dashboard/overview", h.Dashboard.GetOverview)
	api.GET("/webhooks", h.Dashboard.GetWebhooks)
}
