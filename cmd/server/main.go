package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"whatsapp-campaigns/internal/api"
	"whatsapp-campaigns/internal/app"
	"whatsapp-campaigns/internal/config"
	"whatsapp-campaigns/internal/logging"
	"whatsapp-campaigns/internal/metrics"
	"whatsapp-campaigns/internal/webhook"
)

func main() {
	cfg := config.LoadConfig()
	log, err := logging.NewFromConfig(cfg)
	if err != nil {
		panic(err)
	}

	a, err := app.New(cfg, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()
	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go a.Hub.Run(ctx)

	r := gin.Default()
	r.Use(metrics.Middleware())

	// CORS Middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Business-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	webhookHandler := webhook.NewHandler(cfg, a.Processor, logging.Component(log, "webhook"))
	apiLog := logging.Component(log, "api")

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": a.Hub.Clients()})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/ws", func(c *gin.Context) {
		id := c.GetHeader("X-Business-ID")
		if id == "" {
			id = c.Query("business_id")
		}
		businessID, err := strconv.ParseUint(id, 10, 64)
		if err != nil || businessID == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "business_id is required"})
			return
		}
		a.Hub.ServeWs(c.Writer, c.Request, uint(businessID))
	})

	// Webhook Routes
	r.GET("/webhooks/whatsapp", webhookHandler.VerifyWebhook)
	r.POST("/webhooks/whatsapp", webhookHandler.HandleCallback)

	// Campaign API Routes
	api.Handlers{
		Accounts:  api.NewAccountHandler(a.Accounts, apiLog),
		Templates: api.NewTemplateHandler(a.Templates, apiLog),
		Queues:    api.NewQueueHandler(a.Queues, apiLog),
		OptOuts:   api.NewOptOutHandler(a.OptOuts, apiLog),
		Insights:  api.NewInsightHandler(a.Insights, apiLog),
		Dashboard: api.NewDashboardHandler(a.Store, apiLog),
	}.Register(r.Group("/api"))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("server shutdown", "error", err)
		}
	}()

	log.Info("server starting", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}
