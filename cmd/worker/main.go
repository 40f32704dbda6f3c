package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"whatsapp-campaigns/internal/app"
	"whatsapp-campaigns/internal/config"
	"whatsapp-campaigns/internal/logging"
	"whatsapp-campaigns/internal/metrics"
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

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Dispatcher.Run(ctx)
	})
	g.Go(func() error {
		return a.Insights.Run(ctx, cfg.InsightInterval)
	})
	g.Go(func() error {
		a.Hub.Run(ctx)
		return nil
	})
	if cfg.WorkerMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	log.Info("worker running", "broker", cfg.EventsBroker, "redis", cfg.RedisAddr != "")
	if err := g.Wait(); err != nil {
		log.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}
