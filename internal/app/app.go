// Package app assembles the campaign services from configuration. The
// server, the worker and queuectl share it so they agree on wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"gorm.io/gorm"

	"whatsapp-campaigns/internal/accounts"
	"whatsapp-campaigns/internal/audience"
	"whatsapp-campaigns/internal/config"
	"whatsapp-campaigns/internal/database"
	"whatsapp-campaigns/internal/delivery"
	"whatsapp-campaigns/internal/dispatcher"
	"whatsapp-campaigns/internal/events"
	"whatsapp-campaigns/internal/insights"
	"whatsapp-campaigns/internal/logging"
	"whatsapp-campaigns/internal/optout"
	"whatsapp-campaigns/internal/phone"
	"whatsapp-campaigns/internal/queues"
	"whatsapp-campaigns/internal/ratelimit"
	"whatsapp-campaigns/internal/store"
	"whatsapp-campaigns/internal/templates"
	"whatsapp-campaigns/internal/whatsapp"
	"whatsapp-campaigns/internal/ws"
)

type App struct {
	Config     *config.Config
	Compliance config.Compliance
	Log        *slog.Logger
	DB         *gorm.DB
	Store      *store.Store

	Phones     *phone.Canonicalizer
	Templates  *templates.Registry
	Accounts   *accounts.Registry
	Queues     *queues.Service
	OptOuts    *optout.Ledger
	Processor  *delivery.Processor
	Dispatcher *dispatcher.Dispatcher
	Insights   *insights.Generator
	Hub        *ws.Hub
	Bus        *events.Bus

	closers []io.Closer
}

// New opens the database, runs migrations and builds every service.
func New(cfg *config.Config, log *slog.Logger) (*App, error) {
	compliance, err := config.LoadCompliance(cfg.ComplianceFile)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(cfg, logging.Component(log, "database"))
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}

	a := &App{
		Config:     cfg,
		Compliance: compliance,
		Log:        log,
		DB:         db,
		Store:      store.New(db),
		Phones:     phone.New(cfg.DefaultRegion),
		Hub:        ws.NewHub(logging.Component(log, "ws")),
	}
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB)
	}

	publishers := []events.Publisher{a.Hub}
	broker, err := a.brokerPublisher()
	if err != nil {
		a.Close()
		return nil, err
	}
	if broker != nil {
		publishers = append(publishers, broker)
	}
	a.Bus = events.NewBus(logging.Component(log, "events"), publishers...)

	a.Templates = templates.NewRegistry(a.Store)
	a.Accounts = accounts.NewRegistry(a.Store, a.Phones, logging.Component(log, "accounts")).
		WithDefaultCap(compliance.Sending.DefaultHourlyCap)
	a.Queues = queues.NewService(a.Store, a.Templates, a.Bus, logging.Component(log, "queues")).
		WithDefaultWindow(compliance.Sending.DefaultStart, compliance.Sending.DefaultEnd, cfg.DefaultTimezone)
	a.OptOuts = optout.NewLedger(a.Store, a.Phones, compliance.OptOut.Keywords, logging.Component(log, "optout"))
	a.Processor = delivery.NewProcessor(a.Store, a.OptOuts, a.Phones, a.Bus, logging.Component(log, "delivery"))

	a.Insights, err = insights.NewGenerator(a.Store, compliance.Insights, cfg.DefaultTimezone, logging.Component(log, "insights"))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Dispatcher = dispatcher.New(
		a.Store,
		a.Templates,
		audience.NewResolver(a.Store, a.Phones, logging.Component(log, "audience")),
		a.OptOuts,
		ratelimit.NewGovernor(a.rateStore()),
		whatsapp.NewClient(cfg),
		a.Bus,
		logging.Component(log, "dispatcher"),
		dispatcher.Options{
			WorkerID:     cfg.WorkerID,
			PollInterval: cfg.WorkerPollInterval,
			LeaseTTL:     cfg.WorkerLeaseTTL,
			SendTimeout:  cfg.GatewayTimeout,
		},
	)
	return a, nil
}

// rateStore shares the sliding window through Redis when configured so that
// several workers draw from the same hourly budget.
func (a *App) rateStore() ratelimit.Store {
	if a.Config.RedisAddr == "" {
		a.Log.Warn("REDIS_ADDR not set, rate limits are local to this process")
		return ratelimit.NewMemoryStore()
	}
	rs := ratelimit.NewRedisStore(a.Config.RedisAddr, a.Config.RedisPassword, a.Config.RedisDB)
	if err := rs.Ping(context.Background()); err != nil {
		a.Log.Warn("redis ping failed", "addr", a.Config.RedisAddr, "error", err)
	}
	a.closers = append(a.closers, rs)
	return rs
}

func (a *App) brokerPublisher() (events.Publisher, error) {
	switch a.Config.EventsBroker {
	case "", "none":
		return nil, nil
	case "amqp":
		p, err := events.NewAMQPPublisher(a.Config.AMQPURL, a.Config.AMQPExchange)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p)
		return p, nil
	case "kafka":
		p := events.NewKafkaPublisher(a.Config.KafkaBrokers, a.Config.KafkaTopic)
		a.closers = append(a.closers, p)
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported EVENTS_BROKER %q", a.Config.EventsBroker)
	}
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
