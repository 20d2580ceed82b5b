// Package app wires the dispatch engine from configuration. Every binary
// builds the same object graph through it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/db"
	"github.com/unclebandit/campaign-dispatch/internal/gateway"
	"github.com/unclebandit/campaign-dispatch/internal/llm"
	"github.com/unclebandit/campaign-dispatch/internal/metrics"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

type App struct {
	Config   *config.Config
	Log      zerolog.Logger
	DB       *sql.DB
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Queue    queue.Queue

	Campaigns  *service.CampaignService
	Dispatcher *service.Dispatcher
	Recovery   *service.Recovery
	Runner     *service.Runner

	closers []func() error
}

// New opens the database and, when enabled, the AMQP broker, then builds
// the services.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	conn, err := db.Open(ctx, cfg.DB, log)
	if err != nil {
		return nil, err
	}

	var q queue.Queue
	closers := []func() error{conn.Close}
	if cfg.AMQP.Enabled {
		amqpQueue, err := queue.DialAMQP(cfg.AMQP.URL, log)
		if err != nil {
			conn.Close()
			return nil, err
		}
		q = amqpQueue
		closers = append(closers, amqpQueue.Close)
		log.Info().Msg("publishing campaign events to RabbitMQ")
	} else {
		q = queue.NewInMemoryQueue(log)
	}

	a := Build(cfg, log, conn, q)
	a.closers = closers
	return a, nil
}

// Build assembles the services on an existing connection and queue.
func Build(cfg *config.Config, log zerolog.Logger, conn *sql.DB, q queue.Queue) *App {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	clock := service.RealClock{}

	groups := &repository.GroupRepository{DB: conn}
	campaigns := &service.CampaignService{
		CampaignRepo: &repository.CampaignRepository{DB: conn},
		MessageRepo:  &repository.CampaignMessageRepository{DB: conn},
		GroupRepo:    groups,
		Resolver: &service.AudienceResolver{
			Groups:          groups,
			CountryCode:     cfg.Dispatch.CountryCode,
			NationalLengths: cfg.Dispatch.NationalLengths,
			MinDigits:       cfg.Dispatch.MinPhoneDigits,
		},
		Events:  q,
		Clock:   clock,
		Metrics: m,
		Log:     log.With().Str("component", "campaigns").Logger(),
	}
	if cfg.LLM.APIKey != "" {
		campaigns.Variations = llm.NewVariationGenerator(cfg.LLM, log.With().Str("component", "llm").Logger())
	}

	dispatcher := &service.Dispatcher{
		Campaigns: campaigns,
		Settings: gateway.StaticSettings{
			BaseURL:   cfg.Gateway.BaseURL,
			APIKey:    cfg.Gateway.APIKey,
			Instance:  cfg.Gateway.Instance,
			SendDelay: cfg.Gateway.SendDelay,
		},
		NewSender: GatewaySenders(gateway.NewHTTPClient(cfg.Gateway.Timeout), cfg.Gateway.SendDelay),
		BatchSize: cfg.Dispatch.BatchSize,
		LeaseTTL:  cfg.Dispatch.LeaseTTL,
		Clock:     clock,
		Metrics:   m,
		Log:       log.With().Str("component", "dispatcher").Logger(),
	}
	recovery := &service.Recovery{
		Campaigns: campaigns,
		Clock:     clock,
		Log:       log.With().Str("component", "recovery").Logger(),
	}

	return &App{
		Config:     cfg,
		Log:        log,
		DB:         conn,
		Registry:   reg,
		Metrics:    m,
		Queue:      q,
		Campaigns:  campaigns,
		Dispatcher: dispatcher,
		Recovery:   recovery,
		Runner:     service.NewRunner(dispatcher, recovery, cfg.Dispatch.TickInterval, log.With().Str("component", "runner").Logger()),
	}
}

// GatewaySenders returns a factory whose clients share one pacer, so the
// send delay holds across campaigns and overlapping ticks in this process.
func GatewaySenders(http gateway.HTTPClient, delay time.Duration) service.SenderFactory {
	pacer := gateway.NewPacer(delay)
	return func(settings gateway.Settings) service.MessageSender {
		pacer.SetDelay(settings.SendDelay)
		return gateway.NewClient(settings, http, pacer)
	}
}

// DispatchHandlers maps dispatch command actions to the runner.
func (a *App) DispatchHandlers() map[string]queue.CommandHandler {
	return map[string]queue.CommandHandler{
		queue.CommandTick: func(ctx context.Context) error {
			_, _, err := a.Runner.RunTick(ctx)
			return err
		},
		queue.CommandReconcile: func(ctx context.Context) error {
			_, _, err := a.Runner.RunReconcile(ctx)
			return err
		},
	}
}

func (a *App) Close() error {
	a.Runner.Stop()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
