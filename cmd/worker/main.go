package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/unclebandit/campaign-dispatch/internal/app"
	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
)

// The worker drives ticks on its own timer and, with AMQP enabled, also
// runs tick and reconcile commands published by operators.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}
	defer a.Close()

	if err := start(ctx, a, true); err != nil {
		log.Fatal().Err(err).Msg("failed to start worker")
	}
	<-ctx.Done()
	log.Info().Msg("worker stopping")
}

// start subscribes to dispatch commands and, if asked, starts the ticker.
// Both stop when ctx is done.
func start(ctx context.Context, a *app.App, scheduler bool) error {
	if err := queue.StartDispatchCommandSubscriber(ctx, a.Queue, a.DispatchHandlers(), a.Log); err != nil {
		return err
	}
	if scheduler {
		a.Runner.Start(ctx)
	}
	a.Log.Info().Bool("scheduler", scheduler).Bool("amqp", a.Config.AMQP.Enabled).Msg("worker running, waiting for work...")
	return nil
}
