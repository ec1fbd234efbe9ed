package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"relay/internal/app"
	"relay/internal/config"
	"relay/observer"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "relay:", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config
	cfg := config.Load(os.Getenv("RELAY_CONFIG"))

	logLevel := slog.LevelWarn
	if os.Getenv("RELAY_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Telemetry, when enabled
	opts := []app.Option{app.WithLogger(log)}
	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}
		inst, shutdown, err := observer.Init(ctx, pricing)
		if err != nil {
			return fmt.Errorf("observer init: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Warn("observer shutdown", "err", err)
			}
		}()
		opts = append(opts, app.WithInstruments(inst))
	}

	// 3. Assemble and run
	assistant := app.New(cfg, opts...)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return assistant.Run(ctx) })
	if cfg.Telegram.Token != "" {
		group.Go(func() error { return assistant.StartBot(ctx) })
	}

	err := group.Wait()
	stop()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
