// Package main wires the Bazaraki car-listing watcher: scheduled scrape
// cycles, the follow-health sweep, the color-rescan maintenance pass, and
// the operational HTTP endpoints.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"bazaraki-watcher/config"
	"bazaraki-watcher/cycle"
	"bazaraki-watcher/fetch"
	"bazaraki-watcher/notify"
	"bazaraki-watcher/server"
	"bazaraki-watcher/storage"
	"bazaraki-watcher/sweep"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	store, err := storage.Open(cfg.DatabasePath, logger.With("component", "storage"))
	if err != nil {
		logger.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close database", "error", err)
		}
	}()

	fetcher := fetch.New(cfg.UserAgents, cfg.HTTPTimeout, cfg.DelayMin, cfg.DelayMax,
		logger.With("component", "fetch"))

	sinks := []notify.Sink{&notify.LogSink{Logger: logger.With("component", "notify")}}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.WebhookURL, cfg.HTTPTimeout,
			logger.With("component", "webhook")))
		logger.Info("Webhook sink enabled", "url", cfg.WebhookURL)
	}
	dispatcher := notify.NewDispatcher(store, logger.With("component", "notify"), sinks...)

	controller := cycle.New(fetcher, store, dispatcher, cycle.Config{
		BaseURL:                 cfg.BaseURL,
		SearchURL:               cfg.SearchURL,
		MaxConsecutiveUnchanged: cfg.MaxConsecutiveUnchanged,
		MaxPages:                cfg.MaxPages,
		NotifyPriceChanges:      cfg.NotifyPriceChanges,
	}, logger.With("component", "cycle"))

	sweeper := sweep.New(fetcher, store, dispatcher, cfg.FollowFailureThreshold,
		logger.With("component", "sweep"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.CycleSchedule, func() {
		newAds, err := controller.Run(ctx)
		if err != nil {
			logger.Error("Scrape cycle failed", "error", err)
			return
		}
		logger.Info("Scheduled cycle report", "new_ads", newAds)
	}); err != nil {
		logger.Error("Invalid cycle schedule", "schedule", cfg.CycleSchedule, "error", err)
		os.Exit(1)
	}
	if _, err := scheduler.AddFunc(cfg.SweepSchedule, func() {
		if err := sweeper.Run(ctx); err != nil {
			logger.Error("Follow-health sweep failed", "error", err)
		}
	}); err != nil {
		logger.Error("Invalid sweep schedule", "schedule", cfg.SweepSchedule, "error", err)
		os.Exit(1)
	}
	if _, err := scheduler.AddFunc(cfg.RescanSchedule, func() {
		updated, err := controller.RescanColors(ctx, cfg.RescanMaxPages)
		if err != nil {
			logger.Error("Color rescan failed", "error", err)
			return
		}
		logger.Info("Color rescan report", "updated", updated)
	}); err != nil {
		logger.Error("Invalid rescan schedule", "schedule", cfg.RescanSchedule, "error", err)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv := server.New(&server.Config{
		Controller: controller,
		Sweeper:    sweeper,
		Stats:      store,
		Logger:     logger.With("component", "server"),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(cfg.Port)
	}()

	select {
	case err := <-errCh:
		logger.Error("HTTP server stopped", "error", err)
		os.Exit(1)
	case <-ctx.Done():
		logger.Info("Shutdown signal received, stopping")
		controller.RequestStop()
	}
}
