package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"audio-insights-go/internal/app"
	"audio-insights-go/internal/config"
	"audio-insights-go/internal/dataset"
	"audio-insights-go/internal/logger"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.New().WithError(err).Fatal("failed to load config")
	}

	log := logger.New()
	log.WithField("service", cfg.Telemetry.ServiceName).Info("starting service")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to assemble service")
	}
	// workers outlive the signal; Shutdown closes the queue and drains them
	a.Start(context.WithoutCancel(ctx))

	// optional batch of recordings queued at startup
	if path := os.Getenv("DATASET_PATH"); path != "" {
		submitManifest(ctx, a, log, path)
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Server.Port).Info("http server listening")
		errCh <- a.Listen()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down gracefully")
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Error("http server stopped")
		}
	}

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown incomplete")
		os.Exit(1)
	}
	log.Info("service stopped")
}

func submitManifest(ctx context.Context, a *app.App, log *logger.Logger, path string) {
	mlog := log.With("dataset_path", path)
	records, err := dataset.Load(path)
	if err != nil {
		mlog.WithError(err).Error("failed to load manifest")
		return
	}
	submitted := 0
	for _, rec := range records {
		name := rec.CallID
		if name == "" {
			name = filepath.Base(strings.SplitN(rec.AudioURL, "?", 2)[0])
		}
		if _, err := a.Service.Submit(ctx, rec.AudioURL, name); err != nil {
			mlog.WithError(err).WithField("row", rec.Row).Warn("manifest row not submitted")
			continue
		}
		submitted++
	}
	mlog.WithField("rows", len(records)).WithField("submitted", submitted).Info("manifest submitted")
}
