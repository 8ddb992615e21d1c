package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/medspa-consent-intake/cmd/mainconfig"
	appbootstrap "github.com/wolfman30/medspa-consent-intake/internal/app/bootstrap"
	appconfig "github.com/wolfman30/medspa-consent-intake/internal/config"
	notificationworker "github.com/wolfman30/medspa-consent-intake/internal/worker/notification"
	"github.com/wolfman30/medspa-consent-intake/pkg/logging"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: failed to read .env: %v\n", err)
	}
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if err := validate(cfg); err != nil {
		logger.Error("invalid worker configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	svc, err := appbootstrap.BuildServices(ctx, cfg, &awsConfig, registry, logger)
	if err != nil {
		logger.Error("failed to build intake services", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	consumer := notificationworker.NewConsumer(svc.Queue, svc.Store.Repository, svc.Orchestrator, logger).
		WithWorkers(cfg.WorkerCount)
	sweeper := notificationworker.NewSweeper(svc.Store.Repository, svc.Orchestrator, logger).
		WithInterval(cfg.SweepInterval).
		WithStaleAfter(cfg.SweepStaleAfter).
		WithMetrics(svc.Metrics)

	consumer.Start(ctx)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweeper.Run(ctx)
	}()

	var metricsSrv *http.Server
	if cfg.MetricsEnabled {
		metricsSrv = &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}
	logger.Info("notification worker started", "workers", cfg.WorkerCount, "queue", cfg.NotificationQueueURL)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down notification worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(doneCtx)
	}

	waitCh := make(chan struct{})
	go func() {
		consumer.Wait()
		<-sweepDone
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("notification worker stopped")
	case <-doneCtx.Done():
		logger.Error("notification worker shutdown timed out", "error", doneCtx.Err())
	}
}

func validate(cfg *appconfig.Config) error {
	if cfg.DispatchMode != appconfig.DispatchModeQueue {
		return fmt.Errorf("notification worker requires DISPATCH_MODE=queue, got %q", cfg.DispatchMode)
	}
	if cfg.UseMemoryQueue {
		return errors.New("notification worker cannot run when USE_MEMORY_QUEUE=true; the API process drains the in-memory queue")
	}
	return nil
}
