package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/medspa-consent-intake/cmd/mainconfig"
	"github.com/wolfman30/medspa-consent-intake/internal/api/router"
	appbootstrap "github.com/wolfman30/medspa-consent-intake/internal/app/bootstrap"
	"github.com/wolfman30/medspa-consent-intake/internal/catalog"
	appconfig "github.com/wolfman30/medspa-consent-intake/internal/config"
	httpmiddleware "github.com/wolfman30/medspa-consent-intake/internal/http/middleware"
	"github.com/wolfman30/medspa-consent-intake/internal/intake"
	notificationworker "github.com/wolfman30/medspa-consent-intake/internal/worker/notification"
	"github.com/wolfman30/medspa-consent-intake/pkg/logging"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: failed to read .env: %v\n", err)
	}
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting consent intake API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"store", cfg.StoreBackend,
		"dispatch_mode", cfg.DispatchMode,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := loadAWS(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	registry, metricsHandler := setupMetrics()
	svc, err := appbootstrap.BuildServices(ctx, cfg, awsCfg, registry, logger)
	if err != nil {
		logger.Error("failed to build intake services", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	products, err := appbootstrap.LoadCatalog(ctx, cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to load product catalog", "error", err, "source", cfg.ProductCatalogSource)
		os.Exit(1)
	}

	routerCfg := &router.Config{
		Logger:             logger,
		IntakeHandler:      intake.NewHandler(svc.Orchestrator, logger),
		CatalogHandler:     catalog.NewHandler(products),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		HealthCheck:        svc.Store.Ping,
	}
	if cfg.MetricsEnabled {
		routerCfg.MetricsHandler = metricsHandler
	}

	var background sync.WaitGroup
	startBackgroundWork(ctx, cfg, svc, logger, &background)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.New(routerCfg),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Inline dispatch retries run inside the request.
		WriteTimeout: cfg.StoreTimeout + time.Duration(cfg.DispatchMaxAttempts)*(cfg.DispatchTimeout+cfg.DispatchMaxDelay) + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	cancel()
	background.Wait()

	logger.Info("server stopped")
}

func loadAWS(ctx context.Context, cfg *appconfig.Config) (*aws.Config, error) {
	if !mainconfig.NeedsAWS(cfg) {
		return nil, nil
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &awsCfg, nil
}

// startBackgroundWork runs the in-process consumer for the memory queue and
// the pending sweeper when no separate worker owns them.
func startBackgroundWork(ctx context.Context, cfg *appconfig.Config, svc *appbootstrap.Services, logger *logging.Logger, wg *sync.WaitGroup) {
	inProcess := cfg.DispatchMode != appconfig.DispatchModeQueue || cfg.UseMemoryQueue
	if !inProcess {
		return
	}

	if svc.Queue != nil {
		consumer := notificationworker.NewConsumer(svc.Queue, svc.Store.Repository, svc.Orchestrator, logger).
			WithWorkers(cfg.WorkerCount).
			WithReceiveWait(0)
		consumer.Start(ctx)
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumer.Wait()
		}()
		logger.Info("in-process notification workers started", "workers", cfg.WorkerCount)
	}

	sweeper := notificationworker.NewSweeper(svc.Store.Repository, svc.Orchestrator, logger).
		WithInterval(cfg.SweepInterval).
		WithStaleAfter(cfg.SweepStaleAfter).
		WithMetrics(svc.Metrics)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()
}

func setupMetrics() (*prometheus.Registry, http.Handler) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
