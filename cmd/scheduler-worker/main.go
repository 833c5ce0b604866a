package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/cmd/mainconfig"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/api/router"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/app/bootstrap"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/history"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/http/handlers"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/internal/observability/metrics"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub007/pkg/logging"
)

func main() {
	worker, err := mainconfig.Load()
	if err != nil {
		logging.Default().Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	cfg := worker.App
	logger := logging.New(cfg.LogLevel).With("service", "scheduler-worker", "env", cfg.Env)
	logger.Info("scheduler worker configured", worker.LogFields()...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	schedulerMetrics := metrics.NewSchedulerMetrics(reg)

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	pool, err := bootstrap.BuildPostgresPool(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	var hist *history.Repository
	if pool != nil {
		defer pool.Close()
		hist = history.NewRepository(pool)
	} else {
		logger.Warn("DATABASE_URL not set; predictions use priors and events are not logged")
	}

	transport, err := bootstrap.BuildTransport(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build transport", "error", err)
		os.Exit(1)
	}

	sched, err := bootstrap.BuildScheduler(bootstrap.Deps{
		Config:    cfg,
		Logger:    logger,
		Metrics:   schedulerMetrics,
		Redis:     redisClient,
		History:   hist,
		Transport: transport,
	})
	if err != nil {
		logger.Error("failed to build scheduler", "error", err)
		os.Exit(1)
	}

	deps := map[string]handlers.Pinger{}
	if sched.States != nil {
		deps["redis"] = sched.States
	}
	if pool != nil {
		deps["postgres"] = pool
	}
	r := router.New(&router.Config{
		Logger:          logger,
		Health:          handlers.NewHealthHandler(deps, logger),
		Processors:      handlers.NewProcessorsHandler(sched.Manager),
		MetricsHandler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		AdminAuthSecret: cfg.AdminJWTSecret,
		AdminRateLimit:  cfg.AdminRateLimit,
	})
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sched.Manager.Start(ctx)
	sched.Consumer.Start(ctx)

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case <-ctx.Done():
	}

	logger.Info("shutting down scheduler worker...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	waitCh := make(chan error, 1)
	go func() {
		sched.Consumer.Wait()
		waitCh <- sched.Manager.Wait()
	}()

	select {
	case err := <-waitCh:
		if err != nil {
			logger.Error("processors stopped with error", "error", err)
			os.Exit(1)
		}
		logger.Info("scheduler worker stopped")
	case <-shutdownCtx.Done():
		logger.Error("scheduler worker shutdown timed out", "error", shutdownCtx.Err())
	}
}
