package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"example.com/user-provisioner/internal/api"
	"example.com/user-provisioner/internal/app"
	"example.com/user-provisioner/internal/config"
	"example.com/user-provisioner/internal/metrics"
	"example.com/user-provisioner/internal/observability"
	"example.com/user-provisioner/internal/queue"
	"example.com/user-provisioner/internal/worker"
)

func main() {
	cfg := config.Load()
	logger, err := observability.NewLogger(observability.LoggerConfig{Env: cfg.Env, Level: cfg.LogLevel, Service: "provisioner"})
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("provisioner stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resolver, err := app.Resolver(cfg)
	if err != nil {
		return err
	}
	sinks, err := app.OpenSinks(cfg, nil, logger)
	if err != nil {
		return err
	}
	defer sinks.Close()

	pacers, pacerCloser := app.Pacers(cfg, logger)
	defer pacerCloser.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	orch := app.Orchestrator(cfg, resolver, sinks.Multi, pacers, reg, logger)

	qclient, err := queue.NewRabbitClient(cfg.RabbitURL, cfg.QueueName)
	if err != nil {
		return err
	}
	defer qclient.Close()
	logger.Info("connected to rabbitmq", zap.String("queue", cfg.QueueName))

	deps := api.Deps{
		Queue:     qclient,
		Archiver:  sinks.Files,
		Companies: resolver,
		Metrics:   metrics.Handler(reg),
		Logger:    logger,
		MaxBytes:  cfg.MaxUploadBytes,
	}
	if sinks.MySQL != nil {
		deps.Runs = sinks.MySQL
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewHandler(deps).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	wk := worker.NewWorker(orch, qclient, cfg.WorkerPool, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		wk.Start(gctx)
		<-gctx.Done()
		logger.Info("waiting for workers to finish")
		wk.Wait()
		return nil
	})
	g.Go(func() error {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		ctxSh, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctxSh)
	})
	return g.Wait()
}
