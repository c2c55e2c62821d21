package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/nexhub-labs/coordinator/internal/agent"
	"github.com/nexhub-labs/coordinator/internal/api"
	"github.com/nexhub-labs/coordinator/internal/config"
	"github.com/nexhub-labs/coordinator/internal/events"
	"github.com/nexhub-labs/coordinator/internal/orchestrator"
	"github.com/nexhub-labs/coordinator/internal/registry"
	"github.com/nexhub-labs/coordinator/internal/resilience"
	"github.com/nexhub-labs/coordinator/internal/schedule"
	"github.com/nexhub-labs/coordinator/internal/scheduler"
	"github.com/nexhub-labs/coordinator/internal/storage"
	"github.com/nexhub-labs/coordinator/internal/store"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load("./config")
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Core components.
	taskStore := store.New(logger)
	taskScheduler := scheduler.New(taskStore, logger)
	workerRegistry := registry.New(taskStore, logger)

	orchestratorOpts := []orchestrator.Option{
		orchestrator.WithAssignmentInterval(cfg.Assignment.Interval),
	}

	// Task history archive.
	var history storage.HistoryStore
	if cfg.History.Enabled {
		sqlite, err := storage.NewSQLiteHistory(logger, cfg.History.Path)
		if err != nil {
			logger.Fatal("Failed to open task archive", zap.Error(err))
		}
		defer sqlite.Close()
		history = sqlite
		orchestratorOpts = append(orchestratorOpts, orchestrator.WithHistory(history))
	}

	// Lifecycle event stream.
	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URLs[0],
			nats.Name(cfg.App.Name),
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
			nats.ReconnectWait(cfg.NATS.ReconnectWait),
			nats.Timeout(cfg.NATS.ConnectTimeout),
			nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
				logger.Warn("NATS disconnected", zap.Error(err))
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
			}),
		)
		if err != nil {
			logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer nc.Close()

		js, err := nc.JetStream()
		if err != nil {
			logger.Fatal("Failed to create JetStream context", zap.Error(err))
		}
		publisher, err := events.NewNATSPublisher(js, logger)
		if err != nil {
			logger.Fatal("Failed to create event publisher", zap.Error(err))
		}
		orchestratorOpts = append(orchestratorOpts, orchestrator.WithPublisher(publisher))
	}

	coord := orchestrator.New(taskStore, taskScheduler, workerRegistry, logger, orchestratorOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := coord.Start(ctx); err != nil {
		logger.Fatal("Failed to start orchestrator", zap.Error(err))
	}

	// Built-in workers.
	resilienceCfg := resilience.Config{
		MaxRetries:        cfg.Resilience.MaxRetries,
		BaseRetryDelay:    cfg.Resilience.BaseRetryDelay,
		PerAttemptTimeout: cfg.Resilience.PerAttemptTimeout,
	}
	if _, err := coord.RegisterWorker(ctx, agent.NewTransformAgent(logger)); err != nil {
		logger.Fatal("Failed to register transform worker", zap.Error(err))
	}
	if _, err := coord.RegisterWorker(ctx, agent.NewHTTPAgent("upstream", agent.HTTPAgentConfig{
		Resilience: resilienceCfg,
	}, logger)); err != nil {
		logger.Fatal("Failed to register http worker", zap.Error(err))
	}

	// Recurring workflow schedules.
	recurring := schedule.NewRecurringScheduler(coord, logger)
	if err := recurring.Start(ctx); err != nil {
		logger.Fatal("Failed to start recurring scheduler", zap.Error(err))
	}

	// Archive retention cleanup.
	if history != nil && cfg.History.Retention > 0 {
		go func() {
			ticker := time.NewTicker(24 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					cutoff := time.Now().Add(-cfg.History.Retention)
					if err := history.DeleteBefore(ctx, cutoff); err != nil {
						logger.Error("Failed to clean up task archive", zap.Error(err))
					}
				}
			}
		}()
	}

	// HTTP API.
	handlers := api.NewHandlers(coord, recurring, history, resilienceCfg, logger)
	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: api.NewRouter(handlers),
	}
	go func() {
		logger.Info("HTTP API listening", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}

	recurring.Stop()
	cancel()
	coord.Stop()

	logger.Info("Server shut down gracefully")
}
