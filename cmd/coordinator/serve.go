package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	grpcapi "github.com/nemanja-m/scrapegrid/internal/coordinator/api/grpc"
	"github.com/nemanja-m/scrapegrid/internal/coordinator/api/rest"
	"github.com/nemanja-m/scrapegrid/internal/coordinator/cache"
	"github.com/nemanja-m/scrapegrid/internal/coordinator/core"
	"github.com/nemanja-m/scrapegrid/internal/coordinator/events"
	"github.com/nemanja-m/scrapegrid/internal/coordinator/registry"
	"github.com/nemanja-m/scrapegrid/internal/coordinator/service"
	"github.com/nemanja-m/scrapegrid/internal/coordinator/storage"
	"github.com/nemanja-m/scrapegrid/internal/shared/config"
	"github.com/nemanja-m/scrapegrid/internal/shared/logging"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API, the worker gRPC service and the background loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func openStore(ctx context.Context, cfg config.StorageConfig, logger logging.Logger) (core.Store, error) {
	if cfg.Driver != "postgres" {
		logger.Warn("Using in-memory storage, state is lost on restart")
		return storage.NewMemoryStore(), nil
	}
	db, err := storage.Connect(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MigrateOnStart {
		if err := storage.MigrateUp(db.DB, logger); err != nil {
			db.Close()
			return nil, err
		}
	}
	logger.Info("Connected to PostgreSQL")
	return storage.NewPostgresStore(db), nil
}

func serve(ctx context.Context, cfg *config.CoordinatorConfig, logger logging.Logger) error {
	store, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	checks := []rest.HealthCheck{store.Ping}
	var progress core.ProgressCache
	if cfg.Redis.Addr != "" {
		redisCache := cache.NewRedisProgressCache(
			cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB),
			cfg.Redis.ProgressTTL,
		)
		defer redisCache.Close()
		checks = append(checks, redisCache.Ping)
		progress = redisCache
		logger.Info("Using Redis progress cache", "addr", cfg.Redis.Addr)
	} else {
		progress = cache.NewMemoryProgressCache(cfg.Redis.ProgressTTL, time.Now)
	}

	bus := events.NewBus(cfg.Events.BufferSize, logger)
	defer bus.Close()

	coordinator := service.NewCoordinator(service.Deps{
		Registry: registry.New(time.Now),
		Jobs:     store,
		Workers:  store,
		Events:   bus,
		Progress: progress,
		Logger:   logger,
	}, service.Options{
		AllowedHosts: cfg.Jobs.AllowedHosts,
		ResultsDir:   cfg.Jobs.ResultsDir,
		RecentLimit:  cfg.Jobs.RecentLimit,
	})
	if err := coordinator.Recover(ctx); err != nil {
		return fmt.Errorf("recover state: %w", err)
	}

	health := func(ctx context.Context) error {
		for _, check := range checks {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
	api := rest.NewAPI(coordinator, coordinator, bus, health, logger)
	httpServer := rest.NewServer(cfg.REST, api, logger)
	grpcServer := grpcapi.NewServer(cfg.GRPC, coordinator, logger)

	scheduler := service.NewScheduler(cfg.Scheduler.Interval, cfg.Scheduler.BatchSize, coordinator, logger)
	liveness := service.NewLivenessMonitor(cfg.Health.CheckInterval, cfg.Health.StaleTimeout, coordinator, logger)
	stats := service.NewStatsBroadcaster(cfg.Stats.Interval, coordinator, bus, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("REST API listening", "addr", cfg.REST.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("rest server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := grpcServer.Start(); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error { return scheduler.Start(gctx) })
	g.Go(func() error { return liveness.Start(gctx) })
	g.Go(func() error { return stats.Start(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down coordinator")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Closing the bus ends open SSE streams so Shutdown can finish.
		bus.Close()
		grpcServer.Stop()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Coordinator stopped")
	return nil
}
