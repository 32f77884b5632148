package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nemanja-m/scrapegrid/internal/shared/config"
	"github.com/nemanja-m/scrapegrid/internal/shared/logging"
	"github.com/nemanja-m/scrapegrid/internal/shared/metrics"
	"github.com/nemanja-m/scrapegrid/internal/worker/api/grpc"
	"github.com/nemanja-m/scrapegrid/internal/worker/core"
	"github.com/nemanja-m/scrapegrid/internal/worker/scraper"
	"github.com/nemanja-m/scrapegrid/internal/worker/service"
)

func main() {
	var configPath string
	root := &cobra.Command{
		Use:           "worker",
		Short:         "Scrapegrid scraping worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWorker(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logger)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newScrapers(cfg config.ScraperConfig) (*scraper.Registry, error) {
	html := scraper.NewHTMLScraper(cfg, nil)
	scrapers := scraper.NewRegistry()
	if len(cfg.Hosts) == 0 {
		scrapers.SetFallback(html)
		return scrapers, nil
	}
	for _, host := range cfg.Hosts {
		if err := scrapers.Register(host, html); err != nil {
			return nil, err
		}
	}
	return scrapers, nil
}

func registration(cfg *config.WorkerConfig, scrapers *scraper.Registry) core.Registration {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown"
	}
	capabilities := map[string]string{
		"scraper":     "html",
		"concurrency": fmt.Sprint(cfg.Scraper.Concurrency),
	}
	if hosts := scrapers.Hosts(); len(hosts) > 0 {
		capabilities["hosts"] = strings.Join(hosts, ",")
	}
	for k, v := range cfg.Scraper.Capabilities {
		capabilities[k] = v
	}

	addr := cfg.Server.Addr
	if host, port, err := net.SplitHostPort(addr); err == nil && host == "" {
		addr = net.JoinHostPort(hostname, port)
	}
	return core.Registration{Hostname: hostname, Address: addr, Capabilities: capabilities}
}

func run(ctx context.Context, cfg *config.WorkerConfig, logger logging.Logger) error {
	scrapers, err := newScrapers(cfg.Scraper)
	if err != nil {
		return err
	}

	client, err := grpc.NewCoordinatorClient(cfg.Coordinator.Addr, cfg.Coordinator.GRPC)
	if err != nil {
		return fmt.Errorf("create coordinator client: %w", err)
	}
	defer client.Close()

	worker := service.NewWorkerService(
		client,
		service.NewScrapeExecutor(scrapers, cfg.ResultsDir, logger),
		service.Options{
			Registration: registration(cfg, scrapers),
			MinBackoff:   cfg.Poll.MinBackoff,
			MaxBackoff:   cfg.Poll.MaxBackoff,
		},
		logger,
	)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: cfg.Server.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Worker started", "coordinator", cfg.Coordinator.Addr, "results_dir", cfg.ResultsDir)
		return worker.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("Metrics listening", "addr", cfg.Server.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Worker stopped")
	return nil
}
