package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/nginx-vhost-sync/internal/config"
	"github.com/nginx-vhost-sync/internal/logger"
	"github.com/nginx-vhost-sync/internal/metrics"
	"github.com/nginx-vhost-sync/internal/proxyctl"
	"github.com/nginx-vhost-sync/internal/reconcile"
	"github.com/nginx-vhost-sync/internal/source"
	"github.com/nginx-vhost-sync/internal/source/sitedir"
	"github.com/nginx-vhost-sync/internal/state"
)

var (
	configFile    = kingpin.Flag("config.file", "Path to configuration file.").Default("config.yaml").String()
	listenAddress = kingpin.Flag("web.listen-address", "Address to listen on for telemetry.").Default(":9090").String()
	telemetryPath = kingpin.Flag("web.telemetry-path", "Path under which to expose metrics.").Default("/metrics").String()
	once          = kingpin.Flag("once", "Run a single sync and exit.").Bool()
	dryRun        = kingpin.Flag("dry-run", "Plan changes without writing files or reloading the proxy.").Bool()
)

func main() {
	kingpin.Parse()

	// Bootstrap logger until the configured one takes over
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if *dryRun {
		cfg.Reconcile.DryRun = true
	}
	logger.Configure(cfg.Log.Level, cfg.Log.Env)

	// Initialize metrics
	metrics := metrics.New(true)

	// Set up HTTP server for metrics and health checks
	mux := http.NewServeMux()
	mux.Handle(*telemetryPath, metrics.Handler())

	server := &http.Server{
		Addr:    *listenAddress,
		Handler: mux,
	}

	// Start http server in background
	go func() {
		slog.Info("Starting metrics server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Metrics server failed", "error", err)
		}
	}()

	// Graceful shutdown handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stateManager, err := state.New(cfg.StatePath, metrics)
	if err != nil {
		slog.Error("Failed to initialize state manager", "error", err)
		os.Exit(1)
	}
	defer stateManager.Close()

	sites := sitedir.New(cfg.Render.SitesDir, metrics)

	reloader, err := proxyctl.New(cfg.Proxy, metrics)
	if err != nil {
		slog.Error("Failed to initialize proxy reloader", "error", err)
		os.Exit(1)
	}

	engine := reconcile.NewEngine(stateManager, reloader, cfg, metrics)

	if *once {
		if err := performSync(ctx, sites, engine, metrics); err != nil {
			slog.Error("Sync operation failed", "error", err)
			os.Exit(1)
		}
		return
	}

	slog.Info("Starting nginx-vhost-sync service")

	wg := &sync.WaitGroup{}
	wg.Add(1)
	go runSyncLoop(ctx, wg, sites, engine, metrics, cfg.SyncInterval)

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("Shutdown signal received")
	cancel()

	// Shutdown server with same context
	serverShutdownCtx, cancelServer := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelServer()
	if err := server.Shutdown(serverShutdownCtx); err != nil {
		slog.Error("Metrics server shutdown error", "error", err)
	}

	// Wait for sync loop to finish
	wg.Wait()
	slog.Info("Service shutdown complete")
}

func runSyncLoop(ctx context.Context, wg *sync.WaitGroup, sites source.Source, engine reconcile.Engine, metrics *metrics.Metrics, interval time.Duration) {
	defer wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := performSync(ctx, sites, engine, metrics); err != nil {
			slog.Error("Sync operation failed", "error", err)
		}

		select {
		case <-ticker.C:
			continue
		case <-ctx.Done():
			slog.Info("Stopping sync loop")
			return
		}
	}
}

func performSync(ctx context.Context, src source.Source, engine reconcile.Engine, metrics *metrics.Metrics) error {
	slog.Info("Starting sync operation")
	start := time.Now()
	defer func() {
		metrics.SetSyncDuration(time.Since(start))
	}()

	sites, err := src.Sites(ctx)
	if err != nil {
		metrics.IncSyncRun(false)
		return err
	}
	metrics.SetSites(len(sites))

	slog.Info("Reconciling configuration files", "sites", len(sites))
	results, err := engine.Reconcile(ctx, sites)
	if err != nil {
		metrics.IncSyncRun(false)
		return err
	}

	slog.Info("Sync completed",
		"written", len(results.Written),
		"removed", len(results.Removed),
		"failures", len(results.Failures),
		"reloaded", results.Reloaded)
	metrics.IncSyncRun(len(results.Failures) == 0)

	return nil
}
