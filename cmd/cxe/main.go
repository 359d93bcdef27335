// Command cxe runs the code execution engine: the submission API, worker
// pool, queue, and status cache wired together into one process.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cxeteam/cxe/pkg/execution/api"
	"github.com/cxeteam/cxe/pkg/execution/cache"
	"github.com/cxeteam/cxe/pkg/execution/config"
	"github.com/cxeteam/cxe/pkg/execution/lang"
	"github.com/cxeteam/cxe/pkg/execution/logging"
	"github.com/cxeteam/cxe/pkg/execution/metrics"
	"github.com/cxeteam/cxe/pkg/execution/orchestrator"
	"github.com/cxeteam/cxe/pkg/execution/queue"
	"github.com/cxeteam/cxe/pkg/execution/sandbox"
	"github.com/cxeteam/cxe/pkg/execution/worker"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to a CXE config file (JSON)")
	addr := flag.String("addr", ":8080", "address the submission API listens on")
	flag.Parse()

	if err := run(*configPath, *addr); err != nil {
		fmt.Fprintln(os.Stderr, "cxe: startup failure:", err)
		os.Exit(1)
	}
}

func run(configPath, addr string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	statusCache, err := cache.New(cfg.Cache.Backend, cfg.Cache.RedisAddr)
	if err != nil {
		return fmt.Errorf("building status cache: %w", err)
	}
	defer func() { _ = statusCache.Close() }()

	q := queue.New()
	registry := lang.DefaultRegistry()
	runner := sandbox.NewDockerRunner()

	orch := orchestrator.New(registry, runner, orchestrator.Config{
		CompileTimeout: cfg.CompileTimeout(),
		RunTimeout:     cfg.RunTimeout(),
		Limits: sandbox.Limits{
			CPUShare:    cfg.Run.CPUShare,
			MemoryBytes: cfg.Run.MemoryLimitBytes,
		},
		SandboxImage: func(language string) string {
			return cfg.Sandbox.Images[language]
		},
	}, log)

	var metricsRecorder *metrics.Recorder
	var workerMetrics worker.Metrics
	if cfg.Metrics.Enabled {
		metricsRecorder = metrics.NewRecorder()
		workerMetrics = metricsRecorder
	}

	pool := worker.New(worker.Config{
		Count:        cfg.Worker.Count,
		Queue:        q,
		Cache:        statusCache,
		Orchestrator: orch,
		TempDir:      cfg.TempDir,
		KeepWorkdir:  cfg.KeepWorkdir,
		CacheTTL:     cfg.Cache.TTL(),
		Metrics:      workerMetrics,
		Log:          log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool.Start(ctx)
	defer pool.Stop()

	server := api.NewServer(q, statusCache, pool, registry, cfg.Cache.TTL(), log)
	mux := http.NewServeMux()
	mux.Handle("/", server.Router())
	if metricsRecorder != nil {
		mux.Handle("/metrics", metricsRecorder.Handler())
	}

	httpServer := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		log.Info("submission API listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("submission API failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown timed out", zap.Error(err))
	}
	return nil
}
