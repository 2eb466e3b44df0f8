// Package main starts the BFS-crawl coordination sink's HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/api"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/clock"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/config"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/coordinator"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/logging"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/routing"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/storecache"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/streaming"
)

func main() {
	cfgPath := flag.String("config", "", "path to config file")
	dev := flag.Bool("dev", false, "enable development logging")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(*dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.New()
	stores := storecache.New(cfg.Server.ProjectRoot)
	streamingMgr := streaming.NewManager(cfg.Server.ProjectRoot, cfg.Artifacts.DefaultChunkSize, cfg.Artifacts.Encoding == "meta_first_row", clk, stores)
	co := coordinator.New(logger.Named("coordinator"))

	policy, err := buildPolicy(cfg.Routing.Policy)
	if err != nil {
		logger.Error("routing policy init failed", zap.Error(err))
		os.Exit(1)
	}

	apiServer := api.NewServer(cfg, logger.Named("api"), co, stores, streamingMgr, policy, clk)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	idle := time.Duration(cfg.Coordinator.WatchdogIdleMs) * time.Millisecond
	interval := time.Duration(cfg.Coordinator.WatchdogIntervalMs) * time.Millisecond
	go func() {
		logger.Info("watchdog started", zap.Duration("interval", interval), zap.Duration("idle", idle))
		co.Watchdog(ctx, interval, streamingMgr.WatchdogTick(idle))
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// buildPolicy resolves the configured routing policy name to a concrete
// implementation (spec §4.4's "pluggable by name" requirement). Electoral
// is the only policy shipped with this sink.
func buildPolicy(name string) (routing.Policy, error) {
	switch name {
	case "", "electoral":
		return routing.Electoral{}, nil
	default:
		return nil, fmt.Errorf("unknown routing policy %q", name)
	}
}
