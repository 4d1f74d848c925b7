package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/alexjbarnes/bucket-sync/internal/manager"
	"github.com/alexjbarnes/bucket-sync/internal/mcpserver"
	"github.com/alexjbarnes/bucket-sync/internal/metrics"
	"github.com/alexjbarnes/bucket-sync/internal/server"
	"github.com/alexjbarnes/bucket-sync/internal/watcher"
)

// cmdDaemon runs periodic sync passes, the upload watcher and the MCP
// server until interrupted.
func cmdDaemon(ctx context.Context, a *app, _ []string) error {
	cfg := a.cfg

	a.logger.Info("bucket-sync daemon starting",
		slog.String("version", Version),
		slog.Duration("sync_interval", cfg.SyncInterval),
		slog.String("watch_dir", cfg.WatchDir),
		slog.Bool("mcp", cfg.EnableMCP),
	)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.SyncInterval > 0 {
		g.Go(func() error {
			runSyncLoop(gctx, a.mgr, cfg.SyncInterval, a.logger)
			return nil
		})
	}

	if cfg.WatchDir != "" {
		w := watcher.New(cfg.WatchDir, a.mgr, a.logger.With(slog.String("service", "watcher")))
		g.Go(func() error {
			return w.Watch(gctx)
		})
	}

	if cfg.EnableMCP {
		g.Go(func() error {
			return runMCP(gctx, a, a.logger.With(slog.String("service", "mcp")))
		})
	}

	return g.Wait()
}

// runSyncLoop runs a pass immediately and then every interval. A failed
// pass is logged and retried on the next tick.
func runSyncLoop(ctx context.Context, mgr *manager.Manager, interval time.Duration, logger *slog.Logger) {
	syncOnce := func() {
		res, err := mgr.Sync(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("sync pass failed", slog.String("error", err.Error()))
			}
			return
		}

		logger.Info("sync pass complete",
			slog.Int("total", res.Total),
			slog.Int("conflicted", len(res.Conflicted)),
		)
	}

	syncOnce()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			syncOnce()
		}
	}
}

// runMCP serves the MCP tools and Prometheus metrics over HTTP.
func runMCP(ctx context.Context, a *app, logger *slog.Logger) error {
	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "bucket-sync-mcp", Version: Version},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, a.mgr)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	mux := server.NewMux(server.MuxConfig{
		MCPHandler:     mcpHandler,
		MetricsHandler: metrics.Handler(),
		KeyHash:        a.cfg.MCPAPIKeyHash,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:         a.cfg.MCPListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.Info("starting MCP server", slog.String("listen", a.cfg.MCPListenAddr))

	// Shutdown when context is cancelled.
	go func() {
		<-ctx.Done()
		logger.Info("shutting down MCP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("MCP server error: %w", err)
	}

	return nil
}
