// CLAUDE:SUMMARY Read-only tariff server: chi HTTP API over versioned snapshots, optional MCP tools on stdio.
// Command arancel-server serves tariff lookups from versioned snapshots.
//
// Usage:
//
//	arancel-server -config arancel.yaml
//	arancel-server -data-dir /srv/arancel -addr :8080
//	arancel-server -mcp-stdio              # also serve MCP tools on stdin/stdout
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/arancel/arancel"
)

func main() {
	configPath := flag.String("config", "", "path to arancel.yaml")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before ARANCEL_* overrides")
	dataDir := flag.String("data-dir", "", "snapshot directory (overrides config)")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	mcpStdio := flag.Bool("mcp-stdio", false, "serve MCP tools on stdio")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error")
	flag.Parse()

	cfg, err := arancel.LoadConfig(*configPath, *envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "arancel-server:", err)
		os.Exit(1)
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	if *mcpStdio {
		cfg.MCPStdio = true
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg); err != nil {
		logger.Error("arancel-server: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *arancel.Config) error {
	svc, err := arancel.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer svc.Close()

	if vl, err := svc.Versions(ctx); err == nil {
		logger.Info("arancel-server: snapshots", "dir", cfg.DataDir, "count", len(vl.Versions), "current", vl.Current)
	}

	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           svc.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logger.Info("arancel-server: http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.MCPStdio {
		mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "arancel", Version: "1.0.0"}, nil)
		svc.RegisterMCP(mcpSrv)
		g.Go(func() error {
			logger.Info("arancel-server: mcp on stdio")
			if err := mcpSrv.Run(gctx, &mcp.StdioTransport{}); err != nil && gctx.Err() == nil {
				return fmt.Errorf("mcp: %w", err)
			}
			return nil
		})
	}

	err = g.Wait()
	logger.Info("arancel-server: shut down")
	return err
}
