package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felixgeelhaar/filldrill/internal/config"
	"github.com/felixgeelhaar/filldrill/internal/daemon"
	mcpserver "github.com/felixgeelhaar/filldrill/internal/mcp"
)

// cmdMCP serves the MCP tools on stdio. Stdout carries the protocol, so
// logs go to stderr.
func cmdMCP() error {
	if _, err := config.EnsureDir(); err != nil {
		return fmt.Errorf("setup config directory: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	services, err := daemon.NewServices(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := services.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
	}()

	srv := mcpserver.NewServer(mcpserver.Config{
		Drill:    services.Drill,
		Resolver: services.Resolver,
		Version:  Version,
	})
	return srv.ServeStdio(ctx)
}
