package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"web/geoclusters/api"
	"web/geoclusters/config"
	"web/geoclusters/logger"
	"web/geoclusters/runner"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Parse(os.Args[0], os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(2)
	}

	log, err := logger.NewLogger(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *logger.ZapLogger) error {
	if cfg.SnapshotDir != "" {
		absPath, _ := filepath.Abs(cfg.SnapshotDir)
		log.Info("using snapshot directory", zap.String("path", absPath))
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ch, err := runner.New(startCtx,
		runner.WithLogger(log.Component("worker")),
		runner.WithTileSize(cfg.TileSize),
		runner.WithInboxSize(cfg.InboxSize),
	)
	if err != nil {
		return err
	}

	registry, err := runner.NewRegistry(ch,
		runner.WithRegistryLogger(log.Component("registry")),
		runner.WithSnapshotDir(cfg.SnapshotDir),
		runner.WithMaxResults(cfg.MaxResults),
		runner.WithIdleTTL(cfg.IdleTTL),
	)
	if err != nil {
		ch.Close()
		return err
	}
	defer registry.Close()

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: api.NewServer(registry, log.Component("api"), cfg.RequestTimeout).Handler(),
	}

	// Create a channel to listen for interrupt signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-quit:
		log.Info("shutting down server")
	case err := <-serveErr:
		return err
	}

	ctx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}

	log.Info("server stopped")
	return nil
}
