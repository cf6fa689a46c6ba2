package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/llmgate/internal/gateway"
	"github.com/user/llmgate/internal/server"
	"github.com/user/llmgate/internal/store"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway HTTP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// The gateway degrades to stateless operation without a store.
	var st store.Store
	if sq, err := store.NewSQLiteStore(cfg.DatabasePath); err != nil {
		slog.Warn("chat persistence disabled", "path", cfg.DatabasePath, "error", err)
	} else {
		st = sq
		defer sq.Close()
	}

	gw := gateway.New(cfg, st)
	srv := server.NewServer(gw, st, int64(cfg.MaxConcurrent))

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: srv,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("llmgate started",
			"port", cfg.Port,
			"data_dir", cfg.DataDir,
			"log_level", cfg.LogLevel,
			"max_concurrent", cfg.MaxConcurrent,
			"providers", gw.Available(),
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigChan:
		slog.Info("shutting down", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
