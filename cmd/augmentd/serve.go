package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	augmenthttp "github.com/fyrsmithlabs/augmentd/internal/http"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveHost string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the augmentd HTTP API on the configured port (SERVER_HTTP_PORT).

The server stops on SIGINT or SIGTERM, draining in-flight requests for up
to server.shutdown_timeout.

Examples:
  # Listen on localhost:9090
  augmentd serve

  # Listen on all interfaces
  augmentd serve --host 0.0.0.0`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "localhost", "interface to listen on")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, appOptions{telemetry: true, rag: true})
	if err != nil {
		return err
	}
	defer a.Close()

	return serve(ctx, a, serveHost)
}

// serve blocks until ctx is cancelled or the listener fails.
func serve(ctx context.Context, a *app, host string) error {
	srv, err := augmenthttp.NewServer(augmenthttp.Services{
		RAG:    a.pipeline,
		Memory: a.memory,
	}, a.logger, &augmenthttp.Config{
		Host:     host,
		Port:     a.cfg.Server.Port,
		TopKTask: a.cfg.Memory.TopKTask,
		TopKUser: a.cfg.Memory.TopKUser,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	a.logger.Info(ctx, "starting augmentd",
		zap.String("version", version),
		zap.Int("port", a.cfg.Server.Port),
		zap.Bool("rag_enabled", a.pipeline.Enabled()),
		zap.Bool("memory_enabled", a.memory.Enabled()),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	if err := <-errCh; err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	a.logger.Info(shutdownCtx, "server shutdown complete")
	return nil
}
