package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/use-agent/pagesignal/api"
	"github.com/use-agent/pagesignal/api/handler"
	"github.com/use-agent/pagesignal/dataset"
	"github.com/use-agent/pagesignal/scanner"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API for submitting scan batches",
		Long: `Serve exposes:

  POST /api/v1/scans      queue a batch of {url,label} targets
  GET  /api/v1/scans/:id  job status, result map and error list
  GET  /api/v1/batches    stored batch history (needs --sqlite / sqlite_path)
  GET  /api/v1/batches/:id/results
  GET  /api/v1/health     liveness (no auth)

Batches run one at a time. When a batch carries a webhook_url, a signed
scan.completed event is posted on completion.`,
		Args: cobra.NoArgs,
		RunE: runServeCmd,
	}
	cmd.Flags().Int("queue", 16, "Maximum number of waiting batches")
	return cmd
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	slog.Info("pagesignal starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"proxy", cfg.Proxy.Enabled(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := newPipeline(cfg)
	defer p.Close()

	sinks := []scanner.Sink{&dataset.CSVSink{ResultsPath: filepath.Join(cfg.Output.Dir, cfg.Output.ResultsFile)}}
	var history handler.BatchStore
	if cfg.Output.SQLitePath != "" {
		store, err := dataset.OpenStore(cfg.Output.SQLitePath)
		if err != nil {
			return err
		}
		defer store.Close()
		sinks = append(sinks, store)
		history = store
	}

	size, _ := cmd.Flags().GetInt("queue")
	q := handler.NewQueue(p.scanner(sinks...), cfg.Webhook.Secret, size)
	go q.Start(ctx)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(q, history, cfg, time.Now()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}
	slog.Info("pagesignal stopped")
	return nil
}
