package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Eng-Elias/codetective/internal/httpapi"
)

// shutdownTimeout bounds the graceful HTTP shutdown after SIGINT/SIGTERM.
const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the codetective HTTP API",
	Long: `Start the HTTP API server. Endpoints:

  GET  /health        liveness probe
  GET  /metrics       Prometheus metrics
  POST /api/v1/scan   run a scan
  POST /api/v1/fix    fix issues from a result document
  GET  /api/v1/info   tool availability and version

The server shuts down gracefully on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	srv, err := httpapi.NewServer(a.svc, a.prober, a.cfg, a.log)
	if err != nil {
		return err
	}

	a.log.Info(ctx, "starting HTTP API",
		zap.String("host", a.cfg.Serve.Host),
		zap.Int("port", a.cfg.Serve.Port))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info(context.Background(), "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
