package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// WorkerOptions holds flags for the worker command.
type WorkerOptions struct {
	*RootOptions
	Port int

	// Ready, when set, receives the HTTP listen address once the server is up.
	Ready func(addr string)
}

// NewWorkerCommand creates the worker command.
func NewWorkerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WorkerOptions{RootOptions: rootOpts, Port: -1}

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the job runner and the operator API",
		Long: `Poll the job table for due onboarding reminders and serve the operator
HTTP API (/v1, /health, /metrics) until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Port, "port", -1, "HTTP port (defaults to PORT from the environment)")

	return cmd
}

func runWorker(cmd *cobra.Command, opts *WorkerOptions) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	logger := rt.Logger

	port := rt.Config.Port
	if opts.Port >= 0 {
		port = opts.Port
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}

	srv := &http.Server{
		Handler:      rt.HTTP,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second, // a forced scan can take a while
		IdleTimeout:  60 * time.Second,
	}

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		rt.Worker.Start(ctx)
	}()

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", ln.Addr().String()))
		serverErrors <- srv.Serve(ln)
	}()
	if opts.Ready != nil {
		opts.Ready(ln.Addr().String())
	}

	var runErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = WrapExitError(ExitFailure, "server error", err)
		}
		stop()
	case <-ctx.Done():
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			runErr = WrapExitError(ExitFailure, "graceful shutdown failed", err)
		}
	}

	<-workerDone
	logger.Info("worker stopped")
	return runErr
}
