package app

import (
	"context"
	"os/signal"
	"syscall"

	"taskgate/pkg/logging"
)

// runServer runs the HTTP server until ctx is cancelled or the process is
// signalled.
//
// Signal Handling:
//   - SIGINT (Ctrl+C): Triggers graceful shutdown
//   - SIGTERM: Triggers graceful shutdown (common in container environments)
//
// Sessions are closed first, then the listener drains, then the OAuth
// stores and Redis connection are released.
func runServer(ctx context.Context, services *Services) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer services.Close()

	logging.Info("CLI", "Gateway starting on %s. Press Ctrl+C to stop.", services.Server.ListenAddr())

	if err := services.Server.Run(ctx); err != nil {
		logging.Error("CLI", err, "Gateway stopped with error")
		return err
	}

	logging.Info("CLI", "Gateway stopped")
	return nil
}
