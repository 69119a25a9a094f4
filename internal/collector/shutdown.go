package collector

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// SetupSignalHandler creates a context that is cancelled on SIGTERM or SIGINT.
// It calls onShutdown first. A second signal exits immediately.
func SetupSignalHandler(logger *slog.Logger, onShutdown func(context.Context)) context.Context {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	return watchSignals(logger, sigCh, onShutdown, os.Exit)
}

func watchSignals(logger *slog.Logger, sigCh <-chan os.Signal, onShutdown func(context.Context), exit func(int)) context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		sig := <-sigCh
		logger.Info("shutdown_requested", "signal", sig.String())

		if onShutdown != nil {
			onShutdown(ctx)
		}
		cancel()

		sig = <-sigCh
		logger.Warn("shutdown_forced", "signal", sig.String())
		exit(1)
	}()

	return ctx
}
