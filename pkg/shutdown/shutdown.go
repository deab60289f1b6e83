package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcodd23/go-micro-dao/pkg/logx"
	"github.com/pkg/errors"
)

// Hook releases one resource on shutdown, e.g. the http server or the datastore.
type Hook struct {
	Name  string
	Close func(ctx context.Context) error
}

// WaitForShutdown blocks until SIGINT or SIGTERM, then runs the hooks in order
// within timeout. It returns the first hook error, or the deadline error.
//
// Usage:
//
//	shutdown.WaitForShutdown(context.Background(), 5*time.Second,
//	    shutdown.Hook{Name: "server", Close: srv.Shutdown},
//	    shutdown.Hook{Name: "datastore", Close: func(context.Context) error { datastore.Close(); return nil }})
func WaitForShutdown(rootCtx context.Context, timeout time.Duration, hooks ...Hook) error {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	return waitFor(rootCtx, signals, timeout, hooks...)
}

func waitFor(rootCtx context.Context, signals <-chan os.Signal, timeout time.Duration, hooks ...Hook) error {
	select {
	case sig := <-signals:
		logx.GetLogger().LogDebug(rootCtx, fmt.Sprintf("Interrupt signal captured: %s", sig.String()))
	case <-rootCtx.Done():
		logx.GetLogger().LogDebug(rootCtx, "Root context done, shutting down")
	}

	timeoutCtx, cancel := context.WithTimeout(context.WithoutCancel(rootCtx), timeout)
	defer cancel()

	return cleanUp(timeoutCtx, hooks)
}

// cleanUp runs the hooks and waits for them or for the context deadline.
func cleanUp(timeoutCtx context.Context, hooks []Hook) error {
	logx.GetLogger().LogInfo(timeoutCtx, "Cleaning up all resources ....")

	done := make(chan error, 1)

	go func() {
		var first error

		for _, h := range hooks {
			if h.Close == nil {
				continue
			}

			if err := h.Close(timeoutCtx); err != nil {
				logx.GetLogger().LogError(timeoutCtx, fmt.Sprintf("Error closing %s", h.Name), err)

				if first == nil {
					first = errors.Wrapf(err, "closing %s", h.Name)
				}
			}
		}

		done <- first
	}()

	select {
	case <-timeoutCtx.Done():
		logx.GetLogger().LogError(timeoutCtx, "Deadline exceeded during context cancellation", timeoutCtx.Err())
		return timeoutCtx.Err()
	case err := <-done:
		if err == nil {
			logx.GetLogger().LogInfo(timeoutCtx, "All resources cleaned up")
		}

		return err
	}
}
