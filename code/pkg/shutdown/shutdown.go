// shutdown stops the server just before midnight each day.  The server is
// run by a supervisor that restarts it, and the restart picks up any renewed
// TLS certificate.
package shutdown

import (
	"context"
	"log/slog"
	"time"
)

// Server is the part of *http.Server that shutdown needs.
type Server interface {
	Shutdown(ctx context.Context) error
}

// GracePeriod is how long requests in progress are given to finish.
const GracePeriod = 10 * time.Second

// timeToShutdown uses the given start time to work out the duration to wait before shutting
// down the app.  In production the given time should be the current time.  In test any time
// can be supplied.
func timeToShutdown(startTime time.Time) time.Duration {
	// Figure out the duration from now to one second before midnight at the end of today.
	// There's an edge case - if we are already within one second of midnight we should find the
	// duration to midnight at the end of tomorrow.

	shutdownTime := time.Date(startTime.Year(), startTime.Month(), startTime.Day(), 23, 59, 59, 0, startTime.Location())
	if shutdownTime.Before(startTime) {
		// It's close to midnight.  Pause until the end of the next day.
		shutdownTime = shutdownTime.AddDate(0, 0, 1)
	}

	// Calculate the duration to shutdown time.
	return shutdownTime.Sub(startTime)
}

// PauseAndShutdown waits until just before midnight and then shuts the
// server down, letting requests in progress finish.  It returns early, without
// shutting down, if ctx is cancelled.  It's intended that it runs as a
// goroutine.
func PauseAndShutdown(ctx context.Context, now time.Time, server Server, logger *slog.Logger) {
	timer := time.NewTimer(timeToShutdown(now))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	shutdownNow(server, logger)
}

// shutdownNow shuts the server down, waiting at most GracePeriod.
func shutdownNow(server Server, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("nightly shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), GracePeriod)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown: " + err.Error())
	}
}
