package relay

import (
	"context"
	"os"
	"os/signal"
	"sync"

	"github.com/rs/zerolog"
)

// NotifySignals returns a context canceled by the first shutdown signal.
// Later signals are logged and ignored so shutdown is never re-entered. The
// returned stop function releases the signal handlers.
func NotifySignals(parent context.Context, logger zerolog.Logger) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, shutdownSignals...)

	done := make(chan struct{})
	go func() {
		received := false
		for {
			select {
			case sig := <-sigCh:
				if received {
					logger.Warn().Str("signal", sig.String()).Msg("Shutdown already in progress, ignoring signal")
					continue
				}
				received = true
				logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
				cancel()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			signal.Stop(sigCh)
			close(done)
			cancel()
		})
	}
	return ctx, stop
}
