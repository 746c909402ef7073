// Package errors provides utilities for error handling in devrelay.
package errors

import (
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/rs/zerolog"
)

// DeferClose properly closes an io.Closer with logging.
// Use this in defer statements to avoid suppressing close errors.
func DeferClose(logger zerolog.Logger, closer io.Closer, msg string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil && !IsClosed(err) {
		logger.Warn().Err(err).Msg(msg)
	}
}

// IsClosed reports whether err only says that the resource was already
// closed. Closing twice is expected on relay teardown paths.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrServerClosed)
}
