//go:build unix

package relay

import (
	"os"

	"golang.org/x/sys/unix"
)

// shutdownSignals includes the user-defined signals some process managers
// use to request termination.
var shutdownSignals = []os.Signal{unix.SIGINT, unix.SIGTERM, unix.SIGUSR1, unix.SIGUSR2}
