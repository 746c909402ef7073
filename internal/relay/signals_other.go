//go:build !unix

package relay

import "os"

var shutdownSignals = []os.Signal{os.Interrupt}
