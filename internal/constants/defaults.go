package constants

import "time"

// Ports and addresses.
const (
	// DefaultDebugPort is the browser's remote-debugging port.
	DefaultDebugPort = 9222

	// DefaultRelayPort is the public port clients connect to.
	DefaultRelayPort = 9223

	// DefaultDebugBindAddress makes the DevTools endpoint listen on all interfaces.
	DefaultDebugBindAddress = "0.0.0.0"

	// DefaultDebugHost is the host the relay uses to reach the DevTools endpoint.
	DefaultDebugHost = "127.0.0.1"

	DefaultListenHost = "0.0.0.0"

	// DefaultPublicHost is advertised in rewritten WebSocket URLs.
	DefaultPublicHost = "localhost"

	// DefaultVersionPath serves the browser-level metadata document that
	// carries webSocketDebuggerUrl.
	DefaultVersionPath = "/json/version"
)

// Readiness polling.
const (
	DefaultReadyAttempts = 20

	DefaultReadyInterval = 500 * time.Millisecond

	// DefaultProbeTimeout bounds a single readiness probe.
	DefaultProbeTimeout = 2 * time.Second
)

// Tunnel and proxy.
const (
	// DefaultDiscoveryTimeout bounds the metadata GET made when a session opens.
	DefaultDiscoveryTimeout = 5 * time.Second

	DefaultDialTimeout = 10 * time.Second

	// DefaultMaxRewriteBytes caps JSON bodies buffered for rewriting.
	DefaultMaxRewriteBytes = 8 << 20

	DefaultReadHeaderTimeout = 10 * time.Second
)

// Shutdown.
const (
	DefaultShutdownTimeout = 5 * time.Second

	// DefaultStopTimeout is how long the browser gets to exit before it is killed.
	DefaultStopTimeout = 5 * time.Second
)

// DefaultBrowserArgs are appended after the remote-debugging flags.
var DefaultBrowserArgs = []string{
	"--no-first-run",
	"--no-default-browser-check",
}
