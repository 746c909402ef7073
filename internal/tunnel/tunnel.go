// Package tunnel relays client WebSocket connections to the browser's
// debugger socket. Every client gets its own upstream connection, whose URL
// is discovered from the DevTools endpoint when the client connects.
package tunnel

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	tally "github.com/uber-go/tally/v4"

	"github.com/coral-mesh/devrelay/internal/metrics"
)

// Config holds the tunnel configuration.
type Config struct {
	// DebugHost and DebugPort locate the DevTools endpoint.
	DebugHost string
	DebugPort int

	// DiscoveryPath serves the JSON document carrying webSocketDebuggerUrl.
	DiscoveryPath string

	// DiscoveryTimeout bounds the discovery request.
	DiscoveryTimeout time.Duration

	// DialTimeout bounds the upstream WebSocket handshake.
	DialTimeout time.Duration

	// HTTPClient is used for discovery. Defaults to a client without proxy.
	HTTPClient *http.Client

	Scope  tally.Scope
	Logger zerolog.Logger
}

type tunnelMetrics struct {
	sessions          tally.Counter
	activeSessions    tally.Gauge
	discoveryFailures tally.Counter
	upstreamErrors    tally.Counter
	messagesQueued    tally.Counter
}

func newTunnelMetrics(scope tally.Scope) *tunnelMetrics {
	if scope == nil {
		scope = tally.NoopScope
	}
	return &tunnelMetrics{
		sessions:          scope.Counter(metrics.TunnelSessions),
		activeSessions:    scope.Gauge(metrics.TunnelActiveSessions),
		discoveryFailures: scope.Counter(metrics.TunnelDiscoveryFailures),
		upstreamErrors:    scope.Counter(metrics.TunnelUpstreamErrors),
		messagesQueued:    scope.Counter(metrics.TunnelMessagesQueued),
	}
}

// Tunnel is an http.Handler accepting WebSocket upgrades on any path.
type Tunnel struct {
	config     Config
	logger     zerolog.Logger
	upgrader   websocket.Upgrader
	dialer     *websocket.Dialer
	discoverer *Discoverer
	metrics    *tunnelMetrics

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	closing  bool
}

// New creates a new tunnel.
func New(config Config) *Tunnel {
	return &Tunnel{
		config: config,
		logger: config.Logger.With().Str("component", "tunnel").Logger(),
		upgrader: websocket.Upgrader{
			// The relay has no notion of allowed origins; clients are
			// whatever can reach the listener.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{
			Proxy:            nil,
			HandshakeTimeout: config.DialTimeout,
		},
		discoverer: NewDiscoverer(config.HTTPClient, config.DebugHost, config.DebugPort,
			config.DiscoveryPath, config.DiscoveryTimeout),
		metrics:  newTunnelMetrics(config.Scope),
		sessions: make(map[uuid.UUID]*Session),
	}
}

// ServeHTTP upgrades the request and runs a session until it ends.
func (t *Tunnel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var header http.Header
	if protocols := websocket.Subprotocols(r); len(protocols) > 0 {
		header = http.Header{"Sec-Websocket-Protocol": {protocols[0]}}
	}

	conn, err := t.upgrader.Upgrade(w, r, header)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		t.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("WebSocket upgrade failed")
		return
	}

	session := newSession(r.Context(), conn, t.discoverer, t.dialer, t.metrics, t.logger)
	t.metrics.sessions.Inc(1)

	t.logger.Debug().
		Str("session_id", session.ID().String()).
		Str("path", r.URL.Path).
		Str("remote_addr", r.RemoteAddr).
		Msg("Client connected")

	if t.register(session) {
		defer t.unregister(session)
	} else {
		session.Close(websocket.CloseGoingAway, reasonShutdown)
	}

	session.Run()
}

// CloseAll closes every active session with code/reason and rejects new
// ones from now on.
func (t *Tunnel) CloseAll(code int, reason string) {
	t.mu.Lock()
	t.closing = true
	sessions := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mu.Unlock()

	if len(sessions) > 0 {
		t.logger.Info().Int("sessions", len(sessions)).Msg("Closing active sessions")
	}
	for _, s := range sessions {
		s.Close(code, reason)
	}
}

// Shutdown closes every session with 1001 "relay shutting down" and drops
// pooled discovery connections.
func (t *Tunnel) Shutdown() {
	t.CloseAll(websocket.CloseGoingAway, reasonShutdown)
	t.discoverer.CloseIdleConnections()
}

// SessionCount returns the number of registered sessions.
func (t *Tunnel) SessionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func (t *Tunnel) register(s *Session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closing {
		return false
	}
	t.sessions[s.ID()] = s
	t.metrics.activeSessions.Update(float64(len(t.sessions)))
	return true
}

func (t *Tunnel) unregister(s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, s.ID())
	t.metrics.activeSessions.Update(float64(len(t.sessions)))
}
