// Package relay is the composition root: one listener that hands WebSocket
// upgrades to the session tunnel and everything else to the metadata proxy,
// and that owns the browser supervisor's lifecycle.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	tally "github.com/uber-go/tally/v4"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	relayerrors "github.com/coral-mesh/devrelay/internal/errors"
	"github.com/coral-mesh/devrelay/internal/metaproxy"
	"github.com/coral-mesh/devrelay/internal/tunnel"
)

// Supervisor starts and stops the debuggable browser.
type Supervisor interface {
	// Start blocks until the DevTools endpoint is ready.
	Start(ctx context.Context) error
	// Stop is best-effort and idempotent.
	Stop()
}

// Config holds the relay server configuration.
type Config struct {
	// ListenAddr is the public listener address (e.g., "0.0.0.0:9223").
	ListenAddr string

	Target Target

	// UseRequestHost advertises the inbound Host header in rewritten URLs.
	UseRequestHost bool

	// MaxRewriteBytes caps JSON bodies buffered for rewriting.
	MaxRewriteBytes int64

	// DiscoveryPath, DiscoveryTimeout and DialTimeout control how sessions
	// find and reach the debugger socket.
	DiscoveryPath    string
	DiscoveryTimeout time.Duration
	DialTimeout      time.Duration

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration

	Scope  tally.Scope
	Logger zerolog.Logger
}

// Server is the relay server.
type Server struct {
	config     Config
	logger     zerolog.Logger
	supervisor Supervisor
	proxy      *metaproxy.Proxy
	tunnel     *tunnel.Tunnel
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}

	shutdownOnce sync.Once
}

// New creates a new relay server. Nothing is started until Run.
func New(config Config, supervisor Supervisor) *Server {
	s := &Server{
		config:     config,
		logger:     config.Logger.With().Str("component", "relay").Logger(),
		supervisor: supervisor,
		ready:      make(chan struct{}),
	}

	s.proxy = metaproxy.New(metaproxy.Config{
		DebugHost:       config.Target.DebugHost,
		DebugPort:       config.Target.DebugPort,
		PublicHost:      config.Target.PublicHost,
		PublicPort:      config.Target.PublicPort,
		UseRequestHost:  config.UseRequestHost,
		MaxRewriteBytes: config.MaxRewriteBytes,
		Scope:           config.Scope,
		Logger:          config.Logger,
	})

	s.tunnel = tunnel.New(tunnel.Config{
		DebugHost:        config.Target.DebugHost,
		DebugPort:        config.Target.DebugPort,
		DiscoveryPath:    config.DiscoveryPath,
		DiscoveryTimeout: config.DiscoveryTimeout,
		DialTimeout:      config.DialTimeout,
		Scope:            config.Scope,
		Logger:           config.Logger,
	})

	// h2c lets HTTP/2 prior-knowledge clients talk to the proxy; HTTP/1.1
	// upgrades still reach the tunnel untouched.
	h2s := &http2.Server{}
	s.httpServer = &http.Server{
		Handler:           h2c.NewHandler(s.Handler(), h2s),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return s
}

// Handler routes WebSocket upgrades to the tunnel and all other requests to
// the metadata proxy.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			s.tunnel.ServeHTTP(w, r)
			return
		}
		s.proxy.ServeHTTP(w, r)
	})
}

// Run starts the browser, then serves until ctx is done or the listener
// fails, and finally shuts everything down. A browser that cannot be started
// is an error; an interrupted startup is not.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info().
		Str("listen_addr", s.config.ListenAddr).
		Str("debug_addr", s.config.Target.DebugAddr()).
		Str("public_addr", s.config.Target.PublicAddr()).
		Msg("Starting relay")

	if err := s.supervisor.Start(ctx); err != nil {
		s.supervisor.Stop()
		if ctx.Err() != nil {
			s.logger.Info().Err(err).Msg("Startup interrupted")
			return nil
		}
		return fmt.Errorf("failed to start browser: %w", err)
	}

	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		s.Shutdown()
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	close(s.ready)

	s.logger.Info().
		Str("listen_addr", listener.Addr().String()).
		Msg("Relay listening")

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(listener)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info().Msg("Shutdown requested")
	case err := <-serveErr:
		if !relayerrors.IsClosed(err) {
			s.logger.Error().Err(err).Msg("HTTP server error")
			runErr = fmt.Errorf("relay server failed: %w", err)
		}
	}

	s.Shutdown()
	return runErr
}

// Shutdown closes all sessions with 1001, shuts the listener down within
// ShutdownTimeout and stops the browser. Only the first call does the work;
// concurrent callers wait for it to finish.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.logger.Info().Msg("Stopping relay")

		s.tunnel.Shutdown()

		ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn().Err(err).Msg("HTTP server did not shut down cleanly")
		}
		s.proxy.CloseIdleConnections()

		s.supervisor.Stop()

		s.logger.Info().Msg("Relay stopped")
	})
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound listener address, or nil before Ready.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// SessionCount returns the number of active tunnel sessions.
func (s *Server) SessionCount() int {
	return s.tunnel.SessionCount()
}
