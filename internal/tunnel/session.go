package tunnel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// CloseUpstreamUnreachable is sent to a client whose session could not
// discover or dial the upstream debugger socket. It lies in the private-use
// range so every peer accepts it.
const CloseUpstreamUnreachable = 4502

const (
	reasonUpstreamUnreachable = "could not reach upstream"
	reasonUpstreamError       = "upstream connection error"
	reasonShutdown            = "relay shutting down"
)

// closeGrace is how long a closing session waits for peers to answer its
// close frames before dropping the connections.
const closeGrace = time.Second

var errSessionClosed = errors.New("session closed")

// State is the lifecycle state of a session.
type State int32

const (
	// StateOpening: client accepted, upstream URL being discovered.
	StateOpening State = iota
	// StateConnecting: upstream URL known, handshake in flight.
	StateConnecting
	// StateReady: upstream connected and the queue flushed.
	StateReady
	// StateClosing: one side closed or failed.
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type message struct {
	messageType int
	data        []byte
}

// Session relays one client WebSocket to its own upstream debugger socket.
//
// Client messages that arrive before the upstream is ready are queued. The
// queue is flushed and the state switched to Ready under mu, and every later
// client message is written upstream under mu as well, so no message can
// overtake one that arrived before it.
type Session struct {
	id         uuid.UUID
	client     *safeConn
	discoverer *Discoverer
	dialer     *websocket.Dialer
	metrics    *tunnelMetrics
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	upstream *safeConn
	queue    []message

	closeOnce sync.Once
	closed    chan struct{}
}

func newSession(
	ctx context.Context,
	client *websocket.Conn,
	discoverer *Discoverer,
	dialer *websocket.Dialer,
	m *tunnelMetrics,
	logger zerolog.Logger,
) *Session {
	id := uuid.New()
	ctx, cancel := context.WithCancel(ctx)

	return &Session{
		id:         id,
		client:     newSafeConn(client),
		discoverer: discoverer,
		dialer:     dialer,
		metrics:    m,
		logger:     logger.With().Str("session_id", id.String()).Logger(),
		ctx:        ctx,
		cancel:     cancel,
		state:      StateOpening,
		closed:     make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session starts closing.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Run relays until both sides are gone. The client pump starts at once so
// early messages are queued while discovery is in flight.
func (s *Session) Run() {
	defer s.cancel()

	g, ctx := errgroup.WithContext(s.ctx)
	g.Go(s.pumpClient)
	g.Go(func() error {
		return s.pumpUpstream(ctx)
	})

	if err := g.Wait(); err != nil {
		s.logger.Debug().Err(err).Msg("Session pump stopped")
	}

	_ = s.client.Close()

	s.mu.Lock()
	upstream := s.upstream
	s.mu.Unlock()
	if upstream != nil {
		_ = upstream.Close()
	}

	s.logger.Debug().Msg("Session finished")
}

// Close closes the client with code/reason and the upstream normally.
func (s *Session) Close(code int, reason string) {
	s.closeWith(websocket.FormatCloseMessage(code, reason), true, "closed by relay")
}

// pumpClient reads client messages and forwards or queues them.
func (s *Session) pumpClient() error {
	for {
		messageType, data, err := s.client.ReadMessage()
		if err != nil {
			s.clientGone(err)
			return fmt.Errorf("client read: %w", err)
		}

		if err := s.forward(messageType, data); err != nil {
			s.upstreamFailed(err)
			return fmt.Errorf("upstream write: %w", err)
		}
	}
}

func (s *Session) forward(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateReady:
		return s.upstream.WriteMessage(messageType, data)
	case StateOpening, StateConnecting:
		s.queue = append(s.queue, message{messageType: messageType, data: data})
		s.metrics.messagesQueued.Inc(1)
	}
	return nil
}

// pumpUpstream discovers and dials the upstream, flushes the queue, then
// relays upstream messages to the client.
func (s *Session) pumpUpstream(ctx context.Context) error {
	target, err := s.discoverer.Discover(ctx)
	if err != nil {
		if s.isClosing() {
			return nil
		}
		s.metrics.discoveryFailures.Inc(1)
		s.logger.Warn().Err(err).Str("url", s.discoverer.URL()).Msg("Upstream discovery failed")
		s.unreachable()
		return err
	}

	if !s.advance(StateOpening, StateConnecting) {
		return nil
	}
	s.logger.Debug().Str("upstream", target).Msg("Dialing upstream")

	conn, resp, err := s.dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if s.isClosing() {
			return nil
		}
		s.logger.Warn().Err(err).Str("upstream", target).Msg("Upstream dial failed")
		s.unreachable()
		return err
	}

	upstream := newSafeConn(conn)
	flushed, err := s.ready(upstream)
	if errors.Is(err, errSessionClosed) {
		return nil
	}
	if err != nil {
		s.upstreamFailed(err)
		return err
	}

	s.logger.Debug().
		Int("flushed", flushed).
		Str("upstream", target).
		Msg("Session ready")

	return s.relayUpstream(upstream)
}

// ready installs the upstream, flushes the queue in arrival order and marks
// the session Ready, all under mu.
func (s *Session) ready(upstream *safeConn) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosing {
		_ = upstream.WriteClose(websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = upstream.Close()
		return 0, errSessionClosed
	}
	s.upstream = upstream

	flushed := 0
	for len(s.queue) > 0 {
		msg := s.queue[0]
		if err := upstream.WriteMessage(msg.messageType, msg.data); err != nil {
			return flushed, fmt.Errorf("flushing queued message: %w", err)
		}
		s.queue = s.queue[1:]
		flushed++
	}
	s.queue = nil
	s.state = StateReady
	return flushed, nil
}

func (s *Session) relayUpstream(upstream *safeConn) error {
	for {
		messageType, data, err := upstream.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && mirrorable(closeErr.Code) {
				s.closeWith(websocket.FormatCloseMessage(closeErr.Code, closeErr.Text), false,
					fmt.Sprintf("upstream closed with %d", closeErr.Code))
				return nil
			}
			if s.isClosing() {
				return nil
			}
			s.upstreamFailed(err)
			return fmt.Errorf("upstream read: %w", err)
		}

		if err := s.client.WriteMessage(messageType, data); err != nil {
			s.clientGone(err)
			return fmt.Errorf("client write: %w", err)
		}
	}
}

func (s *Session) advance(from, to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	return true
}

func (s *Session) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateClosing
}

func (s *Session) unreachable() {
	s.closeWith(websocket.FormatCloseMessage(CloseUpstreamUnreachable, reasonUpstreamUnreachable), false,
		"upstream unreachable")
}

func (s *Session) upstreamFailed(err error) {
	if s.closeWith(websocket.FormatCloseMessage(websocket.CloseInternalServerErr, reasonUpstreamError), false,
		"upstream error") {
		s.metrics.upstreamErrors.Inc(1)
		s.logger.Warn().Err(err).Msg("Upstream connection error")
	}
}

// clientGone closes the upstream normally. The client's own close frame, if
// any, was already answered by the websocket library.
func (s *Session) clientGone(err error) {
	cause := "client disconnected"
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		cause = fmt.Sprintf("client closed with %d", closeErr.Code)
	}
	s.closeWith(nil, true, cause)
}

// closeWith moves the session to Closing exactly once. clientFrame, if not
// nil, is sent to the client; notifyUpstream sends a normal close upstream.
// Pending reads get closeGrace to see the peers' replies. It reports whether
// this call performed the close.
func (s *Session) closeWith(clientFrame []byte, notifyUpstream bool, cause string) bool {
	did := false
	s.closeOnce.Do(func() {
		did = true

		s.mu.Lock()
		previous := s.state
		s.state = StateClosing
		s.queue = nil
		upstream := s.upstream
		s.mu.Unlock()

		s.cancel()

		if clientFrame != nil {
			if err := s.client.WriteClose(clientFrame); err != nil {
				s.logger.Debug().Err(err).Msg("Failed to send close frame to client")
			}
		}
		s.client.Drain(closeGrace)

		if upstream != nil {
			if notifyUpstream {
				if err := upstream.WriteClose(websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); err != nil {
					s.logger.Debug().Err(err).Msg("Failed to send close frame to upstream")
				}
			}
			upstream.Drain(closeGrace)
		}

		close(s.closed)

		s.logger.Debug().
			Str("cause", cause).
			Stringer("previous_state", previous).
			Msg("Session closing")
	})
	return did
}

// mirrorable reports whether an upstream close code can be forwarded to the
// client as is. 1005 is forwarded as an empty close payload.
func mirrorable(code int) bool {
	switch code {
	case websocket.CloseAbnormalClosure, websocket.CloseTLSHandshake:
		return false
	case websocket.CloseNoStatusReceived:
		return true
	}
	return code >= 1000 && code <= 4999
}
