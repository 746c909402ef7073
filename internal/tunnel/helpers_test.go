package tunnel

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tally "github.com/uber-go/tally/v4"

	"github.com/coral-mesh/devrelay/internal/testutil"
)

type frame struct {
	messageType int
	data        string
}

// fakeBrowser serves a DevTools version document and a debugger socket.
type fakeBrowser struct {
	srv      *httptest.Server
	dials    atomic.Int32
	received chan frame
	closeErr chan error

	// discovery, if set, replaces the version document handler.
	discovery http.HandlerFunc
	// onMessage, if set, is called for every message the socket receives.
	onMessage func(conn *websocket.Conn, messageType int, data []byte)
}

func writeVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"Browser":"Fake/1.0","webSocketDebuggerUrl":"ws://%s/devtools/browser/fake"}`, r.Host)
}

func newFakeBrowser(t *testing.T, opts ...func(*fakeBrowser)) *fakeBrowser {
	t.Helper()

	b := &fakeBrowser{
		received: make(chan frame, 256),
		closeErr: make(chan error, 4),
	}
	for _, opt := range opts {
		opt(b)
	}

	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		if b.discovery != nil {
			b.discovery(w, r)
			return
		}
		writeVersion(w, r)
	})
	mux.HandleFunc("/devtools/browser/fake", func(w http.ResponseWriter, r *http.Request) {
		b.dials.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				b.closeErr <- err
				return
			}
			b.received <- frame{messageType: messageType, data: string(data)}
			if b.onMessage != nil {
				b.onMessage(conn, messageType, data)
			}
		}
	})

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBrowser) port() int {
	return b.srv.Listener.Addr().(*net.TCPAddr).Port
}

func (b *fakeBrowser) next(t *testing.T) frame {
	t.Helper()
	select {
	case f := <-b.received:
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("upstream received nothing")
		return frame{}
	}
}

func (b *fakeBrowser) upstreamCloseErr(t *testing.T) *websocket.CloseError {
	t.Helper()
	select {
	case err := <-b.closeErr:
		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr)
		return closeErr
	case <-time.After(5 * time.Second):
		t.Fatal("upstream socket was not closed")
		return nil
	}
}

type harness struct {
	browser *fakeBrowser
	tunnel  *Tunnel
	relay   *httptest.Server
	scope   tally.TestScope
}

func newHarness(t *testing.T, browser *fakeBrowser, mutate ...func(*Config)) *harness {
	t.Helper()

	scope := tally.NewTestScope("", nil)
	cfg := Config{
		DebugHost:        "127.0.0.1",
		DebugPort:        browser.port(),
		DiscoveryPath:    "/json/version",
		DiscoveryTimeout: 2 * time.Second,
		DialTimeout:      2 * time.Second,
		Scope:            scope,
		Logger:           testutil.NewTestLoggerWithOutput(t),
	}
	for _, m := range mutate {
		m(&cfg)
	}

	tun := New(cfg)
	relay := httptest.NewServer(tun)

	t.Cleanup(func() {
		tun.Shutdown()
		assert.Eventually(t, func() bool { return tun.SessionCount() == 0 },
			5*time.Second, 10*time.Millisecond, "sessions left running")
		relay.Close()
	})

	return &harness{browser: browser, tunnel: tun, relay: relay, scope: scope}
}

func (h *harness) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(h.relay.URL, "http") + path
}

func (h *harness) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	return h.dialWith(t, websocket.DefaultDialer, path)
}

func (h *harness) dialWith(t *testing.T, dialer *websocket.Dialer, path string) *websocket.Conn {
	t.Helper()

	conn, resp, err := dialer.Dial(h.wsURL(path), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (h *harness) counter(name string) int64 {
	for _, c := range h.scope.Snapshot().Counters() {
		if c.Name() == name {
			return c.Value()
		}
	}
	return 0
}

func (h *harness) gauge(name string) float64 {
	for _, g := range h.scope.Snapshot().Gauges() {
		if g.Name() == name {
			return g.Value()
		}
	}
	return 0
}

// readClose reads until the relay closes conn and returns the close frame.
func readClose(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			require.ErrorAs(t, err, &closeErr)
			return closeErr
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(text)))
}
