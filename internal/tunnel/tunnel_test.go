package tunnel

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/devrelay/internal/metrics"
	"github.com/coral-mesh/devrelay/internal/testutil"
)

func TestTunnel_QueuedMessagesKeepOrder(t *testing.T) {
	gate := make(chan struct{})
	browser := newFakeBrowser(t, func(b *fakeBrowser) {
		b.discovery = func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-gate:
				writeVersion(w, r)
			case <-r.Context().Done():
			}
		}
	})
	h := newHarness(t, browser)

	conn := h.dial(t, "/devtools/page/ABC")

	for i := 1; i <= 20; i++ {
		send(t, conn, fmt.Sprintf("m%d", i))
	}
	require.Eventually(t, func() bool {
		return h.counter(metrics.TunnelMessagesQueued) == 20
	}, 5*time.Second, 5*time.Millisecond)

	close(gate)
	for i := 21; i <= 40; i++ {
		send(t, conn, fmt.Sprintf("m%d", i))
	}

	for i := 1; i <= 40; i++ {
		f := browser.next(t)
		assert.Equal(t, fmt.Sprintf("m%d", i), f.data)
		assert.Equal(t, websocket.TextMessage, f.messageType)
	}
}

func TestTunnel_PageEnableBeforeReady(t *testing.T) {
	browser := newFakeBrowser(t, func(b *fakeBrowser) {
		b.onMessage = func(conn *websocket.Conn, messageType int, data []byte) {
			if strings.Contains(string(data), `"Page.enable"`) {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"id":1,"result":{}}`))
			}
		}
	})
	h := newHarness(t, browser)

	conn := h.dial(t, "/devtools/page/ABC")
	send(t, conn, `{"id":1,"method":"Page.enable"}`)

	assert.Equal(t, `{"id":1,"method":"Page.enable"}`, browser.next(t).data)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, messageType)
	assert.Equal(t, `{"id":1,"result":{}}`, string(data))

	assert.Equal(t, int32(1), browser.dials.Load())
}

func TestTunnel_RelaysBothDirections(t *testing.T) {
	browser := newFakeBrowser(t, func(b *fakeBrowser) {
		b.onMessage = func(conn *websocket.Conn, messageType int, data []byte) {
			_ = conn.WriteMessage(messageType, data)
		}
	})
	h := newHarness(t, browser)
	conn := h.dial(t, "/")

	payload := []byte{0x00, 0x01, 0xfe, 0xff}
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, payload))
	send(t, conn, "hello")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, messageType)
	assert.Equal(t, payload, data)

	messageType, data, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, messageType)
	assert.Equal(t, "hello", string(data))
}

func TestTunnel_EchoesSubprotocol(t *testing.T) {
	h := newHarness(t, newFakeBrowser(t))

	dialer := &websocket.Dialer{Subprotocols: []string{"devtools.v1", "other"}}
	conn := h.dialWith(t, dialer, "/devtools/browser")

	assert.Equal(t, "devtools.v1", conn.Subprotocol())
}

func TestTunnel_DiscoveryFailureClosesWithoutDial(t *testing.T) {
	tests := []struct {
		name      string
		discovery http.HandlerFunc
	}{
		{
			name: "server error",
			discovery: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
		},
		{
			name: "missing field",
			discovery: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"Browser":"Fake/1.0"}`))
			},
		},
		{
			name: "blank field",
			discovery: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"webSocketDebuggerUrl":"   "}`))
			},
		},
		{
			name: "not json",
			discovery: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`<html>nope</html>`))
			},
		},
		{
			name: "not a websocket url",
			discovery: func(w http.ResponseWriter, r *http.Request) {
				_, _ = fmt.Fprintf(w, `{"webSocketDebuggerUrl":"http://%s/devtools/browser/fake"}`, r.Host)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			browser := newFakeBrowser(t, func(b *fakeBrowser) { b.discovery = tt.discovery })
			h := newHarness(t, browser)

			conn := h.dial(t, "/devtools/page/ABC")
			send(t, conn, `{"id":1,"method":"Page.enable"}`)

			closeErr := readClose(t, conn)
			assert.Equal(t, CloseUpstreamUnreachable, closeErr.Code)
			assert.Equal(t, "could not reach upstream", closeErr.Text)
			assert.Zero(t, browser.dials.Load(), "no upstream connection may be attempted")
			assert.Equal(t, int64(1), h.counter(metrics.TunnelDiscoveryFailures))
		})
	}
}

func TestTunnel_DiscoveryTimeout(t *testing.T) {
	browser := newFakeBrowser(t, func(b *fakeBrowser) {
		b.discovery = func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}
	})
	h := newHarness(t, browser, func(c *Config) { c.DiscoveryTimeout = 100 * time.Millisecond })

	start := time.Now()
	conn := h.dial(t, "/")

	closeErr := readClose(t, conn)
	assert.Equal(t, CloseUpstreamUnreachable, closeErr.Code)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Zero(t, browser.dials.Load())
}

func TestTunnel_DialFailure(t *testing.T) {
	deadPort := testutil.FreePort(t)
	browser := newFakeBrowser(t, func(b *fakeBrowser) {
		b.discovery = func(w http.ResponseWriter, r *http.Request) {
			_, _ = fmt.Fprintf(w, `{"webSocketDebuggerUrl":"ws://127.0.0.1:%d/devtools/browser/gone"}`, deadPort)
		}
	})
	h := newHarness(t, browser)

	conn := h.dial(t, "/")

	closeErr := readClose(t, conn)
	assert.Equal(t, CloseUpstreamUnreachable, closeErr.Code)
	assert.Equal(t, "could not reach upstream", closeErr.Text)
	assert.Zero(t, h.counter(metrics.TunnelDiscoveryFailures))
}

func TestTunnel_MirrorsUpstreamClose(t *testing.T) {
	tests := []struct {
		name     string
		payload  []byte
		wantCode int
		wantText string
	}{
		{
			name:     "application code",
			payload:  websocket.FormatCloseMessage(4001, "target detached"),
			wantCode: 4001,
			wantText: "target detached",
		},
		{
			name:     "normal",
			payload:  websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
			wantCode: websocket.CloseNormalClosure,
			wantText: "done",
		},
		{
			name:     "going away",
			payload:  websocket.FormatCloseMessage(websocket.CloseGoingAway, "browser exiting"),
			wantCode: websocket.CloseGoingAway,
			wantText: "browser exiting",
		},
		{
			name:     "no status",
			payload:  []byte{},
			wantCode: websocket.CloseNoStatusReceived,
			wantText: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			browser := newFakeBrowser(t, func(b *fakeBrowser) {
				b.onMessage = func(conn *websocket.Conn, messageType int, data []byte) {
					if string(data) == "close" {
						_ = conn.WriteControl(websocket.CloseMessage, tt.payload, time.Now().Add(time.Second))
					}
				}
			})
			h := newHarness(t, browser)

			conn := h.dial(t, "/")
			send(t, conn, "close")

			closeErr := readClose(t, conn)
			assert.Equal(t, tt.wantCode, closeErr.Code)
			assert.Equal(t, tt.wantText, closeErr.Text)
			assert.Zero(t, h.counter(metrics.TunnelUpstreamErrors))
		})
	}
}

func TestTunnel_UpstreamErrorClosesWith1011(t *testing.T) {
	browser := newFakeBrowser(t, func(b *fakeBrowser) {
		b.onMessage = func(conn *websocket.Conn, messageType int, data []byte) {
			if string(data) == "crash" {
				_ = conn.UnderlyingConn().Close()
			}
		}
	})
	h := newHarness(t, browser)

	conn := h.dial(t, "/")
	send(t, conn, "crash")

	closeErr := readClose(t, conn)
	assert.Equal(t, websocket.CloseInternalServerErr, closeErr.Code)
	assert.Equal(t, "upstream connection error", closeErr.Text)
	assert.Equal(t, int64(1), h.counter(metrics.TunnelUpstreamErrors))
}

func TestTunnel_ClientCloseClosesUpstreamNormally(t *testing.T) {
	browser := newFakeBrowser(t)
	h := newHarness(t, browser)

	conn := h.dial(t, "/")
	send(t, conn, "ping")
	browser.next(t)

	require.NoError(t, conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(4000, "client done"), time.Now().Add(time.Second)))

	closeErr := browser.upstreamCloseErr(t)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)

	assert.Eventually(t, func() bool { return h.tunnel.SessionCount() == 0 },
		5*time.Second, 10*time.Millisecond)
}

func TestTunnel_ShutdownClosesSessions(t *testing.T) {
	browser := newFakeBrowser(t)
	h := newHarness(t, browser)

	conn := h.dial(t, "/")
	send(t, conn, "ping")
	browser.next(t)

	require.Equal(t, 1, h.tunnel.SessionCount())
	assert.Equal(t, float64(1), h.gauge(metrics.TunnelActiveSessions))

	h.tunnel.Shutdown()

	closeErr := readClose(t, conn)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
	assert.Equal(t, "relay shutting down", closeErr.Text)
	assert.Equal(t, websocket.CloseNormalClosure, browser.upstreamCloseErr(t).Code)

	assert.Eventually(t, func() bool { return h.tunnel.SessionCount() == 0 },
		5*time.Second, 10*time.Millisecond)
	assert.Equal(t, float64(0), h.gauge(metrics.TunnelActiveSessions))

	late := h.dial(t, "/")
	closeErr = readClose(t, late)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
}

func TestTunnel_IndependentSessions(t *testing.T) {
	browser := newFakeBrowser(t, func(b *fakeBrowser) {
		b.onMessage = func(conn *websocket.Conn, messageType int, data []byte) {
			_ = conn.WriteMessage(messageType, data)
		}
	})
	h := newHarness(t, browser)

	a := h.dial(t, "/a")
	b := h.dial(t, "/b")

	send(t, a, "from-a")
	send(t, b, "from-b")

	for conn, want := range map[*websocket.Conn]string{a: "from-a", b: "from-b"} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, want, string(data))
	}

	assert.Equal(t, int32(2), browser.dials.Load())
	assert.Equal(t, int64(2), h.counter(metrics.TunnelSessions))

	require.NoError(t, a.Close())
	send(t, b, "still-here")
	require.NoError(t, b.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := b.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "still-here", string(data))
}

func TestTunnel_RejectsPlainRequest(t *testing.T) {
	tun := New(Config{Logger: testutil.NewTestLogger(t)})

	rec := httptest.NewRecorder()
	tun.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/json/version", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, tun.SessionCount())
}
