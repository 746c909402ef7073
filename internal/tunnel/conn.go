package tunnel

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeWait bounds a single frame write.
const writeWait = 10 * time.Second

// safeConn wraps a websocket.Conn with a mutex for data frame writes.
// gorilla/websocket supports one concurrent writer; control frames go
// through WriteControl, which is safe to call concurrently.
type safeConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newSafeConn(conn *websocket.Conn) *safeConn {
	return &safeConn{conn: conn}
}

// WriteMessage sends a data frame.
func (sc *safeConn) WriteMessage(messageType int, data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if err := sc.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return sc.conn.WriteMessage(messageType, data)
}

// ReadMessage reads the next data frame. Only one goroutine may read.
func (sc *safeConn) ReadMessage() (int, []byte, error) {
	return sc.conn.ReadMessage()
}

// WriteClose sends a close frame carrying payload, which may be empty.
func (sc *safeConn) WriteClose(payload []byte) error {
	return sc.conn.WriteControl(websocket.CloseMessage, payload, time.Now().Add(writeWait))
}

// Drain bounds how long a pending read may still wait for the peer's close
// frame.
func (sc *safeConn) Drain(grace time.Duration) {
	_ = sc.conn.SetReadDeadline(time.Now().Add(grace))
}

// Close closes the underlying network connection.
func (sc *safeConn) Close() error {
	return sc.conn.Close()
}
