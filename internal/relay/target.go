package relay

import (
	"net"
	"strconv"
)

// Target is the fixed pair of endpoints the relay works with: the internal
// DevTools endpoint and the authority advertised to clients.
type Target struct {
	DebugHost  string
	DebugPort  int
	PublicHost string
	PublicPort int
}

// DebugAddr returns the DevTools endpoint as host:port.
func (t Target) DebugAddr() string {
	return net.JoinHostPort(t.DebugHost, strconv.Itoa(t.DebugPort))
}

// PublicAddr returns the advertised authority as host:port.
func (t Target) PublicAddr() string {
	return net.JoinHostPort(t.PublicHost, strconv.Itoa(t.PublicPort))
}
