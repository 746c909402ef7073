// Package proc finds which local process owns a listening TCP port.
package proc

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
)

// Listener describes a socket listening on a local TCP port.
type Listener struct {
	Port uint32
	// PID is 0 when the owner is not visible to the caller.
	PID int32
	// Exe is the owner's executable, empty when it cannot be resolved.
	Exe string
}

// String renders the listener for error messages.
func (l Listener) String() string {
	switch {
	case l.PID == 0:
		return fmt.Sprintf("port %d (owner not visible)", l.Port)
	case l.Exe == "":
		return fmt.Sprintf("port %d bound by pid %d", l.Port, l.PID)
	default:
		return fmt.Sprintf("port %d bound by pid %d (%s)", l.Port, l.PID, l.Exe)
	}
}

// FindListener returns the socket listening on port over IPv4 or IPv6.
// found is false when nothing listens there.
func FindListener(ctx context.Context, port int) (l Listener, found bool, err error) {
	conns, err := net.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return Listener{}, false, fmt.Errorf("failed to list tcp sockets: %w", err)
	}

	l, found = matchListener(conns, port)
	if found && l.PID != 0 {
		l.Exe = executable(ctx, l.PID)
	}
	return l, found, nil
}

// matchListener picks the LISTEN socket bound to port, preferring one whose
// owner is known.
func matchListener(conns []net.ConnectionStat, port int) (Listener, bool) {
	var (
		best  Listener
		found bool
	)
	for _, c := range conns {
		if c.Status != "LISTEN" || int(c.Laddr.Port) != port {
			continue
		}
		if !found || (best.PID == 0 && c.Pid != 0) {
			best = Listener{Port: c.Laddr.Port, PID: c.Pid}
			found = true
		}
	}
	return best, found
}

func executable(ctx context.Context, pid int32) string {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return ""
	}
	exe, err := p.ExeWithContext(ctx)
	if err != nil {
		return ""
	}
	return exe
}
