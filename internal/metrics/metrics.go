// Package metrics builds the relay's tally scope. Counters and gauges are
// reported through zerolog at a fixed interval; there is no external sink.
package metrics

import (
	"io"
	"time"

	"github.com/rs/zerolog"
	tally "github.com/uber-go/tally/v4"
)

// Metric names shared by the relay components.
const (
	ProxyRequests = "proxy.requests"
	ProxyRewrites = "proxy.rewrites"
	ProxyErrors   = "proxy.errors"

	TunnelSessions          = "tunnel.sessions"
	TunnelActiveSessions    = "tunnel.active_sessions"
	TunnelDiscoveryFailures = "tunnel.discovery_failures"
	TunnelUpstreamErrors    = "tunnel.upstream_errors"
	TunnelMessagesQueued    = "tunnel.messages_queued"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewScope returns a root scope that logs its values every interval.
// A zero interval returns tally.NoopScope.
func NewScope(interval time.Duration, logger zerolog.Logger) (tally.Scope, io.Closer) {
	if interval <= 0 {
		return tally.NoopScope, nopCloser{}
	}

	return tally.NewRootScope(tally.ScopeOptions{
		Prefix:   "devrelay",
		Reporter: NewLogReporter(logger),
	}, interval)
}
