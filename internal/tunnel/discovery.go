package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/coral-mesh/devrelay/pkg/version"
)

// ErrDiscovery is returned when the debugger WebSocket URL cannot be
// obtained from the DevTools endpoint.
var ErrDiscovery = errors.New("upstream discovery failed")

// debuggerURLField is the version document field carrying the browser's
// debugger WebSocket URL.
const debuggerURLField = "webSocketDebuggerUrl"

// maxDiscoveryBody caps the discovery response read.
const maxDiscoveryBody = 1 << 20

// Discoverer asks the DevTools endpoint for its current debugger URL.
type Discoverer struct {
	client  *http.Client
	url     string
	timeout time.Duration
}

// NewDiscoverer builds a discoverer for http://host:port+path.
func NewDiscoverer(client *http.Client, host string, port int, path string, timeout time.Duration) *Discoverer {
	if client == nil {
		client = &http.Client{Transport: &http.Transport{Proxy: nil}}
	}
	return &Discoverer{
		client:  client,
		url:     "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + path,
		timeout: timeout,
	}
}

// CloseIdleConnections releases pooled discovery connections.
func (d *Discoverer) CloseIdleConnections() {
	d.client.CloseIdleConnections()
}

// URL returns the discovery URL.
func (d *Discoverer) URL() string {
	return d.url
}

// Discover returns the debugger WebSocket URL. Every failure, including the
// timeout, wraps ErrDiscovery.
func (d *Discoverer) Discover(ctx context.Context) (string, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDiscovery, err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDiscovery, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %s returned status %d", ErrDiscovery, d.url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDiscoveryBody))
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", ErrDiscovery, err)
	}

	field := gjson.GetBytes(body, debuggerURLField)
	if field.Type != gjson.String || strings.TrimSpace(field.Str) == "" {
		return "", fmt.Errorf("%w: response has no %s", ErrDiscovery, debuggerURLField)
	}

	target, err := url.Parse(strings.TrimSpace(field.Str))
	if err != nil || (target.Scheme != "ws" && target.Scheme != "wss") || target.Host == "" {
		return "", fmt.Errorf("%w: invalid %s %q", ErrDiscovery, debuggerURLField, field.Str)
	}
	return target.String(), nil
}
