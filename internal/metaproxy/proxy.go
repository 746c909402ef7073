// Package metaproxy forwards plain HTTP requests to the browser's DevTools
// endpoint and rewrites the self-referential WebSocket URLs in its JSON
// responses so clients come back through the relay.
package metaproxy

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	tally "github.com/uber-go/tally/v4"
	"github.com/zeebo/xxh3"

	"github.com/coral-mesh/devrelay/internal/metrics"
)

// upstreamFailureBody is the body of every 502 produced by the proxy.
const upstreamFailureBody = "relay: upstream request failed"

// Config holds the metadata proxy configuration.
type Config struct {
	// DebugHost and DebugPort locate the DevTools endpoint.
	DebugHost string
	DebugPort int

	// PublicHost and PublicPort are advertised in rewritten URLs.
	PublicHost string
	PublicPort int

	// UseRequestHost advertises the inbound Host header instead of
	// PublicHost:PublicPort when the request carries one.
	UseRequestHost bool

	// MaxRewriteBytes caps buffered JSON bodies. Larger bodies pass through.
	MaxRewriteBytes int64

	// Transport defaults to a transport without proxy or transparent
	// compression.
	Transport http.RoundTripper

	Scope  tally.Scope
	Logger zerolog.Logger
}

// Proxy is an http.Handler forwarding to the DevTools endpoint.
type Proxy struct {
	config    Config
	logger    zerolog.Logger
	client    *http.Client
	debugAddr string
	rules     *RuleSet

	requests tally.Counter
	rewrites tally.Counter
	errors   tally.Counter
}

// New creates a new metadata proxy.
func New(config Config) *Proxy {
	transport := config.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:              nil,
			DisableCompression: true,
			MaxIdleConns:       16,
			IdleConnTimeout:    90 * time.Second,
		}
	}

	scope := config.Scope
	if scope == nil {
		scope = tally.NoopScope
	}

	publicAddr := net.JoinHostPort(config.PublicHost, strconv.Itoa(config.PublicPort))

	return &Proxy{
		config: config,
		logger: config.Logger.With().Str("component", "metaproxy").Logger(),
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		debugAddr: net.JoinHostPort(config.DebugHost, strconv.Itoa(config.DebugPort)),
		rules:     Rules(config.DebugHost, config.DebugPort, publicAddr),
		requests:  scope.Counter(metrics.ProxyRequests),
		rewrites:  scope.Counter(metrics.ProxyRewrites),
		errors:    scope.Counter(metrics.ProxyErrors),
	}
}

// CloseIdleConnections releases pooled upstream connections.
func (p *Proxy) CloseIdleConnections() {
	p.client.CloseIdleConnections()
}

// ServeHTTP forwards r to the DevTools endpoint, preserving method, path,
// query, headers and body.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	p.requests.Inc(1)

	upstreamURL := url.URL{
		Scheme:   "http",
		Host:     p.debugAddr,
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	}

	body := r.Body
	if r.ContentLength == 0 {
		body = http.NoBody
	}

	upstreamReq, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL.String(), body)
	if err != nil {
		p.fail(w, r, err, "Failed to create upstream request")
		return
	}
	upstreamReq.ContentLength = r.ContentLength
	copyHeader(upstreamReq.Header, r.Header)

	resp, err := p.client.Do(upstreamReq)
	if err != nil {
		p.fail(w, r, err, "Upstream request failed")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if isJSON(resp.Header.Get("Content-Type")) && decodable(resp.Header.Get("Content-Encoding")) {
		p.forwardJSON(w, r, resp)
	} else {
		p.passthrough(w, resp, resp.Body)
	}

	p.logger.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(startTime)).
		Msg("Proxied request")
}

// forwardJSON buffers the body, rewrites it and writes it with a recomputed
// Content-Length. Bodies that are too large or cannot be decoded are passed
// through untouched.
func (p *Proxy) forwardJSON(w http.ResponseWriter, r *http.Request, resp *http.Response) {
	limit := p.config.MaxRewriteBytes

	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		p.fail(w, r, err, "Failed to read upstream response")
		return
	}
	if int64(len(raw)) > limit {
		p.logger.Debug().
			Str("path", r.URL.Path).
			Int64("limit", limit).
			Msg("JSON body exceeds rewrite limit, passing through")
		p.passthrough(w, resp, io.MultiReader(bytes.NewReader(raw), resp.Body))
		return
	}

	encoding := resp.Header.Get("Content-Encoding")
	decoded, err := decodeBody(raw, encoding, limit)
	if err != nil {
		p.logger.Warn().
			Err(err).
			Str("path", r.URL.Path).
			Str("content_encoding", encoding).
			Msg("Failed to decode JSON body, passing through")
		p.passthrough(w, resp, bytes.NewReader(raw))
		return
	}

	rewritten, n := p.rulesFor(r).Apply(decoded)
	if n == 0 {
		p.passthrough(w, resp, bytes.NewReader(raw))
		return
	}
	p.rewrites.Inc(1)

	p.logger.Debug().
		Str("path", r.URL.Path).
		Int("replacements", n).
		Msg("Rewrote WebSocket URLs")

	copyHeader(w.Header(), resp.Header)
	w.Header().Del("Content-Encoding")
	w.Header().Set("Content-Length", strconv.Itoa(len(rewritten)))
	if resp.Header.Get("ETag") != "" {
		w.Header().Set("ETag", rewrittenETag(rewritten))
	}
	w.WriteHeader(resp.StatusCode)
	if r.Method != http.MethodHead {
		_, _ = w.Write(rewritten)
	}
}

// rewrittenETag replaces an upstream validator that no longer describes the
// body. It is weak because the representation may also have lost its gzip
// encoding.
func rewrittenETag(body []byte) string {
	return fmt.Sprintf(`W/"%016x"`, xxh3.Hash(body))
}

// passthrough copies status, headers and body without modification.
func (p *Proxy) passthrough(w http.ResponseWriter, resp *http.Response, body io.Reader) {
	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, body); err != nil {
		p.logger.Debug().Err(err).Msg("Response body copy interrupted")
	}
}

func (p *Proxy) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	p.errors.Inc(1)
	p.logger.Error().
		Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("upstream", p.debugAddr).
		Msg(msg)
	http.Error(w, upstreamFailureBody, http.StatusBadGateway)
}

// rulesFor returns the rules for r, which differ from the static rules only
// when the inbound Host is advertised.
func (p *Proxy) rulesFor(r *http.Request) *RuleSet {
	if !p.config.UseRequestHost || r.Host == "" {
		return p.rules
	}
	return Rules(p.config.DebugHost, p.config.DebugPort, requestAuthority(r.Host, p.config.PublicPort))
}

// requestAuthority adds the public port to a Host header that lacks one.
func requestAuthority(host string, defaultPort int) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(strings.Trim(host, "[]"), strconv.Itoa(defaultPort))
}

// isJSON reports whether contentType is application/json or a +json type.
func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func decodable(encoding string) bool {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity", "gzip", "x-gzip":
		return true
	}
	return false
}

// decodeBody returns the identity-encoded body.
func decodeBody(raw []byte, encoding string, limit int64) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return raw, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer func() { _ = zr.Close() }()

		decoded, err := io.ReadAll(io.LimitReader(zr, limit+1))
		if err != nil {
			return nil, err
		}
		if int64(len(decoded)) > limit {
			return nil, fmt.Errorf("decoded body exceeds %d bytes", limit)
		}
		return decoded, nil
	}
	return nil, fmt.Errorf("unsupported content encoding %q", encoding)
}

var hopByHopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"proxy-connection":    true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

// copyHeader copies end-to-end headers from src to dst, skipping hop-by-hop
// headers and any named in src's Connection header.
func copyHeader(dst, src http.Header) {
	connection := map[string]bool{}
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			connection[strings.ToLower(strings.TrimSpace(name))] = true
		}
	}

	for key, values := range src {
		lower := strings.ToLower(key)
		if hopByHopHeaders[lower] || connection[lower] {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}
