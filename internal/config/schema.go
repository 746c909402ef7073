// Package config provides configuration loading and management.
package config

import (
	"net"
	"strconv"
	"time"
)

// RelayConfig is the complete startup configuration of the relay.
// Nothing in it is mutable at runtime.
type RelayConfig struct {
	Listen    ListenConfig    `yaml:"listen" json:"listen"`
	Public    PublicConfig    `yaml:"public" json:"public"`
	Browser   BrowserConfig   `yaml:"browser" json:"browser"`
	Readiness ReadinessConfig `yaml:"readiness" json:"readiness"`
	Tunnel    TunnelConfig    `yaml:"tunnel" json:"tunnel"`
	Proxy     ProxyConfig     `yaml:"proxy" json:"proxy"`
	Shutdown  ShutdownConfig  `yaml:"shutdown" json:"shutdown"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	Log       LogConfig       `yaml:"log" json:"log"`
}

// ListenConfig is the relay's single public listener.
type ListenConfig struct {
	Host string `yaml:"host" json:"host" env:"LISTEN_HOST"`
	Port int    `yaml:"port" json:"port" env:"LISTEN_PORT"`
}

// PublicConfig is the authority advertised in rewritten WebSocket URLs.
type PublicConfig struct {
	Host string `yaml:"host" json:"host" env:"PUBLIC_HOST"`
	// Port defaults to Listen.Port when zero.
	Port int `yaml:"port" json:"port" env:"PUBLIC_PORT"`
	// UseRequestHost advertises the Host header of each inbound request
	// instead of Host:Port, so remote clients are sent back to the address
	// they dialled.
	UseRequestHost bool `yaml:"use_request_host" json:"use_request_host" env:"PUBLIC_USE_REQUEST_HOST"`
}

// BrowserConfig describes the supervised debuggable process.
type BrowserConfig struct {
	Binary     string   `yaml:"binary" json:"binary" env:"BROWSER_BINARY"`
	Args       []string `yaml:"args" json:"args" env:"BROWSER_ARGS"`
	ProfileDir string   `yaml:"profile_dir" json:"profile_dir" env:"BROWSER_PROFILE_DIR"`

	// BindAddress is passed as --remote-debugging-address.
	BindAddress string `yaml:"bind_address" json:"bind_address" env:"BROWSER_BIND_ADDRESS"`
	// DebugHost is where the relay reaches the DevTools endpoint.
	DebugHost string `yaml:"debug_host" json:"debug_host" env:"BROWSER_DEBUG_HOST"`
	DebugPort int    `yaml:"debug_port" json:"debug_port" env:"BROWSER_DEBUG_PORT"`

	// SkipPortCheck disables the check that nothing already listens on DebugPort.
	SkipPortCheck bool          `yaml:"skip_port_check" json:"skip_port_check" env:"BROWSER_SKIP_PORT_CHECK"`
	StopTimeout   time.Duration `yaml:"stop_timeout" json:"stop_timeout" env:"BROWSER_STOP_TIMEOUT"`

	// RunAsInvokingUser launches the browser as the sudo caller when the
	// relay runs as root through sudo.
	RunAsInvokingUser bool `yaml:"run_as_invoking_user" json:"run_as_invoking_user" env:"BROWSER_RUN_AS_INVOKING_USER"`
}

// ReadinessConfig bounds startup polling of the DevTools endpoint.
type ReadinessConfig struct {
	Path         string        `yaml:"path" json:"path" env:"READY_PATH"`
	Attempts     int           `yaml:"attempts" json:"attempts" env:"READY_ATTEMPTS"`
	Interval     time.Duration `yaml:"interval" json:"interval" env:"READY_INTERVAL"`
	ProbeTimeout time.Duration `yaml:"probe_timeout" json:"probe_timeout" env:"READY_PROBE_TIMEOUT"`
}

// TunnelConfig controls per-session upstream discovery and dialing.
type TunnelConfig struct {
	DiscoveryPath    string        `yaml:"discovery_path" json:"discovery_path" env:"TUNNEL_DISCOVERY_PATH"`
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout" json:"discovery_timeout" env:"TUNNEL_DISCOVERY_TIMEOUT"`
	DialTimeout      time.Duration `yaml:"dial_timeout" json:"dial_timeout" env:"TUNNEL_DIAL_TIMEOUT"`
}

// ProxyConfig controls the metadata proxy.
type ProxyConfig struct {
	// MaxRewriteBytes caps JSON bodies buffered for rewriting. Larger bodies
	// are streamed through unmodified.
	MaxRewriteBytes int64 `yaml:"max_rewrite_bytes" json:"max_rewrite_bytes" env:"PROXY_MAX_REWRITE_BYTES"`
}

// ShutdownConfig bounds graceful shutdown of the listener.
type ShutdownConfig struct {
	Timeout time.Duration `yaml:"timeout" json:"timeout" env:"SHUTDOWN_TIMEOUT"`
}

// MetricsConfig controls periodic metrics reporting. Zero disables it.
type MetricsConfig struct {
	Interval time.Duration `yaml:"interval" json:"interval" env:"METRICS_INTERVAL"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level string `yaml:"level" json:"level" env:"LOG_LEVEL"`
	// Format is one of auto, pretty, json.
	Format string `yaml:"format" json:"format" env:"LOG_FORMAT"`
}

// ListenAddr returns the host:port the relay binds.
func (c *RelayConfig) ListenAddr() string {
	return net.JoinHostPort(c.Listen.Host, strconv.Itoa(c.Listen.Port))
}

// DebugAddr returns the host:port of the DevTools endpoint.
func (c *RelayConfig) DebugAddr() string {
	return net.JoinHostPort(c.Browser.DebugHost, strconv.Itoa(c.Browser.DebugPort))
}

// PublicAddr returns the advertised host:port.
func (c *RelayConfig) PublicAddr() string {
	port := c.Public.Port
	if port == 0 {
		port = c.Listen.Port
	}
	return net.JoinHostPort(c.Public.Host, strconv.Itoa(port))
}
