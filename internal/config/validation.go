package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration and returns every problem found.
func (c *RelayConfig) Validate() error {
	var errs []error

	if err := ValidatePort("listen.port", c.Listen.Port); err != nil {
		errs = append(errs, err)
	}
	if c.Public.Port != 0 {
		if err := ValidatePort("public.port", c.Public.Port); err != nil {
			errs = append(errs, err)
		}
	}
	if err := ValidatePort("browser.debug_port", c.Browser.DebugPort); err != nil {
		errs = append(errs, err)
	}
	if c.Browser.DebugPort == c.Listen.Port {
		errs = append(errs, fmt.Errorf("browser.debug_port and listen.port must differ (both %d)", c.Listen.Port))
	}

	if strings.TrimSpace(c.Public.Host) == "" && !c.Public.UseRequestHost {
		errs = append(errs, errors.New("public.host cannot be empty unless public.use_request_host is set"))
	}
	if strings.TrimSpace(c.Browser.Binary) == "" {
		errs = append(errs, errors.New("browser.binary cannot be empty"))
	}
	if strings.TrimSpace(c.Browser.ProfileDir) == "" {
		errs = append(errs, errors.New("browser.profile_dir cannot be empty"))
	}
	if strings.TrimSpace(c.Browser.DebugHost) == "" {
		errs = append(errs, errors.New("browser.debug_host cannot be empty"))
	}

	if c.Readiness.Attempts <= 0 {
		errs = append(errs, fmt.Errorf("readiness.attempts must be positive, got %d", c.Readiness.Attempts))
	}
	if !strings.HasPrefix(c.Readiness.Path, "/") {
		errs = append(errs, fmt.Errorf("readiness.path must start with '/', got %q", c.Readiness.Path))
	}
	if !strings.HasPrefix(c.Tunnel.DiscoveryPath, "/") {
		errs = append(errs, fmt.Errorf("tunnel.discovery_path must start with '/', got %q", c.Tunnel.DiscoveryPath))
	}

	positive := map[string]int64{
		"readiness.interval":       int64(c.Readiness.Interval),
		"readiness.probe_timeout":  int64(c.Readiness.ProbeTimeout),
		"tunnel.discovery_timeout": int64(c.Tunnel.DiscoveryTimeout),
		"tunnel.dial_timeout":      int64(c.Tunnel.DialTimeout),
		"shutdown.timeout":         int64(c.Shutdown.Timeout),
		"browser.stop_timeout":     int64(c.Browser.StopTimeout),
		"proxy.max_rewrite_bytes":  c.Proxy.MaxRewriteBytes,
	}
	for _, name := range []string{
		"readiness.interval",
		"readiness.probe_timeout",
		"tunnel.discovery_timeout",
		"tunnel.dial_timeout",
		"shutdown.timeout",
		"browser.stop_timeout",
		"proxy.max_rewrite_bytes",
	} {
		if positive[name] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	if c.Metrics.Interval < 0 {
		errs = append(errs, errors.New("metrics.interval cannot be negative"))
	}

	switch c.Log.Format {
	case "", "auto", "pretty", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be one of auto, pretty, json; got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// ValidatePort checks that port is a usable TCP port.
func ValidatePort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
	}
	return nil
}
