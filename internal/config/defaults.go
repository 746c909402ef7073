package config

import (
	"github.com/coral-mesh/devrelay/internal/constants"
)

// DefaultRelayConfig returns a relay config with sensible defaults.
func DefaultRelayConfig() *RelayConfig {
	args := make([]string, len(constants.DefaultBrowserArgs))
	copy(args, constants.DefaultBrowserArgs)

	return &RelayConfig{
		Listen: ListenConfig{
			Host: constants.DefaultListenHost,
			Port: constants.DefaultRelayPort,
		},
		Public: PublicConfig{
			Host: constants.DefaultPublicHost,
		},
		Browser: BrowserConfig{
			Binary:      constants.DefaultBrowserBinary,
			Args:        args,
			ProfileDir:  constants.DefaultProfileDir,
			BindAddress: constants.DefaultDebugBindAddress,
			DebugHost:   constants.DefaultDebugHost,
			DebugPort:   constants.DefaultDebugPort,
			StopTimeout: constants.DefaultStopTimeout,

			RunAsInvokingUser: true,
		},
		Readiness: ReadinessConfig{
			Path:         constants.DefaultVersionPath,
			Attempts:     constants.DefaultReadyAttempts,
			Interval:     constants.DefaultReadyInterval,
			ProbeTimeout: constants.DefaultProbeTimeout,
		},
		Tunnel: TunnelConfig{
			DiscoveryPath:    constants.DefaultVersionPath,
			DiscoveryTimeout: constants.DefaultDiscoveryTimeout,
			DialTimeout:      constants.DefaultDialTimeout,
		},
		Proxy: ProxyConfig{
			MaxRewriteBytes: constants.DefaultMaxRewriteBytes,
		},
		Shutdown: ShutdownConfig{
			Timeout: constants.DefaultShutdownTimeout,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}
