// Package run implements the 'devrelay run' command.
package run

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/devrelay/internal/cli/helpers"
	"github.com/coral-mesh/devrelay/internal/config"
	"github.com/coral-mesh/devrelay/internal/constants"
	"github.com/coral-mesh/devrelay/internal/errors"
	"github.com/coral-mesh/devrelay/internal/metrics"
	"github.com/coral-mesh/devrelay/internal/relay"
	"github.com/coral-mesh/devrelay/internal/supervisor"
	"github.com/coral-mesh/devrelay/pkg/version"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	var (
		configPath string
		flags      helpers.RelayFlags
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Launch the browser and serve the relay",
		Long: `Launch a debuggable browser with a dedicated profile, wait until its
DevTools endpoint answers, then serve the relay until interrupted.

Configuration precedence (highest first):
  1. Command-line flags
  2. DEVRELAY_* environment variables
  3. Config file
  4. Built-in defaults

The first SIGINT or SIGTERM shuts the relay down gracefully: open sessions
are closed with 1001, the listener is drained and the browser is stopped.`,
		Example: `  # Relay 127.0.0.1:9222 on port 9223
  devrelay run

  # Advertise the address clients dialled instead of a fixed host
  devrelay run --use-request-host

  # Use Chromium with a custom argument list
  devrelay run --browser chromium --browser-arg=--headless=new`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := helpers.LoadRelayConfig(configPath, cmd.Flags(), &flags)
			if err != nil {
				return err
			}

			logger := helpers.NewLogger(cfg.Log, "devrelay")
			return Run(cmd.Context(), cfg, logger)
		},
	}

	helpers.AddConfigFlag(cmd, &configPath)
	flags.Register(cmd.Flags())

	return cmd
}

// Run serves the relay described by cfg until ctx is canceled or a
// termination signal arrives.
func Run(ctx context.Context, cfg *config.RelayConfig, logger zerolog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}

	scope, closer := metrics.NewScope(cfg.Metrics.Interval, logger)
	defer errors.DeferClose(logger, closer, "failed to flush metrics")

	target := TargetFor(cfg)

	sup := supervisor.New(SupervisorConfig(cfg, logger))

	server := relay.New(relay.Config{
		ListenAddr:        cfg.ListenAddr(),
		Target:            target,
		UseRequestHost:    cfg.Public.UseRequestHost,
		MaxRewriteBytes:   cfg.Proxy.MaxRewriteBytes,
		DiscoveryPath:     cfg.Tunnel.DiscoveryPath,
		DiscoveryTimeout:  cfg.Tunnel.DiscoveryTimeout,
		DialTimeout:       cfg.Tunnel.DialTimeout,
		ReadHeaderTimeout: constants.DefaultReadHeaderTimeout,
		ShutdownTimeout:   cfg.Shutdown.Timeout,
		Scope:             scope,
		Logger:            logger,
	}, sup)

	ctx, stop := relay.NotifySignals(ctx, logger)
	defer stop()

	logger.Info().
		Str("version", version.Version).
		Str("listen", cfg.ListenAddr()).
		Str("debug", target.DebugAddr()).
		Str("public", publicDescription(cfg, target)).
		Str("browser", cfg.Browser.Binary).
		Msg("Starting DevTools relay")

	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("relay: %w", err)
	}

	logger.Info().Msg("DevTools relay stopped")
	return nil
}

// SupervisorConfig maps the browser and readiness sections onto a
// supervisor configuration.
func SupervisorConfig(cfg *config.RelayConfig, logger zerolog.Logger) supervisor.Config {
	return supervisor.Config{
		Binary:        cfg.Browser.Binary,
		Args:          cfg.Browser.Args,
		ProfileDir:    cfg.Browser.ProfileDir,
		BindAddress:   cfg.Browser.BindAddress,
		DebugHost:     cfg.Browser.DebugHost,
		DebugPort:     cfg.Browser.DebugPort,
		SkipPortCheck: cfg.Browser.SkipPortCheck,
		Readiness: supervisor.ReadyPolicy{
			Path:         cfg.Readiness.Path,
			Attempts:     cfg.Readiness.Attempts,
			Interval:     cfg.Readiness.Interval,
			ProbeTimeout: cfg.Readiness.ProbeTimeout,
		},
		StopTimeout:       cfg.Browser.StopTimeout,
		RunAsInvokingUser: cfg.Browser.RunAsInvokingUser,
		Logger:            logger,
	}
}

// TargetFor maps the configuration onto the relay's addressing. An unset
// public port advertises the listen port.
func TargetFor(cfg *config.RelayConfig) relay.Target {
	publicPort := cfg.Public.Port
	if publicPort == 0 {
		publicPort = cfg.Listen.Port
	}

	return relay.Target{
		DebugHost:  cfg.Browser.DebugHost,
		DebugPort:  cfg.Browser.DebugPort,
		PublicHost: cfg.Public.Host,
		PublicPort: publicPort,
	}
}

func publicDescription(cfg *config.RelayConfig, target relay.Target) string {
	if cfg.Public.UseRequestHost {
		return "<request host>"
	}
	return target.PublicAddr()
}
