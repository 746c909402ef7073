package helpers

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/coral-mesh/devrelay/internal/config"
	"github.com/coral-mesh/devrelay/internal/logging"
)

// RelayFlags are the command-line overrides of the relay configuration.
// A flag only takes effect when it was set explicitly.
type RelayFlags struct {
	ListenHost     string
	ListenPort     int
	PublicHost     string
	PublicPort     int
	UseRequestHost bool

	Binary        string
	BrowserArgs   []string
	ProfileDir    string
	BindAddress   string
	DebugHost     string
	DebugPort     int
	SkipPortCheck bool

	ReadyAttempts int
	ReadyInterval time.Duration

	MetricsInterval time.Duration

	LogLevel  string
	LogFormat string
}

// Register adds the override flags to fs.
func (f *RelayFlags) Register(fs *pflag.FlagSet) {
	fs.StringVar(&f.ListenHost, "listen-host", "", "Address the relay listens on")
	fs.IntVarP(&f.ListenPort, "port", "p", 0, "Port the relay listens on")
	fs.StringVar(&f.PublicHost, "public-host", "", "Host advertised in rewritten WebSocket URLs")
	fs.IntVar(&f.PublicPort, "public-port", 0, "Port advertised in rewritten WebSocket URLs (default: listen port)")
	fs.BoolVar(&f.UseRequestHost, "use-request-host", false, "Advertise the Host header of each request instead of --public-host")

	fs.StringVar(&f.Binary, "browser", "", "Browser binary to launch")
	fs.StringArrayVar(&f.BrowserArgs, "browser-arg", nil, "Extra browser argument (repeatable, replaces configured args)")
	fs.StringVar(&f.ProfileDir, "profile-dir", "", "Dedicated browser profile directory")
	fs.StringVar(&f.BindAddress, "debug-bind", "", "Value of --remote-debugging-address")
	fs.StringVar(&f.DebugHost, "debug-host", "", "Host the relay uses to reach the DevTools endpoint")
	fs.IntVar(&f.DebugPort, "debug-port", 0, "Remote debugging port")
	fs.BoolVar(&f.SkipPortCheck, "skip-port-check", false, "Do not fail when the debug port is already bound")

	fs.IntVar(&f.ReadyAttempts, "ready-attempts", 0, "Readiness probes before giving up")
	fs.DurationVar(&f.ReadyInterval, "ready-interval", 0, "Delay between readiness probes")

	fs.DurationVar(&f.MetricsInterval, "metrics-interval", 0, "Log metrics at this interval (0 disables)")

	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	fs.StringVar(&f.LogFormat, "log-format", "", "Log format (auto, pretty, json)")
}

// Apply copies every explicitly set flag into cfg.
func (f *RelayFlags) Apply(fs *pflag.FlagSet, cfg *config.RelayConfig) {
	set := func(name string) bool { return fs.Changed(name) }

	if set("listen-host") {
		cfg.Listen.Host = f.ListenHost
	}
	if set("port") {
		cfg.Listen.Port = f.ListenPort
	}
	if set("public-host") {
		cfg.Public.Host = f.PublicHost
	}
	if set("public-port") {
		cfg.Public.Port = f.PublicPort
	}
	if set("use-request-host") {
		cfg.Public.UseRequestHost = f.UseRequestHost
	}
	if set("browser") {
		cfg.Browser.Binary = f.Binary
	}
	if set("browser-arg") {
		cfg.Browser.Args = f.BrowserArgs
	}
	if set("profile-dir") {
		cfg.Browser.ProfileDir = f.ProfileDir
	}
	if set("debug-bind") {
		cfg.Browser.BindAddress = f.BindAddress
	}
	if set("debug-host") {
		cfg.Browser.DebugHost = f.DebugHost
	}
	if set("debug-port") {
		cfg.Browser.DebugPort = f.DebugPort
	}
	if set("skip-port-check") {
		cfg.Browser.SkipPortCheck = f.SkipPortCheck
	}
	if set("ready-attempts") {
		cfg.Readiness.Attempts = f.ReadyAttempts
	}
	if set("ready-interval") {
		cfg.Readiness.Interval = f.ReadyInterval
	}
	if set("metrics-interval") {
		cfg.Metrics.Interval = f.MetricsInterval
	}
	if set("log-level") {
		cfg.Log.Level = f.LogLevel
	}
	if set("log-format") {
		cfg.Log.Format = f.LogFormat
	}
}

// LoadRelayConfig loads defaults, the config file, the environment and
// finally the flags, then validates the result. An explicitly named config
// file must exist; the default one is optional.
func LoadRelayConfig(configPath string, fs *pflag.FlagSet, flags *RelayFlags) (*config.RelayConfig, error) {
	cfg, _, err := LoadRelayConfigWithSources(configPath, fs, flags)
	return cfg, err
}

// LoadRelayConfigWithSources is LoadRelayConfig that also reports which
// file and environment variables were applied.
func LoadRelayConfigWithSources(
	configPath string,
	fs *pflag.FlagSet,
	flags *RelayFlags,
) (*config.RelayConfig, config.Sources, error) {
	loader := config.NewLayeredLoader()
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	} else {
		loader.RequireFile = true
	}

	cfg, sources, err := loader.LoadWithSources(path)
	if err != nil {
		return nil, sources, err
	}

	if flags != nil && fs != nil {
		flags.Apply(fs, cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, sources, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, sources, nil
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg config.LogConfig, component string) zerolog.Logger {
	logConfig := logging.DefaultConfig()
	logConfig.Level = cfg.Level

	switch cfg.Format {
	case "pretty":
		logConfig.Pretty = true
	case "json":
		logConfig.Pretty = false
	}

	return logging.NewWithComponent(logConfig, component)
}
