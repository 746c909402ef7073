package helpers

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/devrelay/internal/config"
	"github.com/coral-mesh/devrelay/internal/constants"
)

func newFlagSet(t *testing.T, args ...string) (*pflag.FlagSet, *RelayFlags) {
	t.Helper()

	flags := &RelayFlags{}
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Register(fs)
	require.NoError(t, fs.Parse(args))
	return fs, flags
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRelayFlags_OnlyChangedApply(t *testing.T) {
	fs, flags := newFlagSet(t)

	cfg := config.DefaultRelayConfig()
	cfg.Listen.Port = 7000
	flags.Apply(fs, cfg)

	assert.Equal(t, 7000, cfg.Listen.Port)
	assert.Equal(t, constants.DefaultBrowserBinary, cfg.Browser.Binary)
	assert.Equal(t, constants.DefaultBrowserArgs, cfg.Browser.Args)
}

func TestRelayFlags_Apply(t *testing.T) {
	fs, flags := newFlagSet(t,
		"-p", "8000",
		"--public-host", "relay.example",
		"--public-port", "443",
		"--use-request-host",
		"--browser", "chromium",
		"--browser-arg=--headless=new",
		"--browser-arg=--mute-audio",
		"--profile-dir", "/var/lib/devrelay",
		"--debug-bind", "127.0.0.1",
		"--debug-host", "::1",
		"--debug-port", "9333",
		"--skip-port-check",
		"--ready-attempts", "3",
		"--ready-interval", "250ms",
		"--metrics-interval", "1m",
		"--log-level", "debug",
		"--log-format", "json",
	)

	cfg := config.DefaultRelayConfig()
	flags.Apply(fs, cfg)

	assert.Equal(t, 8000, cfg.Listen.Port)
	assert.Equal(t, "relay.example", cfg.Public.Host)
	assert.Equal(t, 443, cfg.Public.Port)
	assert.True(t, cfg.Public.UseRequestHost)
	assert.Equal(t, "chromium", cfg.Browser.Binary)
	assert.Equal(t, []string{"--headless=new", "--mute-audio"}, cfg.Browser.Args)
	assert.Equal(t, "/var/lib/devrelay", cfg.Browser.ProfileDir)
	assert.Equal(t, "127.0.0.1", cfg.Browser.BindAddress)
	assert.Equal(t, "::1", cfg.Browser.DebugHost)
	assert.Equal(t, 9333, cfg.Browser.DebugPort)
	assert.True(t, cfg.Browser.SkipPortCheck)
	assert.Equal(t, 3, cfg.Readiness.Attempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Readiness.Interval)
	assert.Equal(t, time.Minute, cfg.Metrics.Interval)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadRelayConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
listen:
  port: 7000
public:
  host: file.example
browser:
  binary: from-file
`)
	t.Setenv("DEVRELAY_PUBLIC_HOST", "env.example")

	fs, flags := newFlagSet(t, "--browser", "from-flag")

	cfg, err := LoadRelayConfig(path, fs, flags)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Listen.Port, "file overrides defaults")
	assert.Equal(t, "env.example", cfg.Public.Host, "env overrides file")
	assert.Equal(t, "from-flag", cfg.Browser.Binary, "flags override env")
	assert.Equal(t, constants.DefaultDebugPort, cfg.Browser.DebugPort)
}

func TestLoadRelayConfig_DefaultPathOptional(t *testing.T) {
	t.Setenv(constants.EnvConfigDir, t.TempDir())

	cfg, err := LoadRelayConfig("", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, constants.DefaultRelayPort, cfg.Listen.Port)
}

func TestLoadRelayConfig_ExplicitPathMustExist(t *testing.T) {
	_, err := LoadRelayConfig(filepath.Join(t.TempDir(), "missing.yaml"), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.yaml")
}

func TestLoadRelayConfig_Invalid(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
listen:
  port: 9222
`)

	_, err := LoadRelayConfig(path, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Contains(t, err.Error(), "must differ")
}

func TestLoadRelayConfig_BadYAML(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "listen: [")

	_, err := LoadRelayConfig(path, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger(config.LogConfig{Level: "warn", Format: "json"}, "test")
	assert.Equal(t, "warn", logger.GetLevel().String())

	var buf bytes.Buffer
	logger = logger.Output(&buf)
	logger.Warn().Msg("hello")
	assert.Contains(t, buf.String(), `"component":"test"`)
	assert.Contains(t, buf.String(), `"message":"hello"`)
}
