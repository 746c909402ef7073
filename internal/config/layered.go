package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/devrelay/internal/constants"
)

// Layer represents a configuration layer source.
type Layer string

const (
	// LayerDefaults represents default configuration values.
	LayerDefaults Layer = "defaults"

	// LayerFile represents configuration from a file.
	LayerFile Layer = "file"

	// LayerEnv represents configuration from environment variables.
	LayerEnv Layer = "env"
)

// Sources records which layers contributed to a loaded configuration.
type Sources struct {
	// File is the config file that was read, empty if none.
	File string
	// Env lists the DEVRELAY_* variables that were set.
	Env []string
}

// LayeredLoader provides layered configuration loading.
// Configuration is loaded in the following order:
// 1. Defaults - hardcoded default values
// 2. File - configuration file (YAML)
// 3. Environment - DEVRELAY_* variables
//
// Command-line flags are applied by the CLI on top of the result.
type LayeredLoader struct {
	enabledLayers map[Layer]bool

	// RequireFile turns a missing config file into an error.
	RequireFile bool
}

// NewLayeredLoader creates a new layered configuration loader with all layers enabled.
func NewLayeredLoader() *LayeredLoader {
	return &LayeredLoader{
		enabledLayers: map[Layer]bool{
			LayerDefaults: true,
			LayerFile:     true,
			LayerEnv:      true,
		},
	}
}

// DisableLayer disables a specific configuration layer.
func (l *LayeredLoader) DisableLayer(layer Layer) {
	l.enabledLayers[layer] = false
}

// Load loads the relay configuration with layered precedence.
func (l *LayeredLoader) Load(configPath string) (*RelayConfig, error) {
	cfg, _, err := l.LoadWithSources(configPath)
	return cfg, err
}

// LoadWithSources is Load that also reports where values came from. A
// missing file is skipped unless RequireFile is set.
func (l *LayeredLoader) LoadWithSources(configPath string) (*RelayConfig, Sources, error) {
	var sources Sources

	cfg := &RelayConfig{}
	if l.enabledLayers[LayerDefaults] {
		cfg = DefaultRelayConfig()
	}

	if l.enabledLayers[LayerFile] && configPath != "" {
		err := mergeFile(cfg, configPath)
		switch {
		case err == nil:
			sources.File = configPath
		case errors.Is(err, fs.ErrNotExist) && !l.RequireFile:
		default:
			return nil, sources, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	}

	if l.enabledLayers[LayerEnv] {
		if err := LoadFromEnv(cfg); err != nil {
			return nil, sources, fmt.Errorf("failed to load config from environment: %w", err)
		}
		for _, name := range EnvVars(cfg) {
			if os.Getenv(name) != "" {
				sources.Env = append(sources.Env, name)
			}
		}
	}

	return cfg, sources, nil
}

// mergeFile decodes a YAML file over cfg. Unknown keys are rejected so a
// misspelt setting does not silently fall back to its default.
func mergeFile(cfg *RelayConfig, filePath string) error {
	// #nosec G304 -- filePath is chosen by the operator running the relay.
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// DefaultConfigPath returns the config file path used when none is given.
// The base directory is resolved in this order:
//  1. DEVRELAY_CONFIG environment variable.
//  2. User home directory (~/).
//  3. Empty string (no file layer) when neither is available.
func DefaultConfigPath() string {
	if baseDir := os.Getenv(constants.EnvConfigDir); baseDir != "" {
		return filepath.Join(baseDir, constants.ConfigFile)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, constants.DefaultDir, constants.ConfigFile)
}
