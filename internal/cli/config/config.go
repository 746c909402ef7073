// Package config implements the 'devrelay config' command family.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/devrelay/internal/cli/helpers"
	"github.com/coral-mesh/devrelay/internal/config"
)

// NewConfigCmd creates the config command and its subcommands.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect devrelay configuration",
		Long: `Inspect devrelay configuration.

Configuration is resolved from built-in defaults, the config file and
DEVRELAY_* environment variables, in increasing order of precedence.

Environment Variables:
  DEVRELAY_CONFIG  Override config directory (default: ~/.devrelay)`,
	}

	cmd.AddCommand(newShowCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newEnvCmd())
	cmd.AddCommand(newSchemaCmd())

	return cmd
}

// newShowCmd creates the 'config show' command.
func newShowCmd() *cobra.Command {
	var (
		format     string
		configPath string
	)

	supported := []helpers.OutputFormat{helpers.FormatYAML, helpers.FormatJSON}

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := helpers.ValidateFormat(format, supported); err != nil {
				return err
			}

			cfg, err := helpers.LoadRelayConfig(configPath, nil, nil)
			if err != nil {
				return err
			}

			formatter, err := helpers.NewFormatter(helpers.OutputFormat(format))
			if err != nil {
				return err
			}
			return formatter.Format(cfg, cmd.OutOrStdout())
		},
	}

	helpers.AddConfigFlag(cmd, &configPath)
	helpers.AddFormatFlag(cmd, &format, helpers.FormatYAML, supported)

	return cmd
}

// newValidateCmd creates the 'config validate' command.
func newValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, sources, err := helpers.LoadRelayConfigWithSources(configPath, nil, nil)
			if err != nil {
				return err
			}

			cmd.Printf("✓ Configuration is valid (%s)\n", describeSources(sources))
			return nil
		},
	}

	helpers.AddConfigFlag(cmd, &configPath)

	return cmd
}

// newEnvCmd creates the 'config env' command.
func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "List the environment variables devrelay reads",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range config.EnvVars(&config.RelayConfig{}) {
				cmd.Println(name)
			}
		},
	}
}

// newSchemaCmd creates the 'config schema' command.
func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the config file",
		Long: `Print the JSON Schema of config.yaml.

Point a YAML language server at it for completion and validation:
  devrelay config schema > ~/.devrelay/config.schema.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return (&helpers.JSONFormatter{}).Format(config.Schema(), cmd.OutOrStdout())
		},
	}
}

func describeSources(sources config.Sources) string {
	parts := []string{"defaults"}
	if sources.File != "" {
		parts = append(parts, "file: "+sources.File)
	}
	if len(sources.Env) > 0 {
		parts = append(parts, fmt.Sprintf("%d env vars", len(sources.Env)))
	}
	return strings.Join(parts, ", ")
}
