// Package constants defines shared configuration constants.
package constants

var (
	ConfigFile = "config.yaml"

	DefaultDir = ".devrelay"

	// EnvConfigDir overrides the base directory holding DefaultDir.
	EnvConfigDir = "DEVRELAY_CONFIG"

	// DefaultBrowserBinary is resolved through PATH when no absolute path is configured.
	DefaultBrowserBinary = "google-chrome"

	// DefaultProfileDir keeps the relay's browser profile apart from the user's
	// everyday profile so both instances can run side by side.
	DefaultProfileDir = "/tmp/devrelay-profile"
)
