// Package config provides configuration management for the leapbuild CLI.
//
// Configuration is read from defaults, `.leapbuild/config.yaml` files in the
// working directory and its ancestors, LEAPBUILD_* environment variables and
// command-line flags, in increasing order of precedence.
package config

import (
	"fmt"
	"slices"
)

// Config holds all CLI configuration options.
type Config struct {
	ManifestPath  string         `koanf:"manifest_path"`
	TargetDir     string         `koanf:"target_dir"`
	Paths         []string       `koanf:"paths"`
	Jobs          int            `koanf:"jobs"`
	Verbose       bool           `koanf:"verbose"`
	LogLevel      string         `koanf:"log_level"`
	LogFormat     string         `koanf:"log_format"`
	MessageFormat string         `koanf:"message_format"`
	Color         string         `koanf:"color"`
	State         StateConfig    `koanf:"state"`
	Compiler      CompilerConfig `koanf:"compiler"`
	Script        ScriptConfig   `koanf:"script"`

	// Files lists the config files that were loaded, nearest first.
	Files []string `koanf:"-"`
}

// StateConfig selects the build record store.
type StateConfig struct {
	Backend string `koanf:"backend"`
}

// CompilerConfig configures the compiler. An empty Command selects the
// built-in archive compiler.
type CompilerConfig struct {
	Command []string `koanf:"command"`
}

// ScriptConfig configures how non-Starlark build scripts run.
type ScriptConfig struct {
	Shell string `koanf:"shell"`
}

// Default configuration values.
const (
	DefaultJobs          = 1
	DefaultLogLevel      = "warn"
	DefaultLogFormat     = "text"
	DefaultMessageFormat = "human"
	DefaultColor         = "auto"
	DefaultBackend       = "sqlite"
	DefaultShell         = "sh"
)

var (
	logLevels      = []string{"debug", "info", "warn", "error"}
	logFormats     = []string{"text", "json"}
	messageFormats = []string{"human", "json"}
	colorModes     = []string{"auto", "always", "never"}
	backends       = []string{"sqlite", "file"}
)

// Validate checks enumerated options and numeric ranges.
func (c *Config) Validate() error {
	checks := []struct {
		key     string
		value   string
		allowed []string
	}{
		{"log_level", c.LogLevel, logLevels},
		{"log_format", c.LogFormat, logFormats},
		{"message_format", c.MessageFormat, messageFormats},
		{"color", c.Color, colorModes},
		{"state.backend", c.State.Backend, backends},
	}
	for _, ch := range checks {
		if !slices.Contains(ch.allowed, ch.value) {
			return fmt.Errorf("invalid value %q for `%s` (expected one of %v)", ch.value, ch.key, ch.allowed)
		}
	}
	if c.Jobs < 1 {
		return fmt.Errorf("invalid value %d for `jobs` (must be at least 1)", c.Jobs)
	}
	return nil
}
