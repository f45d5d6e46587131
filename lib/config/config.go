// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the sigil daemon.
//
// Configuration is loaded from a single file specified by:
//   - SIGIL_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures deterministic,
// auditable configuration with no hidden overrides.
//
// The config file may contain environment-specific sections (development,
// staging, production) that override base values when the environment matches.
package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for the sigil daemon.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Daemon configures the signing daemon itself.
	Daemon DaemonConfig `yaml:"daemon"`

	// Disk configures detection of the removable child disk.
	Disk DiskConfig `yaml:"disk"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Paths  *PathsConfig  `yaml:"paths,omitempty"`
	Daemon *DaemonConfig `yaml:"daemon,omitempty"`
	Disk   *DiskConfig   `yaml:"disk,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// State is the base directory for daemon state.
	State string `yaml:"state"`

	// Identity is the daemon's age identity file. Generated on first
	// start if absent; its public key is what the mother encrypts
	// share bundles to.
	Identity string `yaml:"identity"`

	// Shares is the agent-share store file, age-encrypted to the
	// daemon identity.
	Shares string `yaml:"shares"`
}

// DaemonConfig configures the signing daemon.
type DaemonConfig struct {
	// SocketPath is the Unix socket path for the IPC server.
	// Default: /run/sigil/sigil.sock
	SocketPath string `yaml:"socket_path"`

	// SignTimeout bounds a single sign request. A request that cannot
	// acquire the disk and complete within this window fails without
	// consuming a presignature.
	// Default: 30s
	SignTimeout string `yaml:"sign_timeout"`

	// MotherPublicKey is the hex-encoded ed25519 key that child disk
	// headers must verify against. Required; there is no default.
	MotherPublicKey string `yaml:"mother_public_key"`
}

// DiskConfig configures detection of the removable child disk.
type DiskConfig struct {
	// MountPattern is the glob matched against candidate disk image
	// paths, e.g. /media/*/sigil.disk.
	MountPattern string `yaml:"mount_pattern"`

	// Debounce is how long the watcher waits after a filesystem event
	// before rescanning, absorbing mount churn.
	// Default: 500ms
	Debounce string `yaml:"debounce"`

	// RescanInterval is the periodic rescan fallback for mounts that
	// produce no filesystem events.
	// Default: 30s
	RescanInterval string `yaml:"rescan_interval"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist primarily to ensure all fields have sensible zero-values,
// not as a fallback - the config file is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultState := filepath.Join(homeDir, ".local", "state", "sigil")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			State:    defaultState,
			Identity: filepath.Join(defaultState, "identity.age"),
			Shares:   filepath.Join(defaultState, "shares.age"),
		},
		Daemon: DaemonConfig{
			SocketPath:  "/run/sigil/sigil.sock",
			SignTimeout: "30s",
		},
		Disk: DiskConfig{
			MountPattern:   "/media/*/sigil.disk",
			Debounce:       "500ms",
			RescanInterval: "30s",
		},
	}
}

// Load loads configuration from the SIGIL_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults - if SIGIL_CONFIG is not set, this fails.
// This ensures deterministic, auditable configuration with no hidden overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("SIGIL_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("SIGIL_CONFIG environment variable not set; " +
			"set it to the path of your sigil.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables do not
// override config values - this ensures deterministic, auditable configuration.
// The only expansion performed is ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Apply environment-specific overrides (development/staging/production sections in the file).
	cfg.applyEnvironmentOverrides()

	// Expand ${HOME} and similar variables in paths for portability.
	cfg.expandVariables()

	return cfg, nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}

	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		if overrides.Paths.State != "" {
			c.Paths.State = overrides.Paths.State
		}
		if overrides.Paths.Identity != "" {
			c.Paths.Identity = overrides.Paths.Identity
		}
		if overrides.Paths.Shares != "" {
			c.Paths.Shares = overrides.Paths.Shares
		}
	}

	if overrides.Daemon != nil {
		if overrides.Daemon.SocketPath != "" {
			c.Daemon.SocketPath = overrides.Daemon.SocketPath
		}
		if overrides.Daemon.SignTimeout != "" {
			c.Daemon.SignTimeout = overrides.Daemon.SignTimeout
		}
		if overrides.Daemon.MotherPublicKey != "" {
			c.Daemon.MotherPublicKey = overrides.Daemon.MotherPublicKey
		}
	}

	if overrides.Disk != nil {
		if overrides.Disk.MountPattern != "" {
			c.Disk.MountPattern = overrides.Disk.MountPattern
		}
		if overrides.Disk.Debounce != "" {
			c.Disk.Debounce = overrides.Disk.Debounce
		}
		if overrides.Disk.RescanInterval != "" {
			c.Disk.RescanInterval = overrides.Disk.RescanInterval
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"SIGIL_STATE": c.Paths.State,
		"HOME":        os.Getenv("HOME"),
	}

	c.Paths.State = expandVars(c.Paths.State, vars)
	vars["SIGIL_STATE"] = c.Paths.State // Update for dependent paths.

	c.Paths.Identity = expandVars(c.Paths.Identity, vars)
	c.Paths.Shares = expandVars(c.Paths.Shares, vars)
	c.Daemon.SocketPath = expandVars(c.Daemon.SocketPath, vars)
	c.Disk.MountPattern = expandVars(c.Disk.MountPattern, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Paths.State == "" {
		errs = append(errs, fmt.Errorf("paths.state is required"))
	}

	if c.Daemon.SocketPath == "" {
		errs = append(errs, fmt.Errorf("daemon.socket_path is required"))
	}

	if _, err := c.MotherKey(); err != nil {
		errs = append(errs, err)
	}

	if c.Disk.MountPattern == "" {
		errs = append(errs, fmt.Errorf("disk.mount_pattern is required"))
	}

	if _, err := time.ParseDuration(c.Daemon.SignTimeout); err != nil {
		errs = append(errs, fmt.Errorf("daemon.sign_timeout: %w", err))
	}
	if _, err := time.ParseDuration(c.Disk.Debounce); err != nil {
		errs = append(errs, fmt.Errorf("disk.debounce: %w", err))
	}
	if _, err := time.ParseDuration(c.Disk.RescanInterval); err != nil {
		errs = append(errs, fmt.Errorf("disk.rescan_interval: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// MotherKey decodes daemon.mother_public_key into an ed25519 key.
func (c *Config) MotherKey() (ed25519.PublicKey, error) {
	if c.Daemon.MotherPublicKey == "" {
		return nil, fmt.Errorf("daemon.mother_public_key is required")
	}
	key, err := hex.DecodeString(c.Daemon.MotherPublicKey)
	if err != nil {
		return nil, fmt.Errorf("daemon.mother_public_key is not valid hex: %w", err)
	}
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("daemon.mother_public_key is %d bytes, want %d",
			len(key), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(key), nil
}

// SignTimeout returns the parsed daemon.sign_timeout.
func (c *Config) SignTimeout() time.Duration {
	timeout, _ := time.ParseDuration(c.Daemon.SignTimeout)
	return timeout
}

// Debounce returns the parsed disk.debounce.
func (c *Config) Debounce() time.Duration {
	debounce, _ := time.ParseDuration(c.Disk.Debounce)
	return debounce
}

// RescanInterval returns the parsed disk.rescan_interval.
func (c *Config) RescanInterval() time.Duration {
	interval, _ := time.ParseDuration(c.Disk.RescanInterval)
	return interval
}

// EnsurePaths creates the state directory and the parents of the
// identity and share files if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{c.Paths.State}
	for _, file := range []string{c.Paths.Identity, c.Paths.Shares} {
		if file != "" {
			paths = append(paths, filepath.Dir(file))
		}
	}
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0700); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
