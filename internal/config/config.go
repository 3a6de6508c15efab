// Package config holds the client's tunable runtime parameters, loaded
// from and saved to a TOML file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// Version is the client library's config-schema version string.
	Version = "0.1.0"

	// DefaultMaxPublishAttempts bounds how many times the sync loop retries
	// publishing a single intent before moving it to Error.
	DefaultMaxPublishAttempts = 5

	// DefaultMaxPastEpochs bounds how far behind the group's current epoch
	// an own SendMessage intent may lag before it is returned to ToPublish
	// for re-encryption in the current epoch.
	DefaultMaxPastEpochs = 3

	// DefaultInstallationRefreshInterval is how often
	// maybe_update_installations re-checks for new installations.
	DefaultInstallationRefreshInterval = 5 * time.Minute

	// DefaultSyncRetryLimit bounds sync_until_intent_resolved's pass count.
	DefaultSyncRetryLimit = 10
)

// ClientConfig is the client library's tunable parameter set.
// InstallationRefreshIntervalSeconds is stored as a plain integer rather
// than time.Duration — BurntSushi/toml has no built-in decoder for
// Duration's string form.
type ClientConfig struct {
	Version                            string `toml:"version"`
	MaxPublishAttempts                 int    `toml:"max_publish_attempts"`
	MaxPastEpochs                      int    `toml:"max_past_epochs"`
	InstallationRefreshIntervalSeconds int64  `toml:"installation_refresh_interval_seconds"`
	SyncRetryLimit                     int    `toml:"sync_retry_limit"`
}

// InstallationRefreshInterval returns the configured refresh interval as a
// time.Duration.
func (c ClientConfig) InstallationRefreshInterval() time.Duration {
	return time.Duration(c.InstallationRefreshIntervalSeconds) * time.Second
}

// Default returns a ClientConfig with every tunable at its documented
// default.
func Default() ClientConfig {
	return ClientConfig{
		Version:                            Version,
		MaxPublishAttempts:                 DefaultMaxPublishAttempts,
		MaxPastEpochs:                      DefaultMaxPastEpochs,
		InstallationRefreshIntervalSeconds: int64(DefaultInstallationRefreshInterval / time.Second),
		SyncRetryLimit:                     DefaultSyncRetryLimit,
	}
}

type tomlDoc struct {
	Client ClientConfig `toml:"client"`
}

// Load reads a ClientConfig from a TOML file, filling any absent field
// with its default.
func Load(path string) (ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("read client config: %w", err)
	}
	var doc tomlDoc
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return ClientConfig{}, fmt.Errorf("parse client config TOML: %w", err)
	}
	cfg := Default()
	c := doc.Client
	if c.Version != "" {
		cfg.Version = c.Version
	}
	if c.MaxPublishAttempts != 0 {
		cfg.MaxPublishAttempts = c.MaxPublishAttempts
	}
	if c.MaxPastEpochs != 0 {
		cfg.MaxPastEpochs = c.MaxPastEpochs
	}
	if c.InstallationRefreshIntervalSeconds != 0 {
		cfg.InstallationRefreshIntervalSeconds = c.InstallationRefreshIntervalSeconds
	}
	if c.SyncRetryLimit != 0 {
		cfg.SyncRetryLimit = c.SyncRetryLimit
	}
	return cfg, nil
}

// Save writes cfg to path as TOML.
func Save(path string, cfg ClientConfig) error {
	content := fmt.Sprintf(
		"[client]\nversion = %q\nmax_publish_attempts = %d\nmax_past_epochs = %d\ninstallation_refresh_interval_seconds = %d\nsync_retry_limit = %d\n",
		cfg.Version, cfg.MaxPublishAttempts, cfg.MaxPastEpochs, cfg.InstallationRefreshIntervalSeconds, cfg.SyncRetryLimit)
	return os.WriteFile(path, []byte(content), 0o644)
}
