package config

import (
	"path/filepath"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := Default()
	cfg.MaxPublishAttempts = 9
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.MaxPublishAttempts != 9 {
		t.Fatalf("expected 9, got %d", got.MaxPublishAttempts)
	}
	if got.InstallationRefreshInterval() != DefaultInstallationRefreshInterval {
		t.Fatalf("expected default refresh interval, got %v", got.InstallationRefreshInterval())
	}
}

func TestLoadFillsDefaultsForMissingFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := writeMinimal(path); err != nil {
		t.Fatalf("write minimal: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxPastEpochs != DefaultMaxPastEpochs {
		t.Fatalf("expected default max_past_epochs, got %d", cfg.MaxPastEpochs)
	}
}

func writeMinimal(path string) error {
	return Save(path, ClientConfig{Version: "0.1.0"})
}
