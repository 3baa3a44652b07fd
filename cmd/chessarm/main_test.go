package main

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/thyrook/chessarm/internal/config"
)

func TestLoadConfigAcceptsPortFromFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"serial": {"port": ""}}`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("Expected the file to load before overrides, got %v", err)
	}

	cfg.Serial.Simulate = true
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected -simulate to make the config valid, got %v", err)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Relay.Path != config.DefaultConfig().Relay.Path {
		t.Errorf("Expected default relay path, got %s", cfg.Relay.Path)
	}
}

func TestRunReturnsOpenError(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Serial.Port = filepath.Join(t.TempDir(), "no-such-tty")
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "robot_state.db")

	if err := run(cfg, zap.NewNop(), false); err == nil {
		t.Error("Expected run to return the port error instead of exiting")
	}
}
