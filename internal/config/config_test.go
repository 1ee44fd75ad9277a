package config

import (
	"testing"
	"time"
)

func TestLoadUsesDefaults(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != "0.0.0.0:3001" {
		t.Fatalf("unexpected default address: %q", cfg.HTTPAddress)
	}
	if cfg.DatabasePath != "data.db" {
		t.Fatalf("unexpected default database path: %q", cfg.DatabasePath)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("unexpected default log level: %q", cfg.LogLevel)
	}
	if cfg.MaintenanceInterval != 24*time.Hour {
		t.Fatalf("unexpected default maintenance interval: %v", cfg.MaintenanceInterval)
	}
}

func TestLoadRejectsEmptyDatabasePath(t *testing.T) {
	configViper := NewViper()
	configViper.Set("database.path", "  ")
	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected error for empty database path")
	}
}

func TestLoadRejectsNonPositiveMaintenanceInterval(t *testing.T) {
	configViper := NewViper()
	configViper.Set("maintenance.interval", "0s")
	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected error for zero maintenance interval")
	}
}

func TestLoadReadsOverrides(t *testing.T) {
	configViper := NewViper()
	configViper.Set("http.address", "127.0.0.1:9000")
	configViper.Set("maintenance.interval", "1h")
	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != "127.0.0.1:9000" {
		t.Fatalf("unexpected address: %q", cfg.HTTPAddress)
	}
	if cfg.MaintenanceInterval != time.Hour {
		t.Fatalf("unexpected interval: %v", cfg.MaintenanceInterval)
	}
}
