package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DISCORD_TOKEN", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without token")
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("database_driver: postgres\nlog_level: debug\ncooldown:\n  capacity: 50\nleveling:\n  voice_interval_seconds: 0\nraid:\n  response_minutes: 15\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("COOLDOWN_CAPACITY", "75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseDriver != "pgx" {
		t.Fatalf("expected pgx driver, got %q", cfg.DatabaseDriver)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected debug, got %q", cfg.LogLevel)
	}
	if cfg.Cooldown.Capacity != 75 {
		t.Fatalf("expected env override 75, got %d", cfg.Cooldown.Capacity)
	}
	if cfg.Leveling.VoiceIntervalSeconds != 60 {
		t.Fatalf("expected interval fallback 60, got %d", cfg.Leveling.VoiceIntervalSeconds)
	}
	if cfg.Raid.ResponseMinutes != 15 {
		t.Fatalf("expected response window 15, got %d", cfg.Raid.ResponseMinutes)
	}
	if cfg.AuditRetentionDays != 30 {
		t.Fatalf("expected default retention 30, got %d", cfg.AuditRetentionDays)
	}
	if cfg.Cooldown.Backend != "memory" {
		t.Fatalf("expected memory backend, got %q", cfg.Cooldown.Backend)
	}
}

func TestRedisBackendNeedsURL(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("COOLDOWN_BACKEND", "redis")
	t.Setenv("REDIS_URL", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for redis backend without url")
	}
}
