package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken       string         `yaml:"discord_token"`
	DatabaseDriver     string         `yaml:"database_driver"`
	DatabaseDSN        string         `yaml:"database_dsn"`
	LogLevel           string         `yaml:"log_level"`
	AuditRetentionDays int            `yaml:"audit_retention_days"`
	Health             HealthConfig   `yaml:"health"`
	Cooldown           CooldownConfig `yaml:"cooldown"`
	Leveling           LevelingConfig `yaml:"leveling"`
	Raid               RaidConfig     `yaml:"raid"`
	Platform           PlatformConfig `yaml:"platform"`
	Notifications      NotifyConfig   `yaml:"notifications"`
	Debug              DebugConfig    `yaml:"debug"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type CooldownConfig struct {
	Backend  string `yaml:"backend"`
	RedisURL string `yaml:"redis_url"`
	Capacity int    `yaml:"capacity"`
}

type LevelingConfig struct {
	VoiceIntervalSeconds int `yaml:"voice_interval_seconds"`
	SweepParallelism     int `yaml:"sweep_parallelism"`
}

type RaidConfig struct {
	ResponseMinutes int `yaml:"response_minutes"`
}

type DebugConfig struct {
	DeadlockTimeoutSeconds int `yaml:"deadlock_timeout_seconds"`
}

type PlatformConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type NotifyConfig struct {
	EmbedColors EmbedColors `yaml:"embed_colors"`
}

type EmbedColors struct {
	Action  int `yaml:"action"`
	Warning int `yaml:"warning"`
	Error   int `yaml:"error"`
}

func DefaultConfig() Config {
	return Config{
		DatabaseDriver:     "sqlite",
		DatabaseDSN:        "/data/sentinel.db",
		LogLevel:           "info",
		AuditRetentionDays: 30,
		Health:             HealthConfig{Enabled: false, Addr: ":8080"},
		Cooldown:           CooldownConfig{Backend: "memory", Capacity: 100000},
		Leveling:           LevelingConfig{VoiceIntervalSeconds: 60, SweepParallelism: 8},
		Raid:               RaidConfig{ResponseMinutes: 10},
		Platform:           PlatformConfig{RequestsPerSecond: 40, Burst: 10},
		Debug:              DebugConfig{DeadlockTimeoutSeconds: 120},
		Notifications: NotifyConfig{
			EmbedColors: EmbedColors{
				Action:  0xF59E0B,
				Warning: 0xEF4444,
				Error:   0xF97316,
			},
		},
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}

	cfg.DatabaseDriver = normalizeDriver(cfg.DatabaseDriver)
	cfg.Cooldown.Backend = normalizeBackend(cfg.Cooldown.Backend)
	if cfg.Cooldown.Backend == "redis" && cfg.Cooldown.RedisURL == "" {
		return Config{}, errors.New("REDIS_URL is required for the redis cooldown backend")
	}
	if cfg.Leveling.VoiceIntervalSeconds <= 0 {
		cfg.Leveling.VoiceIntervalSeconds = 60
	}
	if cfg.Leveling.SweepParallelism <= 0 {
		cfg.Leveling.SweepParallelism = 1
	}
	if cfg.Raid.ResponseMinutes <= 0 {
		cfg.Raid.ResponseMinutes = 10
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DatabaseDriver = envString("DATABASE_DRIVER", cfg.DatabaseDriver)
	cfg.DatabaseDSN = envString("DATABASE_DSN", cfg.DatabaseDSN)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.AuditRetentionDays = envInt("AUDIT_RETENTION_DAYS", cfg.AuditRetentionDays)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Cooldown.Backend = envString("COOLDOWN_BACKEND", cfg.Cooldown.Backend)
	cfg.Cooldown.RedisURL = envString("REDIS_URL", cfg.Cooldown.RedisURL)
	cfg.Cooldown.Capacity = envInt("COOLDOWN_CAPACITY", cfg.Cooldown.Capacity)
	cfg.Leveling.VoiceIntervalSeconds = envInt("VOICE_INTERVAL_SECONDS", cfg.Leveling.VoiceIntervalSeconds)
	cfg.Leveling.SweepParallelism = envInt("SWEEP_PARALLELISM", cfg.Leveling.SweepParallelism)
	cfg.Raid.ResponseMinutes = envInt("RAID_RESPONSE_MINUTES", cfg.Raid.ResponseMinutes)
	cfg.Debug.DeadlockTimeoutSeconds = envInt("DEADLOCK_TIMEOUT_SECONDS", cfg.Debug.DeadlockTimeoutSeconds)
	cfg.Platform.RequestsPerSecond = envFloat("PLATFORM_RPS", cfg.Platform.RequestsPerSecond)
	cfg.Platform.Burst = envInt("PLATFORM_BURST", cfg.Platform.Burst)
	cfg.Notifications.EmbedColors.Action = envInt("EMBED_COLOR_ACTION", cfg.Notifications.EmbedColors.Action)
	cfg.Notifications.EmbedColors.Warning = envInt("EMBED_COLOR_WARNING", cfg.Notifications.EmbedColors.Warning)
	cfg.Notifications.EmbedColors.Error = envInt("EMBED_COLOR_ERROR", cfg.Notifications.EmbedColors.Error)
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(strings.ToLower(level)))
	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}

func normalizeDriver(value string) string {
	switch strings.ToLower(value) {
	case "pgx", "postgres", "postgresql":
		return "pgx"
	default:
		return "sqlite"
	}
}

func normalizeBackend(value string) string {
	if strings.ToLower(value) == "redis" {
		return "redis"
	}
	return "memory"
}
