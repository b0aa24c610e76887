package runtime

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/coopledger/funding_layer/pkg/logger"
)

// Config is the full runtime configuration. Values load in three layers:
// baked-in defaults, an optional YAML file, then FUNDING_* environment
// variables. Later layers win.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
	Funding   FundingConfig   `yaml:"funding"`
	Audit     AuditConfig     `yaml:"audit"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" env:"FUNDING_SERVER_HOST"`
	Port            int           `yaml:"port" env:"FUNDING_SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"FUNDING_SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"FUNDING_SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"FUNDING_SERVER_SHUTDOWN_TIMEOUT"`
}

// DatabaseConfig selects persistence. An empty DSN keeps the in-memory store.
type DatabaseConfig struct {
	DSN          string        `yaml:"dsn" env:"FUNDING_DATABASE_DSN"`
	MaxOpenConns int           `yaml:"max_open_conns" env:"FUNDING_DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns int           `yaml:"max_idle_conns" env:"FUNDING_DATABASE_MAX_IDLE_CONNS"`
	ConnLifetime time.Duration `yaml:"conn_lifetime" env:"FUNDING_DATABASE_CONN_LIFETIME"`
}

type RedisConfig struct {
	Addr       string        `yaml:"addr" env:"FUNDING_REDIS_ADDR"`
	Password   string        `yaml:"password" env:"FUNDING_REDIS_PASSWORD"`
	BalanceTTL time.Duration `yaml:"balance_ttl" env:"FUNDING_REDIS_BALANCE_TTL"`
}

type AuthConfig struct {
	Secret   string        `yaml:"secret" env:"FUNDING_AUTH_SECRET"`
	TokenTTL time.Duration `yaml:"token_ttl" env:"FUNDING_AUTH_TOKEN_TTL"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" env:"FUNDING_LOG_LEVEL"`
	Format     string `yaml:"format" env:"FUNDING_LOG_FORMAT"`
	Output     string `yaml:"output" env:"FUNDING_LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"FUNDING_LOG_FILE_PREFIX"`
}

type FundingConfig struct {
	PlatformOwner      string `yaml:"platform_owner" env:"FUNDING_PLATFORM_OWNER"`
	OwnershipClaimable bool   `yaml:"ownership_claimable" env:"FUNDING_OWNERSHIP_CLAIMABLE"`
	BatchSize          int    `yaml:"batch_size" env:"FUNDING_BATCH_SIZE"`
	PayoutSchedule     string `yaml:"payout_schedule" env:"FUNDING_PAYOUT_SCHEDULE"`
}

type AuditConfig struct {
	File string `yaml:"file" env:"FUNDING_AUDIT_FILE"`
	Size int    `yaml:"size" env:"FUNDING_AUDIT_SIZE"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second" env:"FUNDING_RATE_LIMIT_RPS"`
	Burst             int     `yaml:"burst" env:"FUNDING_RATE_LIMIT_BURST"`
}

// Load builds the configuration. path may be empty to skip the YAML layer.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// envdecode errors only on malformed values since every field is
	// optional at this layer.
	if err := envdecode.Decode(&cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}

	if cfg.Funding.PlatformOwner == "" {
		return Config{}, fmt.Errorf("platform owner is required (FUNDING_PLATFORM_OWNER)")
	}
	if cfg.Auth.Secret == "" {
		return Config{}, fmt.Errorf("auth secret is required (FUNDING_AUTH_SECRET)")
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 25,
			MaxIdleConns: 5,
			ConnLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			BalanceTTL: time.Minute,
		},
		Auth: AuthConfig{
			TokenTTL: time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
		},
	}
}

// LoggerConfig converts the runtime logging section for pkg/logger.
func (c Config) LoggerConfig() logger.LoggingConfig {
	return logger.LoggingConfig{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		Output:     c.Logging.Output,
		FilePrefix: c.Logging.FilePrefix,
	}
}

// ListenAddr is the host:port the HTTP server binds.
func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
