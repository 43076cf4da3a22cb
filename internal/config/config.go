// Package config loads the backend configuration once at start-up.
//
// Values come from an optional YAML file, then environment variables, and
// finally CLI flags applied by the caller. The resulting Config is passed
// down by value and never re-read.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StorageDisk  = "disk"
	StorageMinio = "minio"
)

type Config struct {
	Server      ServerConfig   `yaml:"server"`
	Database    DatabaseConfig `yaml:"database"`
	Auth        AuthConfig     `yaml:"auth"`
	Storage     StorageConfig  `yaml:"storage"`
	Logging     LoggingConfig  `yaml:"logging"`
	Environment string         `yaml:"environment"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"` // e.g. ":3006"
}

type DatabaseConfig struct {
	URL            string `yaml:"url"`
	MaxConnections int    `yaml:"max_connections"`
	MaxIdle        int    `yaml:"max_idle"`
	// Migrate applies the embedded schema before serving.
	Migrate bool `yaml:"migrate"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	Issuer    string        `yaml:"issuer"`
	TokenTTL  time.Duration `yaml:"-"`
}

type StorageConfig struct {
	Backend        string      `yaml:"backend"`
	UploadDir      string      `yaml:"upload_dir"`
	MaxUploadBytes int64       `yaml:"max_upload_bytes"`
	Minio          MinioConfig `yaml:"minio"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns the configuration used when nothing else is supplied.
func Defaults() Config {
	return Config{
		Server: ServerConfig{Addr: ":3006"},
		Database: DatabaseConfig{
			MaxConnections: 10,
			MaxIdle:        10,
			Migrate:        true,
		},
		Auth: AuthConfig{
			Issuer:   "trifix-backend",
			TokenTTL: time.Hour,
		},
		Storage: StorageConfig{
			Backend:        StorageDisk,
			UploadDir:      "uploads",
			MaxUploadBytes: 32 << 20,
		},
		Logging:     LoggingConfig{Level: "info", Format: "json"},
		Environment: "development",
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	// The token lifetime is fixed.
	cfg.Auth.TokenTTL = time.Hour

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Addr = getEnv("TRIFIX_ADDR", cfg.Server.Addr)
	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)
	cfg.Database.MaxConnections = getEnvInt("TRIFIX_DB_MAX_CONNECTIONS", cfg.Database.MaxConnections)
	cfg.Database.MaxIdle = getEnvInt("TRIFIX_DB_MAX_IDLE", cfg.Database.MaxIdle)
	cfg.Database.Migrate = getEnvBool("TRIFIX_DB_MIGRATE", cfg.Database.Migrate)
	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.Issuer = getEnv("TRIFIX_JWT_ISSUER", cfg.Auth.Issuer)
	cfg.Storage.Backend = getEnv("TRIFIX_STORAGE", cfg.Storage.Backend)
	cfg.Storage.UploadDir = getEnv("TRIFIX_UPLOAD_DIR", cfg.Storage.UploadDir)
	cfg.Storage.MaxUploadBytes = int64(getEnvInt("TRIFIX_MAX_UPLOAD_BYTES", int(cfg.Storage.MaxUploadBytes)))
	cfg.Storage.Minio.Endpoint = getEnv("TRIFIX_S3_ENDPOINT", cfg.Storage.Minio.Endpoint)
	cfg.Storage.Minio.AccessKey = getEnv("TRIFIX_S3_ACCESS_KEY", cfg.Storage.Minio.AccessKey)
	cfg.Storage.Minio.SecretKey = getEnv("TRIFIX_S3_SECRET_KEY", cfg.Storage.Minio.SecretKey)
	cfg.Storage.Minio.Bucket = getEnv("TRIFIX_S3_BUCKET", cfg.Storage.Minio.Bucket)
	cfg.Logging.Level = getEnv("TRIFIX_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("TRIFIX_LOG_FORMAT", cfg.Logging.Format)
	cfg.Environment = getEnv("TRIFIX_ENV", cfg.Environment)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
