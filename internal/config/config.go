// Package config loads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage drivers.
const (
	DriverMinio  = "minio"
	DriverS3     = "s3"
	DriverMemory = "memory"
)

// Upload modes.
const (
	ModeDirect    = "direct"
	ModePresigned = "presigned"
)

// Config holds all runtime configuration for the service.
type Config struct {
	Port     string
	AppEnv   string
	LogLevel string

	// DatabaseURL enables metadata recording when set.
	DatabaseURL string
	// JWTSecret enables bearer identity when set.
	JWTSecret string

	// Object storage (MinIO locally, any S3-compatible provider in production)
	StorageDriver     string
	StorageEndpoint   string
	StorageAccessKey  string
	StorageSecretKey  string
	StorageBucket     string
	StorageRegion     string
	StorageUseSSL     bool
	StoragePublicBase string // browser-accessible base URL, e.g. "http://localhost:9000/lessons"

	UploadMode     string
	PresignTTL     time.Duration
	MaxUploadBytes int64
}

// Load reads configuration from a .env file (if present) and environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, reading from environment")
	}

	presignTTL, err := time.ParseDuration(getEnv("PRESIGN_TTL", "15m"))
	if err != nil {
		return nil, fmt.Errorf("PRESIGN_TTL: %w", err)
	}
	maxUpload, err := strconv.ParseInt(getEnv("MAX_UPLOAD_BYTES", "104857600"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("MAX_UPLOAD_BYTES: %w", err)
	}

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),

		StorageDriver:     strings.ToLower(getEnv("STORAGE_DRIVER", DriverMinio)),
		StorageEndpoint:   getEnv("STORAGE_ENDPOINT", "localhost:9000"),
		StorageAccessKey:  getEnv("STORAGE_ACCESS_KEY", "minioadmin"),
		StorageSecretKey:  getEnv("STORAGE_SECRET_KEY", "minioadmin"),
		StorageBucket:     getEnv("STORAGE_BUCKET", "lesson-files"),
		StorageRegion:     getEnv("STORAGE_REGION", "us-east-1"),
		StorageUseSSL:     getEnv("STORAGE_USE_SSL", "false") == "true",
		StoragePublicBase: os.Getenv("STORAGE_PUBLIC_BASE"),

		UploadMode:     strings.ToLower(getEnv("UPLOAD_MODE", ModeDirect)),
		PresignTTL:     presignTTL,
		MaxUploadBytes: maxUpload,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.StorageDriver {
	case DriverMinio, DriverS3, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER must be one of: minio, s3, memory (got %q)", c.StorageDriver))
	}
	switch c.UploadMode {
	case ModeDirect, ModePresigned:
	default:
		errs = append(errs, fmt.Errorf("UPLOAD_MODE must be one of: direct, presigned (got %q)", c.UploadMode))
	}
	if c.StorageBucket == "" {
		errs = append(errs, errors.New("STORAGE_BUCKET is required"))
	}
	if c.PresignTTL <= 0 {
		errs = append(errs, errors.New("PRESIGN_TTL must be positive"))
	}
	if c.MaxUploadBytes < 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must not be negative"))
	}
	return errors.Join(errs...)
}

// IsProduction returns true when the app is running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
