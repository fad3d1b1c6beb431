// Package config provides environment-variable driven configuration loading.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnv returns the trimmed environment variable or defaultValue when unset.
func GetEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvBool accepts true/1/yes/y (case-insensitive) as true.
func GetEnvBool(key string, defaultValue bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	switch strings.ToLower(val) {
	case "true", "1", "yes", "y":
		return true
	default:
		return false
	}
}

// GetEnvInt parses an integer environment variable, falling back on error or absence.
func GetEnvInt(key string, defaultValue int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// GetEnvDuration parses a Go duration string environment variable.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// DeploymentMode distinguishes the multi-tenant SaaS deployment from a
// single-tenant self-hosted install.
type DeploymentMode string

const (
	ModeSaaS        DeploymentMode = "saas"
	ModeSelfHosted  DeploymentMode = "self_hosted"
)

// Config is the process-wide configuration loaded once at startup.
type Config struct {
	DeploymentMode          DeploymentMode
	HTTPAddr                string
	DatabaseURL             string
	RedisURL                string
	SecretEncryptionKey     string
	GitHubWebhookSecret     string
	RunnerHeartbeatInterval time.Duration
	RunnerOfflineThreshold  time.Duration
	ArtifactStorageBackend  string
	DefaultTenantSlug       string
	JWTSigningKey           string
	LogLevel                string
	LogFormat               string
}

// Load reads the process configuration from the environment.
func Load() Config {
	mode := DeploymentMode(GetEnv("DEPLOYMENT_MODE", string(ModeSaaS)))
	return Config{
		DeploymentMode:          mode,
		HTTPAddr:                GetEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:             GetEnv("DATABASE_URL", buildDBURL()),
		RedisURL:                GetEnv("REDIS_URL", "redis://localhost:6379/0"),
		SecretEncryptionKey:     GetEnv("SECRET_ENCRYPTION_KEY", ""),
		GitHubWebhookSecret:     GetEnv("GITHUB_WEBHOOK_SECRET", ""),
		RunnerHeartbeatInterval: GetEnvDuration("RUNNER_HEARTBEAT_INTERVAL", 30*time.Second),
		RunnerOfflineThreshold:  GetEnvDuration("RUNNER_OFFLINE_THRESHOLD", 90*time.Second),
		ArtifactStorageBackend:  GetEnv("ARTIFACT_STORAGE_BACKEND", "local"),
		DefaultTenantSlug:       GetEnv("DEFAULT_TENANT_SLUG", "default"),
		JWTSigningKey:           GetEnv("JWT_SIGNING_KEY", ""),
		LogLevel:                GetEnv("LOG_LEVEL", "info"),
		LogFormat:               GetEnv("LOG_FORMAT", "json"),
	}
}

// buildDBURL assembles a postgres DSN from DB_HOST/DB_PORT/DB_USER/DB_PASSWORD/DB_NAME
// when DATABASE_URL itself is not set directly.
func buildDBURL() string {
	host := GetEnv("DB_HOST", "localhost")
	port := GetEnv("DB_PORT", "5432")
	user := GetEnv("DB_USER", "postgres")
	password := GetEnv("DB_PASSWORD", "")
	name := GetEnv("DB_NAME", "mergeci")
	sslmode := GetEnv("DB_SSLMODE", "disable")
	return "postgres://" + user + ":" + password + "@" + host + ":" + port + "/" + name + "?sslmode=" + sslmode
}
