package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	LogLevel  string
	LogFormat string

	// ConnectionsFile overrides where named connection entries are read from.
	ConnectionsFile string
	// ContextName is the connection entry the data context resolves.
	ContextName string

	SQLTracing bool
	// DBMetricsPort serves gorm pool metrics for Prometheus when non-zero.
	DBMetricsPort int

	// Pool limits applied to connection entries that do not set their own.
	DBMaxOpenConn int
	DBMaxIdleConn int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:         getenv("APP_SERVICE", "zza"),
		AppVersion:      getenv("APP_VERSION", "0.1.0"),
		Environment:     getenv("ENVIRONMENT", "development"),
		LogLevel:        strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat:       strings.ToLower(getenv("LOG_FORMAT", "json")),
		ConnectionsFile: strings.TrimSpace(getenv("ZZA_CONNECTIONS_FILE", "")),
		ContextName:     strings.TrimSpace(getenv("ZZA_CONTEXT_NAME", "")),
		SQLTracing:      getenvBool("ZZA_SQL_TRACING", false),
		DBMetricsPort:   getenvInt("ZZA_DB_METRICS_PORT", 0),
		DBMaxOpenConn:   getenvInt("ZZA_DB_MAX_OPEN_CONN", 10),
		DBMaxIdleConn:   getenvInt("ZZA_DB_MAX_IDLE_CONN", 5),
	}
}

func (c Config) IsDevelopment() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}
