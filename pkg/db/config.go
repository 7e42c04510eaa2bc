package db

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidConfig = errors.New("invalid_database_config")

type Config struct {
	Type            string
	Host            string
	Port            string
	Name            string
	User            string
	Password        string
	SSLMode         string
	Path            string
	MaxIdleConn     int
	MaxOpenConn     int
	ConnMaxLifetime int
	ConnMaxIdleTime int

	// Tracing registers the otelgorm plugin on the opened handle.
	Tracing bool
}

// WithDefaults fills the port and sslmode a server store falls back to.
func (c Config) WithDefaults() Config {
	switch c.Type {
	case "postgres":
		if c.Port == "" {
			c.Port = "5432"
		}
		if c.SSLMode == "" {
			c.SSLMode = "disable"
		}
	case "mysql":
		if c.Port == "" {
			c.Port = "3306"
		}
	}
	return c
}

// Validate reports parameters that cannot describe a reachable store.
func (c Config) Validate() error {
	switch c.Type {
	case "postgres", "mysql":
		if c.Host == "" || c.Name == "" || c.User == "" {
			return fmt.Errorf("%w: %s needs host, name and user", ErrInvalidConfig, c.Type)
		}
	case "sqlite", "sqlite3":
		if c.Path == "" && c.Name == "" {
			return fmt.Errorf("%w: %s needs path or name", ErrInvalidConfig, c.Type)
		}
	case "":
		return fmt.Errorf("%w: empty type", ErrUnsupportedType)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedType, c.Type)
	}
	if c.MaxOpenConn < 0 || c.MaxIdleConn < 0 {
		return fmt.Errorf("%w: negative pool limit", ErrInvalidConfig)
	}
	return nil
}

func (c Config) connMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetime) * time.Second
}

func (c Config) connMaxIdleTime() time.Duration {
	return time.Duration(c.ConnMaxIdleTime) * time.Second
}
