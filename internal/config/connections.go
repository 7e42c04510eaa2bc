package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/smallbiznis/zza/pkg/db"
	"github.com/spf13/viper"
)

var (
	ErrConnectionNotFound = errors.New("connection_not_found")
	ErrInvalidConnection  = errors.New("invalid_connection")
)

// Connections resolves named connection entries. Entries live under the
// "connections" key of connections.yml and can be overridden per key from the
// environment, e.g. ZZA_CONNECTIONS_ZZACONTEXT_HOST.
type Connections struct {
	v        *viper.Viper
	defaults Config
}

func NewConnections(cfg Config) (*Connections, error) {
	v := viper.New()

	if cfg.ConnectionsFile != "" {
		v.SetConfigFile(cfg.ConnectionsFile)
	} else {
		v.SetConfigName("connections")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/zza") // System config
		v.AddConfigPath(".")        // Current directory (dev mode)
	}

	v.SetEnvPrefix("ZZA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfg.ConnectionsFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read connections: %w", err)
		}
		// no file: entries may still come from the environment
	}

	return &Connections{v: v, defaults: cfg}, nil
}

// Names lists the entries declared in the connections file.
func (c *Connections) Names() []string {
	entries := c.v.GetStringMap("connections")
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the store parameters of the named entry.
func (c *Connections) Resolve(name string) (db.Config, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return db.Config{}, fmt.Errorf("%w: empty name", ErrConnectionNotFound)
	}

	key := func(field string) string {
		return "connections." + strings.ToLower(name) + "." + field
	}
	if !c.v.IsSet(key("type")) {
		return db.Config{}, fmt.Errorf("%w: %s", ErrConnectionNotFound, name)
	}

	cfg := db.Config{
		Type:            strings.ToLower(strings.TrimSpace(c.v.GetString(key("type")))),
		Host:            strings.TrimSpace(c.v.GetString(key("host"))),
		Port:            strings.TrimSpace(c.v.GetString(key("port"))),
		Name:            strings.TrimSpace(c.v.GetString(key("name"))),
		User:            c.v.GetString(key("user")),
		Password:        c.v.GetString(key("password")),
		SSLMode:         strings.TrimSpace(c.v.GetString(key("sslmode"))),
		Path:            strings.TrimSpace(c.v.GetString(key("path"))),
		MaxIdleConn:     c.v.GetInt(key("maxIdleConn")),
		MaxOpenConn:     c.v.GetInt(key("maxOpenConn")),
		ConnMaxLifetime: c.v.GetInt(key("connMaxLifetime")),
		ConnMaxIdleTime: c.v.GetInt(key("connMaxIdleTime")),
		Tracing:         c.defaults.SQLTracing,
	}
	if cfg.MaxOpenConn == 0 {
		cfg.MaxOpenConn = c.defaults.DBMaxOpenConn
	}
	if cfg.MaxIdleConn == 0 {
		cfg.MaxIdleConn = c.defaults.DBMaxIdleConn
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return db.Config{}, fmt.Errorf("%w: %s: %v", ErrInvalidConnection, name, err)
	}
	return cfg, nil
}
