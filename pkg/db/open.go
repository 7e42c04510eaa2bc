package db

import (
	"fmt"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// Options carries the process-wide settings every handle is opened with.
type Options struct {
	Namer   schema.Namer
	Logger  gormlogger.Interface
	Plugins []gorm.Plugin
}

// Open connects to the store described by cfg. It never creates or migrates schema.
func Open(cfg Config, opts Options) (*gorm.DB, error) {
	dialector, err := Dialect(cfg)
	if err != nil {
		return nil, err
	}

	gormCfg := &gorm.Config{
		NamingStrategy:         opts.Namer,
		Logger:                 opts.Logger,
		SkipDefaultTransaction: true,
		TranslateError:         true,
	}
	if gormCfg.Logger == nil {
		gormCfg.Logger = gormlogger.Discard
	}

	conn, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Type, err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxIdleConn > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConn)
	}
	if cfg.MaxOpenConn > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConn)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.connMaxLifetime())
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.connMaxIdleTime())
	}

	if cfg.Tracing {
		if err := conn.Use(otelgorm.NewPlugin(otelgorm.WithDBName(cfg.Name))); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("register tracing: %w", err)
		}
	}

	for _, plugin := range opts.Plugins {
		if err := conn.Use(plugin); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("register plugin %s: %w", plugin.Name(), err)
		}
	}

	return conn, nil
}
