package db

import (
	"errors"
	"fmt"

	puresqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var ErrUnsupportedType = errors.New("unsupported_database_type")

func Dialect(cfg Config) (gorm.Dialector, error) {
	switch cfg.Type {
	case "mysql":
		return mysql.Open(fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.User,
			cfg.Password,
			cfg.Host,
			cfg.Port,
			cfg.Name,
		)), nil
	case "postgres":
		return postgres.Open(fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.Host,
			cfg.User,
			cfg.Password,
			cfg.Name,
			cfg.Port,
			cfg.SSLMode,
		)), nil
	case "sqlite":
		return puresqlite.Open(sqlitePath(cfg)), nil
	case "sqlite3":
		// cgo driver, kept for deployments that already link mattn/go-sqlite3.
		return sqlite.Open(sqlitePath(cfg)), nil
	case "":
		return nil, fmt.Errorf("%w: empty type", ErrUnsupportedType)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, cfg.Type)
	}
}

func sqlitePath(cfg Config) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	if cfg.Name != "" {
		return cfg.Name + ".db"
	}
	return "zza.db"
}
