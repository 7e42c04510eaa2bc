package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	// PostgreSQL (error code 23505)
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error codes 1555, 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

func IsForeignKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}

	msg := err.Error()
	switch {
	// PostgreSQL (error code 23503)
	case strings.Contains(msg, "violates foreign key constraint"):
		return true
	// MySQL (error codes 1451, 1452)
	case strings.Contains(msg, "Error 1451"), strings.Contains(msg, "Error 1452"):
		return true
	// SQLite (error code 787)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return true
	}
	return false
}

func IsNotNullErr(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()
	switch {
	// PostgreSQL (error code 23502)
	case strings.Contains(msg, "violates not-null constraint"):
		return true
	// MySQL (error codes 1048, 1364)
	case strings.Contains(msg, "Error 1048"), strings.Contains(msg, "Error 1364"):
		return true
	// SQLite (error code 1299)
	case strings.Contains(msg, "NOT NULL constraint failed"):
		return true
	}
	return false
}

// IsConnectivityErr reports whether err means the store could not be reached.
// Context cancellation is not a connectivity failure.
func IsConnectivityErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "unable to open database file") ||
		strings.Contains(msg, "sql: database is closed")
}
