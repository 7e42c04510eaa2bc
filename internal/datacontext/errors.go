package datacontext

import (
	"errors"
	"fmt"

	"github.com/smallbiznis/zza/pkg/db"
)

var (
	// ErrConfiguration is returned by every Provider.New once the connection
	// entry turned out missing or invalid, or the schema did not match the
	// mapping. An unreachable store is reported as ErrConnectivity instead and
	// the next New tries again.
	ErrConfiguration  = errors.New("data_context_configuration")
	ErrSchemaMismatch = errors.New("schema_mismatch")

	ErrConnectivity = errors.New("store_unreachable")

	ErrDuplicateKey     = errors.New("duplicate_key")
	ErrMissingKey       = errors.New("missing_key")
	ErrMissingRequired  = errors.New("missing_required_value")
	ErrDeleteRestricted = errors.New("delete_restricted")
	ErrForeignKey       = errors.New("foreign_key_violation")
	ErrKeyModified      = errors.New("key_modified")

	ErrNotFound  = errors.New("not_found")
	ErrClosed    = errors.New("data_context_closed")
	ErrNilEntity = errors.New("nil_entity")
)

// IsConstraintViolation reports whether a SaveChanges failure can be fixed by
// correcting the buffered data and saving again.
func IsConstraintViolation(err error) bool {
	return errors.Is(err, ErrDuplicateKey) ||
		errors.Is(err, ErrMissingKey) ||
		errors.Is(err, ErrMissingRequired) ||
		errors.Is(err, ErrDeleteRestricted) ||
		errors.Is(err, ErrForeignKey) ||
		errors.Is(err, ErrKeyModified)
}

type operation int

const (
	opRead operation = iota
	opInsert
	opUpdate
	opDelete
)

// classify maps a driver error onto the taxonomy above; subject names the
// row involved, e.g. "Customer(42)".
func classify(op operation, subject string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case db.IsConnectivityErr(err):
		return fmt.Errorf("%w: %v", ErrConnectivity, err)
	case op == opRead:
		return err
	case db.IsDuplicateKeyErr(err):
		return fmt.Errorf("%w: %s", ErrDuplicateKey, subject)
	case db.IsForeignKeyErr(err) && op == opDelete:
		return fmt.Errorf("%w: %s is still referenced", ErrDeleteRestricted, subject)
	case db.IsForeignKeyErr(err):
		return fmt.Errorf("%w: %s", ErrForeignKey, subject)
	case db.IsNotNullErr(err):
		return fmt.Errorf("%w: %s: %v", ErrMissingRequired, subject, err)
	}
	return fmt.Errorf("%s: %w", subject, err)
}
