package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

func TestDialect(t *testing.T) {
	for _, typ := range []string{"postgres", "mysql", "sqlite", "sqlite3"} {
		d, err := Dialect(Config{Type: typ, Host: "h", Port: "1", Name: "zza", User: "u"})
		require.NoError(t, err, typ)
		assert.NotNil(t, d, typ)
	}

	_, err := Dialect(Config{})
	assert.ErrorIs(t, err, ErrUnsupportedType)
	_, err = Dialect(Config{Type: "oracle"})
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestSqlitePath(t *testing.T) {
	assert.Equal(t, "/data/x.db", sqlitePath(Config{Path: "/data/x.db", Name: "ignored"}))
	assert.Equal(t, "zza_test.db", sqlitePath(Config{Name: "zza_test"}))
	assert.Equal(t, "zza.db", sqlitePath(Config{}))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{name: "postgres", cfg: Config{Type: "postgres", Host: "h", Name: "n", User: "u"}},
		{name: "sqlite", cfg: Config{Type: "sqlite", Path: "zza.db"}},
		{name: "postgres without host", cfg: Config{Type: "postgres", Name: "n", User: "u"}, want: ErrInvalidConfig},
		{name: "sqlite without path", cfg: Config{Type: "sqlite3"}, want: ErrInvalidConfig},
		{name: "negative pool", cfg: Config{Type: "sqlite", Path: "x", MaxOpenConn: -1}, want: ErrInvalidConfig},
		{name: "empty type", cfg: Config{}, want: ErrUnsupportedType},
		{name: "unknown type", cfg: Config{Type: "oracle"}, want: ErrUnsupportedType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	pg := Config{Type: "postgres"}.WithDefaults()
	assert.Equal(t, "5432", pg.Port)
	assert.Equal(t, "disable", pg.SSLMode)

	my := Config{Type: "mysql", Port: "3307"}.WithDefaults()
	assert.Equal(t, "3307", my.Port)
}

func TestErrorClassification(t *testing.T) {
	dup := errors.New(`constraint failed: UNIQUE constraint failed: Customer.Id (1555)`)
	assert.True(t, IsDuplicateKeyErr(dup))
	assert.True(t, IsDuplicateKeyErr(fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey)))
	assert.True(t, IsDuplicateKeyErr(errors.New(`ERROR: duplicate key value violates unique constraint "Customer_pkey" (SQLSTATE 23505)`)))
	assert.False(t, IsDuplicateKeyErr(nil))

	assert.True(t, IsForeignKeyErr(errors.New("FOREIGN KEY constraint failed")))
	assert.True(t, IsForeignKeyErr(errors.New("Error 1451: Cannot delete or update a parent row")))
	assert.False(t, IsForeignKeyErr(dup))

	assert.True(t, IsNotNullErr(errors.New("NOT NULL constraint failed: Customer.FirstName")))
	assert.False(t, IsNotNullErr(dup))

	assert.True(t, IsConnectivityErr(driver.ErrBadConn))
	assert.True(t, IsConnectivityErr(errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")))
	assert.False(t, IsConnectivityErr(context.Canceled))
	assert.False(t, IsConnectivityErr(dup))
}

func TestOpen_SQLite(t *testing.T) {
	conn, err := Open(Config{Type: "sqlite", Path: "file:open_test?mode=memory&cache=shared", MaxOpenConn: 2}, Options{
		Namer: schema.NamingStrategy{SingularTable: true, NoLowerCase: true},
	})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	assert.Equal(t, 2, sqlDB.Stats().MaxOpenConnections)
	assert.Equal(t, "Customer", conn.NamingStrategy.TableName("Customer"))
	assert.True(t, conn.SkipDefaultTransaction)
}

func TestOpen_UnsupportedType(t *testing.T) {
	_, err := Open(Config{Type: "oracle"}, Options{})
	assert.ErrorIs(t, err, ErrUnsupportedType)
}
