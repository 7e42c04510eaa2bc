package datacontext_test

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/zza/internal/datacontext"
	"github.com/smallbiznis/zza/internal/mapping"
	"github.com/smallbiznis/zza/internal/model"
	"github.com/smallbiznis/zza/pkg/db"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

const customerDDL = `CREATE TABLE "Customer" (
	"Id" TEXT PRIMARY KEY,
	"StoreId" TEXT NULL,
	"FirstName" TEXT NOT NULL,
	"LastName" TEXT NOT NULL,
	"Phone" TEXT NULL,
	"Email" TEXT NULL,
	"Street" TEXT NULL,
	"City" TEXT NULL,
	"State" TEXT NULL,
	"Zip" TEXT NULL
)`

const orderDDL = `CREATE TABLE "Order" (
	"Id" INTEGER PRIMARY KEY AUTOINCREMENT,
	"CustomerId" TEXT NOT NULL,
	"OrderDate" DATETIME NOT NULL,
	"Phone" TEXT NULL,
	"DeliveryDate" DATETIME NULL,
	"DeliveryCharge" TEXT NULL,
	"DeliveryStreet" TEXT NULL,
	"DeliveryCity" TEXT NULL,
	"DeliveryState" TEXT NULL,
	"DeliveryZip" TEXT NULL,
	"ItemsTotal" TEXT NULL
)`

// openStore creates a private in-memory store that lives until the test ends
// and returns a handle for assertions plus the config the provider resolves.
func openStore(t *testing.T, ddl ...string) (*gorm.DB, db.Config) {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	raw, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := raw.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range ddl {
		require.NoError(t, raw.Exec(stmt).Error)
	}
	return raw, db.Config{Type: "sqlite", Path: dsn}
}

func zzaStore(t *testing.T) (*gorm.DB, db.Config) {
	t.Helper()
	return openStore(t, customerDDL, orderDDL)
}

func staticResolver(cfg db.Config) datacontext.ResolverFunc {
	return func(name string) (db.Config, error) {
		if name != datacontext.ContextName {
			return db.Config{}, fmt.Errorf("unknown connection %q", name)
		}
		return cfg, nil
	}
}

func newProvider(t *testing.T, m *mapping.Model, cfg db.Config, opts ...datacontext.ProviderOption) *datacontext.Provider {
	t.Helper()
	if m == nil {
		var err error
		m, err = datacontext.BuildModel()
		require.NoError(t, err)
	}
	p := datacontext.NewProvider(m, staticResolver(cfg), zaptest.NewLogger(t), opts...)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func newContext(t *testing.T, p *datacontext.Provider) *datacontext.Context {
	t.Helper()
	c, err := p.New(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func newCustomer(first, last string) *model.Customer {
	return &model.Customer{
		ID:        uuid.New(),
		FirstName: first,
		LastName:  last,
		Phone:     "555-0100",
		City:      "Springfield",
	}
}

func newOrder(customer *model.Customer, total string) *model.Order {
	return &model.Order{
		CustomerID: customer.ID,
		OrderDate:  time.Date(2024, time.March, 14, 18, 30, 0, 0, time.UTC),
		ItemsTotal: decimal.RequireFromString(total),
	}
}

// seed saves entities through a throwaway context.
func seed(t *testing.T, p *datacontext.Provider, customers []*model.Customer, orders ...*model.Order) {
	t.Helper()
	c, err := p.New(context.Background())
	require.NoError(t, err)
	defer c.Close()

	for _, customer := range customers {
		require.NoError(t, c.Customers().Add(customer))
	}
	for _, order := range orders {
		require.NoError(t, c.Orders().Add(order))
	}
	_, err = c.SaveChanges(context.Background())
	require.NoError(t, err)
}

func countRows(t *testing.T, raw *gorm.DB, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, raw.Table(table).Count(&n).Error)
	return n
}

// queryCounter counts SELECT round-trips made through the provider's handle.
type queryCounter struct {
	n atomic.Int64
}

func (q *queryCounter) Name() string { return "test:query_counter" }

func (q *queryCounter) Initialize(db *gorm.DB) error {
	return db.Callback().Query().After("gorm:query").Register("test:count_queries", func(*gorm.DB) {
		q.n.Add(1)
	})
}

func (q *queryCounter) Count() int64 { return q.n.Load() }
