package option

import (
	"github.com/smallbiznis/zza/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption narrows or shapes a query before it is executed.
type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type QueryOptionFunc func(db *gorm.DB) *gorm.DB

func (f QueryOptionFunc) Apply(db *gorm.DB) *gorm.DB {
	return f(db)
}

func Where(query any, args ...any) QueryOption {
	return QueryOptionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where(query, args...)
	})
}

func OrderBy(value string) QueryOption {
	return QueryOptionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Order(value)
	})
}

func Limit(n int) QueryOption {
	return QueryOptionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Limit(n)
	})
}

func Offset(n int) QueryOption {
	return QueryOptionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Offset(n)
	})
}

// IncludeOption eagerly loads a navigation path such as "Orders".
type IncludeOption struct {
	Path string
}

func (o IncludeOption) Apply(db *gorm.DB) *gorm.DB {
	return db.Preload(o.Path)
}

func Include(path string) QueryOption {
	return IncludeOption{Path: path}
}

type noTracking struct{}

func (noTracking) Apply(db *gorm.DB) *gorm.DB {
	return db
}

// NoTracking returns entities that are not attached to the unit of work.
func NoTracking() QueryOption {
	return noTracking{}
}

func IsNoTracking(opts []QueryOption) bool {
	for _, opt := range opts {
		if _, ok := opt.(noTracking); ok {
			return true
		}
	}
	return false
}

func Includes(opts []QueryOption) []string {
	var paths []string
	for _, opt := range opts {
		if inc, ok := opt.(IncludeOption); ok {
			paths = append(paths, inc.Path)
		}
	}
	return paths
}

// ApplyPagination orders by keyColumn and fetches one row past the page size.
func ApplyPagination(page pagination.Pagination, keyColumn string) (QueryOption, error) {
	var after string
	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, err
		}
		after = cursor.Key
	}

	size := page.Size()
	return QueryOptionFunc(func(db *gorm.DB) *gorm.DB {
		column := clause.Column{Name: keyColumn}
		if after != "" {
			db = db.Where(clause.Gt{Column: column, Value: after})
		}
		return db.Order(clause.OrderByColumn{Column: column}).Limit(size + 1)
	}), nil
}
