package datacontext

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/smallbiznis/zza/internal/mapping"
	"github.com/smallbiznis/zza/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ConnectionResolver turns a connection name into store parameters.
type ConnectionResolver interface {
	Resolve(name string) (db.Config, error)
}

// ResolverFunc adapts a plain function to ConnectionResolver.
type ResolverFunc func(name string) (db.Config, error)

func (f ResolverFunc) Resolve(name string) (db.Config, error) {
	return f(name)
}

// ProviderOption customises a Provider built by NewProvider.
type ProviderOption func(*Provider)

// WithConnectionName resolves name instead of ContextName.
func WithConnectionName(name string) ProviderOption {
	return func(p *Provider) {
		p.name = name
	}
}

// WithGormLogger routes the statements of the store handle to l.
func WithGormLogger(l gormlogger.Interface) ProviderOption {
	return func(p *Provider) {
		p.gormLogger = l
	}
}

// WithPlugins registers gorm plugins on the store handle when it is opened.
func WithPlugins(plugins ...gorm.Plugin) ProviderOption {
	return func(p *Provider) {
		p.plugins = append(p.plugins, plugins...)
	}
}

// Provider hands out data contexts. It owns the process-wide store handle,
// opened and checked against the mapping by the first successful call to New.
type Provider struct {
	model      *mapping.Model
	resolver   ConnectionResolver
	name       string
	log        *zap.Logger
	gormLogger gormlogger.Interface
	plugins    []gorm.Plugin

	// mu guards everything below. Connectivity failures during initialisation
	// are not kept, so a later New tries again; configuration failures are.
	mu     sync.Mutex
	db     *gorm.DB
	err    error
	closed bool
}

// NewProvider returns a Provider for model. Nothing is resolved or opened
// until the first call to New.
func NewProvider(model *mapping.Model, resolver ConnectionResolver, log *zap.Logger, opts ...ProviderOption) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Provider{
		model:    model,
		resolver: resolver,
		name:     ContextName,
		log:      log.Named("datacontext"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name is the connection entry the provider resolves.
func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Model() *mapping.Model {
	return p.model
}

// New starts a unit of work. The returned context must be closed by the caller
// and must not be shared between goroutines.
func (p *Provider) New(ctx context.Context) (*Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	store, err := p.store(ctx)
	if err != nil {
		return nil, err
	}

	c := &Context{
		provider: p,
		model:    p.model,
		store:    store,
		id:       uuid.NewString(),
		index:    make(map[any]*entry),
	}
	c.log = p.log.With(zap.String("unit_of_work", c.id))
	return c, nil
}

// store returns the opened handle, initialising it if no earlier call managed to.
func (p *Provider) store(ctx context.Context) (*gorm.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.closed:
		return nil, ErrClosed
	case p.err != nil:
		return nil, p.err
	case p.db != nil:
		return p.db, nil
	}

	conn, err := p.initialize(ctx)
	if err != nil {
		if IsConfigurationError(err) {
			p.err = err
			p.log.Error("data context initialisation failed", zap.String("connection", p.name), zap.Error(err))
		} else {
			p.log.Warn("data context store unavailable", zap.String("connection", p.name), zap.Error(err))
		}
		return nil, err
	}
	p.db = conn
	return conn, nil
}

// Stats reports the connection pool of the store handle; zero before the
// first successful New.
func (p *Provider) Stats() sql.DBStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return sql.DBStats{}
	}
	sqlDB, err := p.db.DB()
	if err != nil {
		return sql.DBStats{}
	}
	return sqlDB.Stats()
}

// Close releases the store handle. Contexts still open fail on next use.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.db == nil {
		return nil
	}
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// initialize opens the store and checks it against the mapping. Errors that
// wrap ErrConfiguration cannot be fixed by retrying.
func (p *Provider) initialize(ctx context.Context) (*gorm.DB, error) {
	if p.model == nil {
		return nil, fmt.Errorf("%w: no mapping model", ErrConfiguration)
	}
	if p.resolver == nil {
		return nil, fmt.Errorf("%w: no connection resolver", ErrConfiguration)
	}

	cfg, err := p.resolver.Resolve(p.name)
	if err != nil {
		return nil, fmt.Errorf("%w: connection %q: %w", ErrConfiguration, p.name, err)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: connection %q: %w", ErrConfiguration, p.name, err)
	}
	if _, err := db.Dialect(cfg); err != nil {
		return nil, fmt.Errorf("%w: connection %q: %w", ErrConfiguration, p.name, err)
	}

	conn, err := db.Open(cfg, db.Options{
		Namer:   p.model.Namer(),
		Logger:  p.gormLogger,
		Plugins: p.plugins,
	})
	if err != nil {
		return nil, unreachable(ctx, err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, unreachable(ctx, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, unreachable(ctx, err)
	}

	if err := p.verifySchema(conn.WithContext(ctx)); err != nil {
		// The migrator reports a lost store as a missing table.
		if pingErr := sqlDB.PingContext(ctx); pingErr != nil {
			_ = sqlDB.Close()
			return nil, unreachable(ctx, pingErr)
		}
		_ = sqlDB.Close()
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	p.log.Info("data context ready",
		zap.String("connection", p.name),
		zap.String("dialect", conn.Dialector.Name()),
		zap.Int("entities", len(p.model.Entities())),
	)
	return conn, nil
}

// unreachable reports err as a connectivity failure unless the caller's
// context ended first.
func unreachable(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrConnectivity, err)
}

// verifySchema checks that every mapped table and column exists. The schema is
// never created or altered here.
func (p *Provider) verifySchema(conn *gorm.DB) error {
	migrator := conn.Migrator()

	var missing []string
	for _, e := range p.model.Entities() {
		if !migrator.HasTable(e.Table) {
			missing = append(missing, "table "+e.Table)
			continue
		}
		columns := append([]string{e.Key.DBName}, columnNames(e)...)
		for _, column := range columns {
			if !migrator.HasColumn(e.Table, column) {
				missing = append(missing, "column "+e.Table+"."+column)
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrSchemaMismatch, strings.Join(missing, ", "))
	}
	return nil
}

func columnNames(e *mapping.Entity) []string {
	names := make([]string, 0, len(e.Columns))
	for _, f := range e.Columns {
		names = append(names, f.DBName)
	}
	return names
}

// IsConfigurationError reports whether err came from provider initialisation.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}
