// Package datacontext is the Zza data access layer: a unit of work over plain
// entity structs with explicit, snapshot-based change tracking.
//
// Entities are never proxied and related data is never fetched implicitly.
// Navigation fields are populated only by an option.Include on the query that
// loads them. Buffered changes reach the store in SaveChanges, all or nothing.
package datacontext

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"

	"github.com/smallbiznis/zza/internal/mapping"
	obslogger "github.com/smallbiznis/zza/internal/observability/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Context is one unit of work. It pins a single store connection from first use
// until Close and is not safe for concurrent use.
type Context struct {
	provider *Provider
	model    *mapping.Model
	log      *zap.Logger
	store    *gorm.DB
	id       string

	conn   *sql.Conn
	db     *gorm.DB
	closed bool

	entries []*entry
	index   map[any]*entry
}

// ID identifies the unit of work in logs.
func (c *Context) ID() string {
	return c.id
}

// Close releases the pinned connection and forgets every tracked entity. It is
// safe to call more than once.
func (c *Context) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.entries = nil
	c.index = nil
	c.db = nil
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if errors.Is(err, sql.ErrConnDone) {
		return nil
	}
	return err
}

func (c *Context) tag(ctx context.Context) context.Context {
	return obslogger.ContextWithUnitOfWork(ctx, c.provider.name, c.id)
}

// session returns a handle bound to the pinned connection, acquiring it on
// first use.
func (c *Context) session(ctx context.Context) (*gorm.DB, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if c.db == nil {
		sqlDB, err := c.store.DB()
		if err != nil {
			return nil, err
		}
		conn, err := sqlDB.Conn(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrConnectivity, err)
		}
		// Context forces a copy of the root statement before ConnPool is swapped.
		session := c.store.Session(&gorm.Session{NewDB: true, Context: c.tag(ctx)})
		session.Statement.ConnPool = conn
		c.conn = conn
		c.db = session
	}
	return c.db.WithContext(c.tag(ctx)), nil
}

// Entry reports how entity is tracked, detecting pending modifications first.
func (c *Context) Entry(ctx context.Context, entity any) State {
	if c.closed || entity == nil || reflect.TypeOf(entity).Kind() != reflect.Pointer {
		return Detached
	}
	e, ok := c.index[entity]
	if !ok {
		return Detached
	}
	e.detectChanges(ctx)
	return e.state
}

// HasChanges reports whether SaveChanges has anything to write.
func (c *Context) HasChanges(ctx context.Context) bool {
	return len(c.pending(ctx)) > 0
}

// DiscardChanges drops buffered inserts and restores modified or deleted
// entities to their last loaded or saved values.
func (c *Context) DiscardChanges(ctx context.Context) {
	kept := c.entries[:0]
	for _, e := range c.entries {
		e.detectChanges(ctx)
		switch e.state {
		case Added:
			delete(c.index, e.entity)
			continue
		case Modified, Deleted:
			e.restore(ctx)
			e.state = Unchanged
			e.fullUpdate = false
		}
		kept = append(kept, e)
	}
	c.entries = kept
}

func (c *Context) track(e *entry) {
	c.entries = append(c.entries, e)
	c.index[e.entity] = e
}

func (c *Context) untrack(e *entry) {
	delete(c.index, e.entity)
	for i, other := range c.entries {
		if other == e {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			return
		}
	}
}

// lookup finds the tracked entity of type m with the given key.
func (c *Context) lookup(ctx context.Context, m *mapping.Entity, key any) *entry {
	key = normalize(key)
	for _, e := range c.entries {
		if e.mapping != m {
			continue
		}
		if k, zero := e.key(ctx); !zero && reflect.DeepEqual(k, key) {
			return e
		}
	}
	return nil
}

// attach starts tracking a freshly loaded entity as Unchanged. When an entity
// with the same key is already tracked, that instance wins and is returned.
func (c *Context) attach(ctx context.Context, m *mapping.Entity, entity any) any {
	if e, ok := c.index[entity]; ok {
		return e.entity
	}
	key, _ := m.KeyOf(ctx, entity)
	if existing := c.lookup(ctx, m, key); existing != nil && existing.state != Added {
		return existing.entity
	}
	e := &entry{entity: entity, mapping: m, state: Unchanged}
	e.takeSnapshot(ctx)
	c.track(e)
	return entity
}

// attachIncluded tracks the entities an include path loaded under parent and
// swaps in already tracked instances.
func (c *Context) attachIncluded(ctx context.Context, m *mapping.Entity, parent reflect.Value, path []string) {
	if len(path) == 0 {
		return
	}
	rel, ok := m.Navigation(path[0])
	if !ok {
		return
	}
	child, err := c.model.EntityOf(rel.FieldSchema.ModelType)
	if err != nil {
		return
	}

	field := rel.Field.ReflectValueOf(ctx, parent)
	visit := func(v reflect.Value) {
		ptr := v
		if v.Kind() != reflect.Pointer {
			ptr = v.Addr()
		} else if v.IsNil() {
			return
		}
		tracked := reflect.ValueOf(c.attach(ctx, child, ptr.Interface()))
		if v.Kind() == reflect.Pointer && tracked.Pointer() != v.Pointer() {
			v.Set(tracked)
		}
		c.attachIncluded(ctx, child, tracked, path[1:])
	}

	switch field.Kind() {
	case reflect.Slice:
		for i := 0; i < field.Len(); i++ {
			visit(field.Index(i))
		}
	case reflect.Pointer:
		visit(field)
	}
}

func (c *Context) pending(ctx context.Context) []*entry {
	if c.closed {
		return nil
	}
	var out []*entry
	for _, e := range c.entries {
		e.detectChanges(ctx)
		if e.state != Unchanged {
			out = append(out, e)
		}
	}
	return out
}

// validate checks the buffered changes before any statement is sent.
func (c *Context) validate(ctx context.Context) error {
	var errs []error
	seen := map[*mapping.Entity]map[any]*entry{}

	for _, e := range c.entries {
		key, zero := e.key(ctx)

		switch e.state {
		case Added:
			if zero && !e.mapping.KeyGenerated {
				errs = append(errs, fmt.Errorf("%w: %s.%s must be assigned before insert", ErrMissingKey, e.mapping.Name, e.mapping.Key.Name))
			}
		case Modified, Unchanged, Deleted:
			if e.keyModified(ctx) {
				errs = append(errs, fmt.Errorf("%w: %s(%v) was changed to %v", ErrKeyModified, e.mapping.Name, e.originalKey(), key))
			}
		}

		if e.state == Added || e.state == Modified {
			if missing := e.mapping.MissingRequired(ctx, e.entity); len(missing) > 0 {
				errs = append(errs, fmt.Errorf("%w: %s lacks %v", ErrMissingRequired, e, missing))
			}
		}

		if zero {
			continue
		}
		byKey, ok := seen[e.mapping]
		if !ok {
			byKey = map[any]*entry{}
			seen[e.mapping] = byKey
		}
		if other, dup := byKey[key]; dup && (e.state == Added || other.state == Added) {
			errs = append(errs, fmt.Errorf("%w: %s(%v) is tracked twice", ErrDuplicateKey, e.mapping.Name, key))
			continue
		}
		byKey[key] = e
	}
	return errors.Join(errs...)
}

// SaveChanges writes every buffered insert, update and delete in a single
// transaction and returns how many entities were written. On failure nothing is
// applied, store-generated keys are reset and the changes stay buffered.
func (c *Context) SaveChanges(ctx context.Context) (int, error) {
	if c.closed {
		return 0, ErrClosed
	}
	pending := c.pending(ctx)
	if len(pending) == 0 {
		return 0, nil
	}
	if err := c.validate(ctx); err != nil {
		c.log.Debug("save rejected", zap.Int("entries", len(pending)), zap.Error(err))
		return 0, err
	}

	session, err := c.session(ctx)
	if err != nil {
		return 0, err
	}

	w := &writer{ctx: ctx}
	err = session.Transaction(func(tx *gorm.DB) error {
		return w.apply(tx, c.model.Entities(), pending)
	})
	if err != nil {
		w.rollback()
		obslogger.WithContext(c.tag(ctx), c.log).Warn("save failed", zap.Int("entries", len(pending)), zap.Error(err))
		return 0, err
	}

	for _, e := range pending {
		switch e.state {
		case Added, Modified:
			e.state = Unchanged
			e.fullUpdate = false
			e.takeSnapshot(ctx)
		case Deleted:
			c.untrack(e)
		}
	}
	for _, removed := range w.cascaded {
		if e := c.lookup(ctx, removed.mapping, removed.key); e != nil {
			c.untrack(e)
		}
	}

	c.log.Debug("changes saved", zap.Int("entries", len(pending)))
	return len(pending), nil
}

type removedRow struct {
	mapping *mapping.Entity
	key     any
}

// writer applies one SaveChanges inside its transaction.
type writer struct {
	ctx      context.Context
	undo     []func()
	cascaded []removedRow
}

func (w *writer) apply(tx *gorm.DB, entities []*mapping.Entity, pending []*entry) error {
	for _, m := range entities {
		for _, e := range pending {
			if e.mapping == m && e.state == Added {
				if err := w.insert(tx, e); err != nil {
					return err
				}
			}
		}
	}
	for _, e := range pending {
		if e.state == Modified {
			if err := w.update(tx, e); err != nil {
				return err
			}
		}
	}
	for i := len(entities) - 1; i >= 0; i-- {
		for _, e := range pending {
			if e.mapping == entities[i] && e.state == Deleted {
				key, _ := e.key(w.ctx)
				if err := w.delete(tx, e.mapping, key); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (w *writer) rollback() {
	for i := len(w.undo) - 1; i >= 0; i-- {
		w.undo[i]()
	}
	w.undo = nil
	w.cascaded = nil
}

func (w *writer) insert(tx *gorm.DB, e *entry) error {
	if _, zero := e.key(w.ctx); zero && e.mapping.KeyGenerated {
		entity, m := e.entity, e.mapping
		w.undo = append(w.undo, func() {
			_ = m.SetKey(context.Background(), entity, reflect.Zero(m.Key.FieldType).Interface())
		})
	}
	err := tx.Omit(clause.Associations).Create(e.entity).Error
	return classify(opInsert, e.String(), err)
}

func (w *writer) update(tx *gorm.DB, e *entry) error {
	changes := e.changes(w.ctx)
	if len(changes) == 0 {
		return nil
	}
	key, _ := e.key(w.ctx)
	res := tx.Table(e.mapping.Table).Where(keyEquals(e.mapping.Key.DBName, key)).Updates(changes)
	if res.Error != nil {
		return classify(opUpdate, e.String(), res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s no longer exists", ErrNotFound, e)
	}
	return nil
}

// delete removes one row after applying each dependent relationship's rule:
// restricted relationships refuse while dependent rows remain, cascading ones
// remove them first.
func (w *writer) delete(tx *gorm.DB, m *mapping.Entity, key any) error {
	subject := fmt.Sprintf("%s(%v)", m.Name, key)
	for _, rel := range m.Dependents {
		dependents := tx.Table(rel.Dependent.Table).Where(keyEquals(rel.ForeignKey.DBName, key))

		var n int64
		if err := dependents.Count(&n).Error; err != nil {
			return classify(opRead, subject, err)
		}
		if n == 0 {
			continue
		}
		if !rel.Cascade {
			return fmt.Errorf("%w: %s has %d dependent %s", ErrDeleteRestricted, subject, n, rel)
		}

		keys := reflect.New(reflect.SliceOf(rel.Dependent.Key.FieldType))
		err := tx.Table(rel.Dependent.Table).
			Where(keyEquals(rel.ForeignKey.DBName, key)).
			Pluck(rel.Dependent.Key.DBName, keys.Interface()).Error
		if err != nil {
			return classify(opRead, subject, err)
		}
		for i := 0; i < keys.Elem().Len(); i++ {
			depKey := keys.Elem().Index(i).Interface()
			if err := w.delete(tx, rel.Dependent, depKey); err != nil {
				return err
			}
			w.cascaded = append(w.cascaded, removedRow{mapping: rel.Dependent, key: depKey})
		}
	}

	res := tx.Exec("DELETE FROM ? WHERE ? = ?", clause.Table{Name: m.Table}, clause.Column{Name: m.Key.DBName}, key)
	if res.Error != nil {
		return classify(opDelete, subject, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s no longer exists", ErrNotFound, subject)
	}
	return nil
}

func keyEquals(column string, key any) clause.Expression {
	return clause.Eq{Column: clause.Column{Name: column}, Value: key}
}
