package datacontext

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/smallbiznis/zza/internal/mapping"
	"github.com/smallbiznis/zza/pkg/db/option"
	"github.com/smallbiznis/zza/pkg/db/pagination"
)

// Set is the collection of one entity type within a context. Writes are
// buffered until Context.SaveChanges; reads go to the store immediately.
type Set[T any] struct {
	c      *Context
	entity *mapping.Entity
	err    error
}

// SetOf returns the set of T within c. T must be registered in the model.
func SetOf[T any](c *Context) *Set[T] {
	e, err := c.model.Entity(new(T))
	return &Set[T]{c: c, entity: e, err: err}
}

func (s *Set[T]) check(entity *T) error {
	if s.err != nil {
		return s.err
	}
	if s.c.closed {
		return ErrClosed
	}
	if entity == nil {
		return ErrNilEntity
	}
	return nil
}

// Add buffers an insert. Keys that are not store generated must be assigned
// by SaveChanges time.
func (s *Set[T]) Add(entity *T) error {
	if err := s.check(entity); err != nil {
		return err
	}
	if e, ok := s.c.index[entity]; ok {
		if e.state == Deleted {
			e.state = Unchanged
		}
		return nil
	}
	s.c.track(&entry{entity: entity, mapping: s.entity, state: Added})
	return nil
}

// Update buffers a write of every column. A detached entity is attached as is,
// so its key must identify an existing row.
func (s *Set[T]) Update(entity *T) error {
	if err := s.check(entity); err != nil {
		return err
	}
	e, ok := s.c.index[entity]
	if !ok {
		e = &entry{entity: entity, mapping: s.entity}
		e.takeSnapshot(context.Background())
		s.c.track(e)
	}
	if e.state == Added {
		return nil
	}
	e.state = Modified
	e.fullUpdate = true
	return nil
}

// Remove buffers a delete. Removing an entity that was only added cancels the
// insert.
func (s *Set[T]) Remove(entity *T) error {
	if err := s.check(entity); err != nil {
		return err
	}
	e, ok := s.c.index[entity]
	switch {
	case !ok:
		e = &entry{entity: entity, mapping: s.entity}
		e.takeSnapshot(context.Background())
		s.c.track(e)
	case e.state == Added:
		s.c.untrack(e)
		return nil
	}
	e.state = Deleted
	e.fullUpdate = false
	return nil
}

// Find returns the entity with the given key, answering from the tracked
// entities without a store round-trip when possible. key must have the Go type
// of the key field.
func (s *Set[T]) Find(ctx context.Context, key any) (*T, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.c.closed {
		return nil, ErrClosed
	}
	if e := s.c.lookup(ctx, s.entity, key); e != nil {
		if e.state == Deleted {
			return nil, fmt.Errorf("%w: %s(%v)", ErrNotFound, s.entity.Name, key)
		}
		return e.entity.(*T), nil
	}

	rows, err := s.Query(ctx, option.Where(keyEquals(s.entity.Key.DBName, key)), option.Limit(1))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s(%v)", ErrNotFound, s.entity.Name, key)
	}
	return rows[0], nil
}

// Query loads the entities matching opts. Navigation fields are filled only for
// option.Include paths. Results are tracked unless option.NoTracking is given;
// rows already tracked resolve to the tracked instance.
func (s *Set[T]) Query(ctx context.Context, opts ...option.QueryOption) ([]*T, error) {
	rows, err := s.load(ctx, opts)
	if err != nil {
		return nil, err
	}
	if option.IsNoTracking(opts) {
		return rows, nil
	}
	return s.attach(ctx, rows, option.Includes(opts)), nil
}

func (s *Set[T]) load(ctx context.Context, opts []option.QueryOption) ([]*T, error) {
	if s.err != nil {
		return nil, s.err
	}
	session, err := s.c.session(ctx)
	if err != nil {
		return nil, err
	}

	q := session.Model(new(T))
	for _, opt := range opts {
		q = opt.Apply(q)
	}

	var rows []*T
	if err := q.Find(&rows).Error; err != nil {
		return nil, classify(opRead, s.entity.Name, err)
	}
	return rows, nil
}

// attach tracks rows in place, swapping in instances the context already holds.
func (s *Set[T]) attach(ctx context.Context, rows []*T, includes []string) []*T {
	for i, row := range rows {
		tracked := s.c.attach(ctx, s.entity, row).(*T)
		if tracked != row {
			s.copyNavigations(ctx, tracked, row, includes)
		}
		for _, path := range includes {
			s.c.attachIncluded(ctx, s.entity, reflect.ValueOf(tracked), strings.Split(path, "."))
		}
		rows[i] = tracked
	}
	return rows
}

// copyNavigations hands freshly included related data to an instance that was
// already tracked.
func (s *Set[T]) copyNavigations(ctx context.Context, dst, src *T, includes []string) {
	for _, path := range includes {
		name, _, _ := strings.Cut(path, ".")
		rel, ok := s.entity.Navigation(name)
		if !ok {
			continue
		}
		rel.Field.ReflectValueOf(ctx, reflect.ValueOf(dst)).Set(rel.Field.ReflectValueOf(ctx, reflect.ValueOf(src)))
	}
}

// First returns the first entity matching opts or ErrNotFound.
func (s *Set[T]) First(ctx context.Context, opts ...option.QueryOption) (*T, error) {
	rows, err := s.Query(ctx, append(opts[:len(opts):len(opts)], option.Limit(1))...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, s.entity.Name)
	}
	return rows[0], nil
}

// Count returns how many stored rows match opts. Includes are ignored.
func (s *Set[T]) Count(ctx context.Context, opts ...option.QueryOption) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	session, err := s.c.session(ctx)
	if err != nil {
		return 0, err
	}

	q := session.Model(new(T))
	for _, opt := range opts {
		if _, include := opt.(option.IncludeOption); include {
			continue
		}
		q = opt.Apply(q)
	}

	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, classify(opRead, s.entity.Name, err)
	}
	return n, nil
}

// Page returns one page of entities ordered by key, continuing after the
// cursor in page.PageToken.
func (s *Set[T]) Page(ctx context.Context, page pagination.Pagination, opts ...option.QueryOption) ([]*T, *pagination.PageInfo, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	paginate, err := option.ApplyPagination(page, s.entity.Key.DBName)
	if err != nil {
		return nil, nil, err
	}

	opts = append(opts[:len(opts):len(opts)], paginate)
	rows, err := s.load(ctx, opts)
	if err != nil {
		return nil, nil, err
	}

	size := page.Size()
	info := pagination.BuildCursorPageInfo(rows, size, func(entity *T) string {
		key, _ := s.entity.KeyOf(ctx, entity)
		token, _ := pagination.EncodeCursor(pagination.Cursor{Key: fmt.Sprint(normalize(key))})
		return token
	})
	if len(rows) > size {
		rows = rows[:size]
	}
	// The look-ahead row only decides HasMore and is never tracked.
	if !option.IsNoTracking(opts) {
		rows = s.attach(ctx, rows, option.Includes(opts))
	}
	return rows, info, nil
}

// Local returns the tracked entities of this set that are not marked deleted.
func (s *Set[T]) Local() []*T {
	var out []*T
	if s.err != nil || s.c.closed {
		return out
	}
	for _, e := range s.c.entries {
		if e.mapping == s.entity && e.state != Deleted {
			out = append(out, e.entity.(*T))
		}
	}
	return out
}
