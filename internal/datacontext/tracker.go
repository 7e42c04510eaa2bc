package datacontext

import (
	"context"
	"fmt"
	"reflect"

	"github.com/smallbiznis/zza/internal/mapping"
)

// State is the tracking state of an entity within one context.
type State int

const (
	Detached State = iota
	Unchanged
	Added
	Modified
	Deleted
)

func (s State) String() string {
	switch s {
	case Unchanged:
		return "unchanged"
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	default:
		return "detached"
	}
}

// entry tracks one entity pointer. Change detection diffs the entity's
// current column values against original, the snapshot taken when it was
// loaded or last saved.
type entry struct {
	entity   any
	mapping  *mapping.Entity
	state    State
	original map[string]any

	// fullUpdate writes every column, for entities handed to Update.
	fullUpdate bool
}

func (e *entry) key(ctx context.Context) (any, bool) {
	key, zero := e.mapping.KeyOf(ctx, e.entity)
	return normalize(key), zero
}

func (e *entry) originalKey() any {
	return e.original[e.mapping.Key.DBName]
}

func (e *entry) String() string {
	return fmt.Sprintf("%s(%v)", e.mapping.Name, e.displayKey())
}

func (e *entry) displayKey() any {
	key, zero := e.mapping.KeyOf(context.Background(), e.entity)
	if zero {
		return "new"
	}
	return normalize(key)
}

func (e *entry) takeSnapshot(ctx context.Context) {
	values := e.mapping.Values(ctx, e.entity)
	for column, v := range values {
		values[column] = normalize(v)
	}
	e.original = values
}

// changes returns the columns whose value differs from the snapshot, with
// their current values.
func (e *entry) changes(ctx context.Context) map[string]any {
	rv := reflect.ValueOf(e.entity)
	out := map[string]any{}
	for _, f := range e.mapping.Columns {
		current, _ := f.ValueOf(ctx, rv)
		if e.fullUpdate || !reflect.DeepEqual(normalize(current), e.original[f.DBName]) {
			out[f.DBName] = current
		}
	}
	return out
}

// detectChanges moves an unchanged entity to Modified when its columns differ
// from the snapshot, and back when they no longer do.
func (e *entry) detectChanges(ctx context.Context) {
	if e.state != Unchanged && e.state != Modified {
		return
	}
	if e.fullUpdate {
		e.state = Modified
		return
	}
	if len(e.changes(ctx)) > 0 || e.keyModified(ctx) {
		e.state = Modified
	} else {
		e.state = Unchanged
	}
}

// keyModified reports whether the key of a persisted entity was reassigned.
func (e *entry) keyModified(ctx context.Context) bool {
	if e.original == nil {
		return false
	}
	key, _ := e.key(ctx)
	return !reflect.DeepEqual(key, e.originalKey())
}

// restore writes the snapshot back onto the entity.
func (e *entry) restore(ctx context.Context) {
	if e.original == nil {
		return
	}
	rv := reflect.ValueOf(e.entity)
	fields := append(e.mapping.Columns[:len(e.mapping.Columns):len(e.mapping.Columns)], e.mapping.Key)
	for _, f := range fields {
		assign(f.ReflectValueOf(ctx, rv), e.original[f.DBName])
	}
}

func assign(field reflect.Value, v any) {
	if !field.CanSet() {
		return
	}
	if v == nil {
		field.Set(reflect.Zero(field.Type()))
		return
	}
	value := reflect.ValueOf(v)
	if field.Kind() == reflect.Pointer && value.Type().AssignableTo(field.Type().Elem()) {
		ptr := reflect.New(field.Type().Elem())
		ptr.Elem().Set(value)
		field.Set(ptr)
		return
	}
	if value.Type().AssignableTo(field.Type()) {
		field.Set(value)
	}
}

// normalize dereferences pointers so snapshots hold copies rather than
// aliases of the entity's memory.
func normalize(v any) any {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil
	}
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		return rv.Elem().Interface()
	}
	return v
}
