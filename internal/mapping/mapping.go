// Package mapping computes how entity structs map onto tables. The mapping is
// built once per process by Init and shared, read-only, by every data context.
//
// The conventions are fixed:
//   - table and column names equal the Go type and field names verbatim;
//   - one-to-many relationships restrict deletes unless CascadeOnDelete opts in;
//   - keys are generated by the store unless KeyNotGenerated is given.
package mapping

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"gorm.io/gorm/schema"
)

var (
	ErrConfiguration  = errors.New("invalid_mapping")
	ErrUnmappedEntity = errors.New("unmapped_entity")
)

type entityConfig struct {
	value           any
	keyNotGenerated bool
	cascade         map[string]bool
}

type builder struct {
	entities []*entityConfig
	prefix   string
}

// Option configures the model built by Init.
type Option func(*builder)

// EntityOption configures one registered entity.
type EntityOption func(*entityConfig)

// Register maps the struct pointed to by value, e.g. &model.Customer{}.
func Register(value any, opts ...EntityOption) Option {
	return func(b *builder) {
		cfg := &entityConfig{value: value, cascade: map[string]bool{}}
		for _, opt := range opts {
			opt(cfg)
		}
		b.entities = append(b.entities, cfg)
	}
}

// TablePrefix is prepended to every table name. The entity name itself is
// never transformed.
func TablePrefix(prefix string) Option {
	return func(b *builder) {
		b.prefix = prefix
	}
}

// KeyNotGenerated makes the caller responsible for assigning the key before
// the entity is inserted.
func KeyNotGenerated() EntityOption {
	return func(c *entityConfig) {
		c.keyNotGenerated = true
	}
}

// CascadeOnDelete lets deleting the entity remove the dependents reachable
// through the named one-to-many navigation.
func CascadeOnDelete(navigation string) EntityOption {
	return func(c *entityConfig) {
		c.cascade[navigation] = true
	}
}

// Model is the immutable result of Init.
type Model struct {
	namer    schema.NamingStrategy
	entities map[reflect.Type]*Entity
	ordered  []*Entity
}

// Entity describes one mapped struct.
type Entity struct {
	Name         string
	Type         reflect.Type
	Schema       *schema.Schema
	Table        string
	Key          *schema.Field
	KeyGenerated bool

	// Columns are the persisted fields other than the key.
	Columns  []*schema.Field
	Required []*schema.Field

	// Dependents are relationships where this entity is the principal.
	Dependents []*Relationship
	// Principals are relationships where this entity is the dependent.
	Principals []*Relationship
}

// Relationship is a one-to-many (or one-to-one) link between a principal and
// the dependents that carry its key in ForeignKey.
type Relationship struct {
	Name       string
	Principal  *Entity
	Dependent  *Entity
	ForeignKey *schema.Field
	Cascade    bool
}

func (r *Relationship) String() string {
	return r.Principal.Name + "." + r.Name
}

// Init builds the mapping for every registered entity.
func Init(opts ...Option) (*Model, error) {
	b := &builder{}
	for _, opt := range opts {
		opt(b)
	}
	if len(b.entities) == 0 {
		return nil, fmt.Errorf("%w: no entities registered", ErrConfiguration)
	}

	m := &Model{
		namer: schema.NamingStrategy{
			TablePrefix:   b.prefix,
			SingularTable: true,
			NoLowerCase:   true,
		},
		entities: make(map[reflect.Type]*Entity, len(b.entities)),
	}

	cache := &sync.Map{}
	registered := make([]*Entity, 0, len(b.entities))
	for _, cfg := range b.entities {
		e, err := m.parse(cfg, cache)
		if err != nil {
			return nil, err
		}
		if _, dup := m.entities[e.Type]; dup {
			return nil, fmt.Errorf("%w: %s registered twice", ErrConfiguration, e.Name)
		}
		m.entities[e.Type] = e
		registered = append(registered, e)
	}

	for i, cfg := range b.entities {
		if err := m.link(registered[i], cfg); err != nil {
			return nil, err
		}
	}

	m.ordered = orderPrincipalsFirst(registered)
	return m, nil
}

func (m *Model) parse(cfg *entityConfig, cache *sync.Map) (*Entity, error) {
	if cfg.value == nil {
		return nil, fmt.Errorf("%w: nil entity", ErrConfiguration)
	}
	sch, err := schema.Parse(cfg.value, cache, m.namer)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %T: %v", ErrConfiguration, cfg.value, err)
	}
	if len(sch.PrimaryFields) != 1 || sch.PrioritizedPrimaryField == nil {
		return nil, fmt.Errorf("%w: %s must declare exactly one key field", ErrConfiguration, sch.Name)
	}

	key := sch.PrioritizedPrimaryField
	e := &Entity{
		Name:   sch.Name,
		Type:   sch.ModelType,
		Schema: sch,
		Table:  sch.Table,
		Key:    key,
	}

	if cfg.keyNotGenerated {
		if v, ok := key.TagSettings["AUTOINCREMENT"]; ok && !strings.EqualFold(v, "false") {
			return nil, fmt.Errorf("%w: %s.%s is tagged autoIncrement but the key is client assigned", ErrConfiguration, e.Name, key.Name)
		}
		if key.HasDefaultValue && key.DefaultValue != "" {
			return nil, fmt.Errorf("%w: %s.%s has a store default but the key is client assigned", ErrConfiguration, e.Name, key.Name)
		}
	} else {
		e.KeyGenerated = key.AutoIncrement || key.HasDefaultValue
	}

	for _, f := range sch.Fields {
		if f.DBName == "" || f.PrimaryKey {
			continue
		}
		e.Columns = append(e.Columns, f)
		if f.NotNull && !f.HasDefaultValue && f.Creatable {
			e.Required = append(e.Required, f)
		}
	}

	return e, nil
}

func (m *Model) link(e *Entity, cfg *entityConfig) error {
	rels := append(append([]*schema.Relationship{}, e.Schema.Relationships.HasMany...), e.Schema.Relationships.HasOne...)
	known := make(map[string]bool, len(rels))
	for _, rel := range rels {
		known[rel.Name] = true

		dependent, ok := m.entities[rel.FieldSchema.ModelType]
		if !ok {
			return fmt.Errorf("%w: %s.%s points at unmapped %s", ErrConfiguration, e.Name, rel.Name, rel.FieldSchema.Name)
		}

		var fk *schema.Field
		for _, ref := range rel.References {
			if ref.OwnPrimaryKey && ref.PrimaryKey != nil {
				fk = ref.ForeignKey
			}
		}
		if fk == nil {
			return fmt.Errorf("%w: %s.%s has no foreign key", ErrConfiguration, e.Name, rel.Name)
		}

		r := &Relationship{
			Name:       rel.Name,
			Principal:  e,
			Dependent:  dependent,
			ForeignKey: fk,
			Cascade:    cfg.cascade[rel.Name],
		}
		e.Dependents = append(e.Dependents, r)
		dependent.Principals = append(dependent.Principals, r)
	}

	for name := range cfg.cascade {
		if !known[name] {
			return fmt.Errorf("%w: %s has no one-to-many navigation %q", ErrConfiguration, e.Name, name)
		}
	}
	return nil
}

func orderPrincipalsFirst(entities []*Entity) []*Entity {
	out := make([]*Entity, 0, len(entities))
	seen := make(map[*Entity]bool, len(entities))
	var visit func(e *Entity)
	visit = func(e *Entity) {
		if seen[e] {
			return
		}
		seen[e] = true
		for _, r := range e.Principals {
			if r.Principal != e {
				visit(r.Principal)
			}
		}
		out = append(out, e)
	}
	for _, e := range entities {
		visit(e)
	}
	return out
}

// Namer is the naming strategy every store handle must be opened with.
func (m *Model) Namer() schema.Namer {
	return m.namer
}

// Entities returns every mapped entity, principals before their dependents.
func (m *Model) Entities() []*Entity {
	return append([]*Entity(nil), m.ordered...)
}

// Entity returns the mapping of v, a struct or a pointer to one.
func (m *Model) Entity(v any) (*Entity, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: nil", ErrUnmappedEntity)
	}
	return m.EntityOf(reflect.TypeOf(v))
}

func (m *Model) EntityOf(t reflect.Type) (*Entity, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	e, ok := m.entities[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnmappedEntity, t)
	}
	return e, nil
}

// KeyOf returns the key of entity and whether it is the zero value.
func (e *Entity) KeyOf(ctx context.Context, entity any) (any, bool) {
	return e.Key.ValueOf(ctx, reflect.ValueOf(entity))
}

func (e *Entity) SetKey(ctx context.Context, entity any, key any) error {
	return e.Key.Set(ctx, reflect.ValueOf(entity), key)
}

// Values returns the persisted column values of entity keyed by column name,
// the key included.
func (e *Entity) Values(ctx context.Context, entity any) map[string]any {
	rv := reflect.ValueOf(entity)
	out := make(map[string]any, len(e.Columns)+1)
	key, _ := e.Key.ValueOf(ctx, rv)
	out[e.Key.DBName] = key
	for _, f := range e.Columns {
		v, _ := f.ValueOf(ctx, rv)
		out[f.DBName] = v
	}
	return out
}

// MissingRequired lists the required columns entity leaves at their zero value.
func (e *Entity) MissingRequired(ctx context.Context, entity any) []string {
	rv := reflect.ValueOf(entity)
	var missing []string
	for _, f := range e.Required {
		if _, zero := f.ValueOf(ctx, rv); zero {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

// Column returns the persisted field with the given Go or column name.
func (e *Entity) Column(name string) (*schema.Field, bool) {
	f := e.Schema.LookUpField(name)
	if f == nil || f.DBName == "" {
		return nil, false
	}
	return f, true
}

// Navigation returns the relationship behind a navigation field of e, in
// either direction.
func (e *Entity) Navigation(name string) (*schema.Relationship, bool) {
	rel, ok := e.Schema.Relationships.Relations[name]
	return rel, ok
}
