package dbx

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

const (
	// DefaultTagKey is the struct tag holding the column name.
	DefaultTagKey = "db"
	// DefaultIDColumn is the identity column used when none is configured.
	DefaultIDColumn = "id"
)

// Entity is a record with a numeric identity assigned by the store on first insert.
// Identity 0 means the entity has never been stored.
type Entity interface {
	GetID() int64
	SetID(id int64)
}

// BaseEntity can be embedded to satisfy Entity.
//
//	type Note struct {
//	    dbx.BaseEntity
//	    Text string `db:"text"`
//	}
type BaseEntity struct {
	ID int64 `db:"id" json:"id"`
}

func (b *BaseEntity) GetID() int64 { return b.ID }

func (b *BaseEntity) SetID(id int64) { b.ID = id }

// Column maps a struct field to a table column.
type Column struct {
	Name  string
	Field string
	index []int
}

// EntityMeta describes how an entity struct is stored: table, identity column and
// the columns derived from the entity's struct tags.
type EntityMeta struct {
	name     string
	table    string
	idColumn string
	typ      reflect.Type
	columns  []Column
	lookup   map[string]int
}

type MetaOption func(*metaOptions)

type metaOptions struct {
	tagKey   string
	idColumn string
}

// WithTagKey sets the struct tag holding the column names (default "db").
func WithTagKey(key string) MetaOption {
	return func(o *metaOptions) { o.tagKey = key }
}

// WithIDColumn sets the name of the identity column (default "id").
func WithIDColumn(column string) MetaOption {
	return func(o *metaOptions) { o.idColumn = column }
}

// NewEntityMeta builds the metadata of E, which must be a pointer to a struct implementing Entity.
// Embedded structs are flattened, so BaseEntity contributes the id column.
func NewEntityMeta[E Entity](table string, opts ...MetaOption) (*EntityMeta, error) {
	o := metaOptions{tagKey: DefaultTagKey, idColumn: DefaultIDColumn}
	for _, opt := range opts {
		opt(&o)
	}

	t := reflect.TypeOf((*E)(nil)).Elem()
	if t.Kind() != reflect.Ptr || t.Elem().Kind() != reflect.Struct {
		return nil, errors.Errorf("entity type %s must be a pointer to a struct", t)
	}

	if table == "" {
		return nil, errors.Errorf("entity %s: table name is empty", t.Elem().Name())
	}

	meta := &EntityMeta{
		name:     t.Elem().Name(),
		table:    table,
		idColumn: o.idColumn,
		typ:      t.Elem(),
		lookup:   make(map[string]int),
	}

	meta.columns = structColumns(t.Elem(), o.tagKey, nil)
	if len(meta.columns) == 0 {
		return nil, errors.Errorf("entity %s has no tagged columns", meta.name)
	}

	hasID := false

	for i, c := range meta.columns {
		if c.Name == meta.idColumn {
			hasID = true
		}

		meta.lookup[c.Name] = i
		meta.lookup[c.Field] = i
	}

	if !hasID {
		return nil, errors.Errorf("entity %s has no %q column", meta.name, meta.idColumn)
	}

	return meta, nil
}

// MustEntityMeta is like NewEntityMeta but panics on error.
func MustEntityMeta[E Entity](table string, opts ...MetaOption) *EntityMeta {
	meta, err := NewEntityMeta[E](table, opts...)
	if err != nil {
		panic(err)
	}

	return meta
}

func structColumns(t reflect.Type, tagKey string, parent []int) []Column {
	var columns []Column

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		index := append(append([]int{}, parent...), i)

		if field.Anonymous && field.Type.Kind() == reflect.Struct && field.Tag.Get(tagKey) == "" {
			columns = append(columns, structColumns(field.Type, tagKey, index)...)
			continue
		}

		// Skip unexported fields
		if field.PkgPath != "" {
			continue
		}

		tag := field.Tag.Get(tagKey)
		if tag == "" || tag == "-" {
			continue
		}

		columns = append(columns, Column{Name: strings.Split(tag, ",")[0], Field: field.Name, index: index})
	}

	return columns
}

// Name returns the entity (Go type) name, used by entity queries in place of the table.
func (m *EntityMeta) Name() string { return m.name }

func (m *EntityMeta) Table() string { return m.table }

func (m *EntityMeta) IDColumn() string { return m.idColumn }

func (m *EntityMeta) Columns() []Column {
	return append([]Column(nil), m.columns...)
}

func (m *EntityMeta) ColumnNames() []string {
	names := make([]string, len(m.columns))
	for i, c := range m.columns {
		names[i] = c.Name
	}

	return names
}

// Column resolves a Go field name or a column name. Field names match case-insensitively.
func (m *EntityMeta) Column(name string) (Column, bool) {
	if i, ok := m.lookup[name]; ok {
		return m.columns[i], true
	}

	for _, c := range m.columns {
		if strings.EqualFold(c.Field, name) || strings.EqualFold(c.Name, name) {
			return c, true
		}
	}

	return Column{}, false
}

// New returns a pointer to a new zero entity.
func (m *EntityMeta) New() any {
	return reflect.New(m.typ).Interface()
}

// Check verifies that entity is a non-nil pointer to the described struct.
func (m *EntityMeta) Check(entity any) error {
	v := reflect.ValueOf(entity)
	if !v.IsValid() || v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Type() != m.typ {
		return errors.Errorf("expected *%s, got %T", m.name, entity)
	}

	return nil
}

// ID returns the identity of entity; 0 for an entity that is not an Entity.
func (m *EntityMeta) ID(entity any) int64 {
	if e, ok := entity.(Entity); ok {
		return e.GetID()
	}

	return 0
}

// Value returns the current value of the column in entity.
func (m *EntityMeta) Value(entity any, c Column) any {
	return reflect.ValueOf(entity).Elem().FieldByIndex(c.index).Interface()
}

// Field returns the addressable struct field of the column in entity.
func (m *EntityMeta) Field(entity any, c Column) reflect.Value {
	return reflect.ValueOf(entity).Elem().FieldByIndex(c.index)
}

// Values returns the column names and values of entity, leaving out the identity
// column when includeID is false.
func (m *EntityMeta) Values(entity any, includeID bool) ([]string, []any) {
	v := reflect.ValueOf(entity).Elem()
	names := make([]string, 0, len(m.columns))
	values := make([]any, 0, len(m.columns))

	for _, c := range m.columns {
		if !includeID && c.Name == m.idColumn {
			continue
		}

		names = append(names, c.Name)
		values = append(values, v.FieldByIndex(c.index).Interface())
	}

	return names, values
}

// ScanTargets returns pointers to the fields of entity in Columns order.
func (m *EntityMeta) ScanTargets(entity any) []any {
	v := reflect.ValueOf(entity).Elem()
	targets := make([]any, len(m.columns))

	for i, c := range m.columns {
		targets[i] = v.FieldByIndex(c.index).Addr().Interface()
	}

	return targets
}

func (m *EntityMeta) String() string {
	return fmt.Sprintf("%s(%s)", m.name, m.table)
}

// DeriveColumnNamesFromTags extracts column names from a struct's tags.
// It uses reflection over the fields of a struct and retrieves the tag values
// specified by `tagKey` (e.g., "db"). Only exported fields that contain a non-empty tag
// and are not marked with `"-"` are included. Embedded structs without a tag are flattened.
//
// Example:
//
//	type Example struct {
//	    ID   int    `db:"id"`
//	    Name string `db:"name"`
//	    Age  int    `db:"age"`
//	}
//	columns, _ := DeriveColumnNamesFromTags(Example{}, "db")
//	// columns would be: []string{"id", "name", "age"}
func DeriveColumnNamesFromTags[T any](entity T, tagKey string) ([]string, error) {
	t := reflect.TypeOf(entity)
	if t == nil {
		return nil, errors.New("expected a struct type")
	}

	// Check if it's a pointer, and dereference if necessary
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if t.Kind() != reflect.Struct {
		return nil, errors.New("expected a struct type")
	}

	var columnNames []string
	for _, c := range structColumns(t, tagKey, nil) {
		columnNames = append(columnNames, c.Name)
	}

	return columnNames, nil
}
