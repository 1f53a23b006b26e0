package grouping

import (
	"fmt"

	"github.com/ohler55/ojg/jp"
)

// Adapter extracts and orders group keys for one column.
type Adapter interface {
	// Key returns the raw group key of item. Nil and empty keys end up in the
	// Blank bucket.
	Key(item any) any
	// Label renders the header text of a bucket.
	Label(key any, level, count int) string
	// Compare orders two normalized keys.
	Compare(a, b any) int
	// CanGroup reports whether the column may be grouped at all.
	CanGroup() bool
}

// Dataer is implemented by items that wrap a JSON-shaped record.
type Dataer interface {
	Data() any
}

// Fielder is implemented by items that resolve named fields themselves.
type Fielder interface {
	Field(name string) any
}

// FieldValue reads the named field of item. Items may be maps, Fielders, or
// Dataers wrapping either.
func FieldValue(item any, name string) any {
	if f, ok := item.(Fielder); ok {
		return f.Field(name)
	}
	if d, ok := item.(Dataer); ok {
		item = d.Data()
	}
	switch v := item.(type) {
	case map[string]any:
		return v[name]
	case map[string]string:
		s, ok := v[name]
		if !ok {
			return nil
		}
		return s
	case Fielder:
		return v.Field(name)
	}
	return nil
}

// FieldAdapter groups by a named field. Value, LabelFunc and Comparer
// override the defaults when set.
type FieldAdapter struct {
	Field     string
	Value     func(item any) any
	LabelFunc func(key any, level, count int) string
	Comparer  func(a, b any) int
	Disabled  bool
}

func (a *FieldAdapter) Key(item any) any {
	if a.Value != nil {
		return a.Value(item)
	}
	return FieldValue(item, a.Field)
}

func (a *FieldAdapter) Label(key any, level, count int) string {
	if a.LabelFunc != nil {
		return a.LabelFunc(key, level, count)
	}
	return KeyText(key)
}

func (a *FieldAdapter) Compare(x, y any) int {
	if a.Comparer != nil {
		return a.Comparer(x, y)
	}
	return CompareKeys(x, y)
}

func (a *FieldAdapter) CanGroup() bool { return !a.Disabled }

// JSONPathAdapter groups by the first value a JSONPath expression selects
// from the item's record.
type JSONPathAdapter struct {
	expr jp.Expr
	src  string
}

// NewJSONPathAdapter compiles expr.
func NewJSONPathAdapter(expr string) (*JSONPathAdapter, error) {
	x, err := jp.ParseString(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid jsonpath '%s': %w", expr, err)
	}
	return &JSONPathAdapter{expr: x, src: expr}, nil
}

// Expr returns the source expression.
func (a *JSONPathAdapter) Expr() string { return a.src }

func (a *JSONPathAdapter) Key(item any) any {
	if d, ok := item.(Dataer); ok {
		item = d.Data()
	}
	return a.expr.First(item)
}

func (a *JSONPathAdapter) Label(key any, _, _ int) string { return KeyText(key) }

func (a *JSONPathAdapter) Compare(x, y any) int { return CompareKeys(x, y) }

func (a *JSONPathAdapter) CanGroup() bool { return true }

// Registry binds column keys to adapters. Columns without an explicit
// binding fall back to a FieldAdapter over the column key.
type Registry struct {
	adapters map[string]Adapter
	values   map[string]func(any) any
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		values:   make(map[string]func(any) any),
	}
}

// Register binds column to adapter.
func (r *Registry) Register(column string, a Adapter) {
	r.adapters[column] = a
	r.values[column] = a.Key
}

// RegisterPath binds column to a JSONPath adapter.
func (r *Registry) RegisterPath(column, expr string) error {
	a, err := NewJSONPathAdapter(expr)
	if err != nil {
		return fmt.Errorf("column %s: %w", column, err)
	}
	r.Register(column, a)
	return nil
}

// Adapter returns the adapter bound to column.
func (r *Registry) Adapter(column string) Adapter {
	if a, ok := r.adapters[column]; ok {
		return a
	}
	return &FieldAdapter{Field: column}
}

// Value returns an accessor for column's cell value.
func (r *Registry) Value(column string) func(any) any {
	if v, ok := r.values[column]; ok {
		return v
	}
	return func(item any) any { return FieldValue(item, column) }
}
