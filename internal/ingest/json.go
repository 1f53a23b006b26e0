// Package ingest loads datasets into the shapes the grid consumes: record
// slices, node trees and SQLite results tables.
package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/ohler55/ojg/jp"

	"github.com/agentic-research/vgrid/internal/provider"
	"github.com/agentic-research/vgrid/internal/row"
)

// DefaultSelector picks the elements of a top-level array.
const DefaultSelector = "$[*]"

// DecodeJSON parses a JSON document keeping numbers as json.Number.
func DecodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return v, nil
}

// Select returns the records selector picks from root.
func Select(root any, selector string) ([]any, error) {
	if selector == "" {
		selector = DefaultSelector
	}
	x, err := jp.ParseString(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid jsonpath '%s': %w", selector, err)
	}
	return x.Get(root), nil
}

// LoadJSON reads path from fs and selects its records.
func LoadJSON(fs billy.Filesystem, path, selector string) ([]any, error) {
	data, err := util.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	root, err := DecodeJSON(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return Select(root, selector)
}

// PathID returns an id function reading expr from each record, falling back
// to the record position when nothing matches.
func PathID(expr string) (func(int, any) string, error) {
	x, err := jp.ParseString(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid jsonpath '%s': %w", expr, err)
	}
	return func(i int, rec any) string {
		switch v := x.First(rec).(type) {
		case nil:
			return PositionID(i, rec)
		case string:
			return v
		default:
			return fmt.Sprint(v)
		}
	}, nil
}

// Nodes wraps records as leaf nodes. When childrenKey is set, map records
// carrying an array under that key become parents of those children, which
// makes them expandable rows.
func Nodes(records []any, childrenKey string) []*row.Node {
	out := make([]*row.Node, 0, len(records))
	for i, rec := range records {
		out = append(out, node(PositionID(i, rec), rec, childrenKey))
	}
	return out
}

func node(id string, rec any, childrenKey string) *row.Node {
	n := row.NewItemNode(provider.Record{ID: id, Value: rec})
	if childrenKey == "" {
		return n
	}
	m, ok := rec.(map[string]any)
	if !ok {
		return n
	}
	kids, ok := m[childrenKey].([]any)
	if !ok {
		return n
	}
	for i, k := range kids {
		n.Add(node(fmt.Sprintf("%s/%d", id, i), k, childrenKey))
	}
	return n
}

// RecordNodes wraps stored records as leaf nodes.
func RecordNodes(recs []provider.Record) []*row.Node {
	out := make([]*row.Node, len(recs))
	for i, r := range recs {
		out[i] = row.NewItemNode(r)
	}
	return out
}
