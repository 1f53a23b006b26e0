package grouping

import (
	"fmt"
	"strings"

	"github.com/agentic-research/vgrid/api"
	"github.com/agentic-research/vgrid/internal/groupstate"
)

// Direction orders buckets or leaves.
type Direction uint8

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return groupstate.Descending
	}
	return groupstate.Ascending
}

// ParseDirection accepts "", "asc", "ascending", "desc" and "descending".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asc", groupstate.Ascending:
		return Ascending, nil
	case "desc", groupstate.Descending:
		return Descending, nil
	}
	return 0, fmt.Errorf("unknown sort direction %q", s)
}

// GroupDescriptor describes one grouping level. Index 0 of a request's
// Groups is the outermost level.
type GroupDescriptor struct {
	ColumnKey       string
	Adapter         Adapter
	SortDirection   Direction
	DefaultExpanded bool
	Aggregates      []AggregateDescriptor
	Metadata        map[string]string
}

// SortDescriptor orders leaves within their bucket.
type SortDescriptor struct {
	ColumnKey string
	Value     func(item any) any // defaults to FieldValue(item, ColumnKey)
	Direction Direction
}

// Request is one grouping/sort/filter configuration.
type Request struct {
	Groups []GroupDescriptor
	// Filter keeps the root items it returns true for. Nil keeps everything.
	Filter func(item any) bool
	// Sort orders leaves, stably, before bucketing.
	Sort []SortDescriptor
	// Aggregates apply to every level (group placements) and to the grid
	// footer (grid placements), in addition to per-level aggregates.
	Aggregates []AggregateDescriptor
}

// Layout returns the serializable form of the request's groups.
func (r Request) Layout() []api.GroupLayout {
	out := make([]api.GroupLayout, len(r.Groups))
	for i, g := range r.Groups {
		out[i] = api.GroupLayout{
			ColumnKey:       g.ColumnKey,
			SortDirection:   g.SortDirection.String(),
			DefaultExpanded: g.DefaultExpanded,
			Metadata:        g.Metadata,
		}
	}
	return out
}

func (r Request) validate() error {
	for i, g := range r.Groups {
		if g.Adapter == nil {
			return fmt.Errorf("group %d (%s): no adapter", i, g.ColumnKey)
		}
		if !g.Adapter.CanGroup() {
			return fmt.Errorf("group %d: column %s cannot be grouped", i, g.ColumnKey)
		}
		for _, a := range g.Aggregates {
			if a.Aggregator == nil {
				return fmt.Errorf("group %d: aggregate %s has no aggregator", i, a.ColumnKey)
			}
		}
	}
	for _, a := range r.Aggregates {
		if a.Aggregator == nil {
			return fmt.Errorf("aggregate %s has no aggregator", a.ColumnKey)
		}
	}
	return nil
}

// Descriptors resolves a persisted layout against the registry.
func (r *Registry) Descriptors(groups []api.GroupLayout) ([]GroupDescriptor, error) {
	out := make([]GroupDescriptor, 0, len(groups))
	for _, g := range groups {
		dir, err := ParseDirection(g.SortDirection)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", g.ColumnKey, err)
		}
		a := r.Adapter(g.ColumnKey)
		if !a.CanGroup() {
			return nil, fmt.Errorf("column %s cannot be grouped", g.ColumnKey)
		}
		out = append(out, GroupDescriptor{
			ColumnKey:       g.ColumnKey,
			Adapter:         a,
			SortDirection:   dir,
			DefaultExpanded: g.DefaultExpanded,
			Metadata:        g.Metadata,
		})
	}
	return out, nil
}
