// Package mcpserver exposes a grid over the Model Context Protocol: page
// through rows, toggle expansion, regroup, and read or persist the layout.
package mcpserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentic-research/vgrid/api"
	"github.com/agentic-research/vgrid/internal/flat"
	"github.com/agentic-research/vgrid/internal/grouping"
	"github.com/agentic-research/vgrid/internal/groupstate"
	"github.com/agentic-research/vgrid/internal/row"
)

// MaxPage bounds a single grid_rows call.
const MaxPage = 500

// RowDTO is the wire form of one flattened row.
type RowDTO struct {
	Index       int               `json:"index"`
	Kind        string            `json:"kind"`
	Level       int               `json:"level"`
	HasChildren bool              `json:"has_children,omitempty"`
	IsExpanded  bool              `json:"is_expanded,omitempty"`
	Path        string            `json:"path,omitempty"`
	Label       string            `json:"label,omitempty"`
	ItemCount   int               `json:"item_count,omitempty"`
	Values      map[string]string `json:"values,omitempty"`
}

// GroupArg is one requested grouping level.
type GroupArg struct {
	Column          string `json:"column"`
	Direction       string `json:"direction,omitempty"`
	DefaultExpanded *bool  `json:"default_expanded,omitempty"`
}

// Service adapts a flat source to the tool handlers.
type Service struct {
	src        *flat.Source
	reg        *grouping.Registry
	columns    []row.Column
	aggregates []grouping.AggregateDescriptor
	layout     *groupstate.LayoutFile
}

// NewService returns a service over src. Cell values are rendered for
// columns; aggregates apply to every regrouping.
func NewService(src *flat.Source, reg *grouping.Registry, columns []row.Column, aggregates []grouping.AggregateDescriptor) *Service {
	if reg == nil {
		reg = grouping.NewRegistry()
	}
	return &Service{src: src, reg: reg, columns: columns, aggregates: aggregates}
}

// WithLayoutFile enables grid_layout persistence.
func (s *Service) WithLayoutFile(f groupstate.LayoutFile) *Service {
	s.layout = &f
	return s
}

// Rows returns up to count rows starting at start, and the row count.
func (s *Service) Rows(ctx context.Context, start, count int) ([]RowDTO, int, error) {
	if count > MaxPage {
		count = MaxPage
	}
	total := s.src.RowCount()
	if start >= total {
		return []RowDTO{}, total, nil
	}
	page, err := s.src.GetPage(ctx, row.PageRequest{Start: start, Count: count})
	if err != nil {
		return nil, total, err
	}
	out := make([]RowDTO, len(page.Items))
	for i, r := range page.Items {
		out[i] = s.dto(start+i, r)
	}
	return out, total, nil
}

func (s *Service) dto(index int, r row.Row) RowDTO {
	d := RowDTO{
		Index:       index,
		Kind:        r.Kind.String(),
		Level:       r.Level,
		HasChildren: r.HasChildren,
		IsExpanded:  r.IsExpanded,
	}
	switch {
	case r.IsPlaceholder:
		d.Kind = "placeholder"
	case r.Group != nil:
		d.Path = r.Group.Path
		d.Label = r.Group.Label
		d.ItemCount = r.Group.ItemCount
	case r.Summary != nil:
		d.Path = r.Summary.Path
		d.Values = r.Summary.Values
	default:
		d.Values = make(map[string]string, len(s.columns))
		for _, c := range s.columns {
			d.Values[c.Key] = grouping.FormatValue(s.reg.Value(c.Key)(r.Item))
		}
	}
	return d
}

// Toggle flips the expansion of the row at index.
func (s *Service) Toggle(index int) (RowDTO, int, error) {
	if err := s.src.ToggleExpansion(index); err != nil {
		return RowDTO{}, 0, err
	}
	return s.dto(index, s.src.GetRow(index)), s.src.RowCount(), nil
}

// Group rebuilds the grid under groups and waits for the rebuild.
// An empty groups list removes grouping.
func (s *Service) Group(ctx context.Context, groups []GroupArg) (int, error) {
	layout := make([]api.GroupLayout, 0, len(groups))
	for _, g := range groups {
		if g.Column == "" {
			return 0, errors.New("group column is required")
		}
		gl := api.GroupLayout{ColumnKey: g.Column, SortDirection: g.Direction, DefaultExpanded: true}
		if g.DefaultExpanded != nil {
			gl.DefaultExpanded = *g.DefaultExpanded
		}
		layout = append(layout, gl)
	}
	descs, err := s.reg.Descriptors(layout)
	if err != nil {
		return 0, err
	}
	req := s.src.Request()
	req.Groups = descs
	req.Aggregates = s.aggregates
	if err := s.src.ApplyGrouping(ctx, req); err != nil {
		return 0, fmt.Errorf("apply grouping: %w", err)
	}
	return s.src.RowCount(), nil
}

// Layout returns the current layout, saving it first when save is set.
func (s *Service) Layout(save bool) (api.Layout, error) {
	store := s.src.Store()
	if save {
		if s.layout == nil {
			return api.Layout{}, errors.New("no layout file configured")
		}
		if err := s.layout.Save(store); err != nil {
			return api.Layout{}, err
		}
	}
	return store.CreateSnapshot().Layout(), nil
}
