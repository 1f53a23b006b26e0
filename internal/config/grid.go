package config

import (
	"fmt"

	"github.com/agentic-research/vgrid/internal/grouping"
)

// Registry binds every configured column to its JSONPath adapter.
func (c Config) Registry() (*grouping.Registry, error) {
	reg := grouping.NewRegistry()
	for _, col := range c.Columns {
		if col.Path == "" {
			continue
		}
		if err := reg.RegisterPath(col.Key, col.Path); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Request resolves the configured groups and aggregates against reg.
func (c Config) Request(reg *grouping.Registry) (grouping.Request, error) {
	groups, err := reg.Descriptors(c.Groups)
	if err != nil {
		return grouping.Request{}, err
	}
	aggs, err := c.AggregateDescriptors(reg)
	if err != nil {
		return grouping.Request{}, err
	}
	return grouping.Request{Groups: groups, Aggregates: aggs}, nil
}

// AggregateDescriptors resolves the configured aggregates against reg.
func (c Config) AggregateDescriptors(reg *grouping.Registry) ([]grouping.AggregateDescriptor, error) {
	out := make([]grouping.AggregateDescriptor, 0, len(c.Aggregates))
	for _, a := range c.Aggregates {
		fn, err := grouping.AggregatorByName(a.Function)
		if err != nil {
			return nil, fmt.Errorf("aggregate %s: %w", a.Column, err)
		}
		placement, err := grouping.ParsePlacement(a.Placement)
		if err != nil {
			return nil, fmt.Errorf("aggregate %s: %w", a.Column, err)
		}
		out = append(out, grouping.AggregateDescriptor{
			ColumnKey:  a.Column,
			Placement:  placement,
			Aggregator: fn,
			Value:      reg.Value(a.Column),
		})
	}
	return out, nil
}
