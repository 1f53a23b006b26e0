// Package grouping buckets items into a multi-level group tree, computes
// aggregates and emits the synthetic group and summary rows of a grouped
// grid.
//
// Build never mutates its input. The tree it returns is ready to be flattened:
// a group node's children are its sub-buckets (or its leaves) followed by its
// summary node, so collapsing a group hides its footer too.
package grouping

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/agentic-research/vgrid/internal/groupstate"
	"github.com/agentic-research/vgrid/internal/row"
)

// ErrInconsistentState is returned when a rebuild step panics. The partial
// result is discarded.
var ErrInconsistentState = errors.New("inconsistent grouping state")

// checkEvery is how many items are bucketed between cancellation checks.
const checkEvery = 256

// Result is a finished group tree.
type Result struct {
	Roots  []*row.Node
	Groups int // group rows emitted
	Leaves int // leaf items after filtering
}

// Build groups the root items of items under req. Group expansion state
// comes from store, which gets a default entry for every new path; store may
// be nil, in which case every group takes its descriptor default.
func Build(ctx context.Context, items []*row.Node, req Request, store *groupstate.Store) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("%w: %v", ErrInconsistentState, r)
		}
	}()
	if err := req.validate(); err != nil {
		return nil, err
	}

	b := &builder{ctx: ctx, req: req, store: store}
	leaves, err := b.filter(items)
	if err != nil {
		return nil, err
	}
	b.sortLeaves(leaves)

	roots, err := b.group(leaves, 0, "")
	if err != nil {
		return nil, err
	}
	if aggs := b.gridAggregates(); len(aggs) > 0 {
		footer, err := b.summarize(row.ScopeGrid, "", 0, nil, leaves, aggs)
		if err != nil {
			return nil, err
		}
		roots = append(roots, footer)
	}
	return &Result{Roots: roots, Groups: b.groups, Leaves: len(leaves)}, nil
}

type builder struct {
	ctx    context.Context
	req    Request
	store  *groupstate.Store
	groups int
}

type bucket struct {
	key   any
	text  string
	nodes []*row.Node
}

func (b *builder) filter(items []*row.Node) ([]*row.Node, error) {
	out := make([]*row.Node, 0, len(items))
	for i, n := range items {
		if i%checkEvery == 0 {
			if err := b.ctx.Err(); err != nil {
				return nil, err
			}
		}
		if b.req.Filter == nil || b.req.Filter(n.Row.Item) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (b *builder) sortLeaves(nodes []*row.Node) {
	if len(b.req.Sort) == 0 {
		return
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		for _, s := range b.req.Sort {
			get := s.Value
			if get == nil {
				col := s.ColumnKey
				get = func(item any) any { return FieldValue(item, col) }
			}
			c := CompareKeys(normalizeKey(get(nodes[i].Row.Item)), normalizeKey(get(nodes[j].Row.Item)))
			if s.Direction == Descending {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
}

func (b *builder) group(nodes []*row.Node, level int, parent string) ([]*row.Node, error) {
	if level == len(b.req.Groups) {
		return nodes, nil
	}
	desc := b.req.Groups[level]

	var order []*bucket
	byText := make(map[string]*bucket)
	for i, n := range nodes {
		if i%checkEvery == 0 {
			if err := b.ctx.Err(); err != nil {
				return nil, err
			}
		}
		key := normalizeKey(desc.Adapter.Key(n.Row.Item))
		text := KeyText(key)
		bk, ok := byText[text]
		if !ok {
			bk = &bucket{key: key, text: text}
			byText[text] = bk
			order = append(order, bk)
		}
		bk.nodes = append(bk.nodes, n)
	}

	sort.SliceStable(order, func(i, j int) bool {
		c := desc.Adapter.Compare(order[i].key, order[j].key)
		if desc.SortDirection == Descending {
			c = -c
		}
		return c < 0
	})

	aggs := b.groupAggregates(level)
	out := make([]*row.Node, 0, len(order))
	for _, bk := range order {
		if err := b.ctx.Err(); err != nil {
			return nil, err
		}
		path := groupstate.JoinPath(parent, desc.ColumnKey, bk.text)
		children, err := b.group(bk.nodes, level+1, path)
		if err != nil {
			return nil, err
		}

		expanded := desc.DefaultExpanded
		if b.store != nil {
			expanded = b.store.GetOrCreate(path, level, bk.key, desc.DefaultExpanded).IsExpanded
		}
		info := &row.GroupInfo{
			Path:      path,
			Column:    desc.ColumnKey,
			Key:       bk.key,
			Label:     desc.Adapter.Label(bk.key, level, len(bk.nodes)),
			Level:     level,
			ItemCount: len(bk.nodes),
		}
		node := &row.Node{
			Row: row.Row{
				Item:       info,
				Level:      level,
				IsExpanded: expanded,
				Kind:       row.KindGroup,
				Group:      info,
				Caps:       groupCapability(bk.nodes),
			},
		}
		node.Add(children...)
		if len(aggs) > 0 {
			footer, err := b.summarize(row.ScopeGroup, path, level+1, bk.key, bk.nodes, aggs)
			if err != nil {
				return nil, err
			}
			node.Add(footer)
		}
		b.groups++
		out = append(out, node)
	}
	return out, nil
}

func (b *builder) summarize(scope row.SummaryScope, path string, level int, key any, nodes []*row.Node, aggs []AggregateDescriptor) (*row.Node, error) {
	items := make([]any, len(nodes))
	for i, n := range nodes {
		items[i] = n.Row.Item
	}
	info := &row.SummaryInfo{
		Path:   path,
		Scope:  scope,
		Values: make(map[string]string, len(aggs)),
		Raw:    make(map[string]any, len(aggs)),
	}
	for _, a := range aggs {
		v, err := a.Aggregator.Aggregate(AggregateContext{
			Path:       path,
			Level:      level,
			Key:        key,
			Items:      items,
			Descriptor: a,
		})
		if err != nil {
			return nil, fmt.Errorf("aggregate %s at %q: %w", a.ColumnKey, path, err)
		}
		info.Raw[a.ColumnKey] = v
		info.Values[a.ColumnKey] = a.format(v)
	}
	return &row.Node{Row: row.Row{
		Item:    info,
		Level:   level,
		Kind:    row.KindSummary,
		Summary: info,
	}}, nil
}

func (b *builder) groupAggregates(level int) []AggregateDescriptor {
	var out []AggregateDescriptor
	for _, a := range b.req.Groups[level].Aggregates {
		if a.Placement.inGroup() {
			out = append(out, a)
		}
	}
	for _, a := range b.req.Aggregates {
		if a.Placement.inGroup() {
			out = append(out, a)
		}
	}
	return out
}

// gridAggregates collects grid placements of every level plus the request's,
// one per column; the first one wins.
func (b *builder) gridAggregates() []AggregateDescriptor {
	var out []AggregateDescriptor
	seen := make(map[string]bool)
	add := func(as []AggregateDescriptor) {
		for _, a := range as {
			if !a.Placement.inGrid() || seen[a.ColumnKey] {
				continue
			}
			seen[a.ColumnKey] = true
			out = append(out, a)
		}
	}
	for _, g := range b.req.Groups {
		add(g.Aggregates)
	}
	add(b.req.Aggregates)
	return out
}

// groupCapability copies the metadata of the first group-aware item in the
// bucket onto the group row.
func groupCapability(nodes []*row.Node) row.Capability {
	for _, n := range nodes {
		if n.Row.Caps.HasMetadata {
			return row.Capability{Kind: row.CapGroupAware, Metadata: n.Row.Caps.Metadata, HasMetadata: true}
		}
	}
	return row.Capability{Kind: row.CapPlain}
}
