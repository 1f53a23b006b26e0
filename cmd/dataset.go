package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentic-research/vgrid/api"
	"github.com/agentic-research/vgrid/internal/config"
	"github.com/agentic-research/vgrid/internal/flat"
	"github.com/agentic-research/vgrid/internal/grouping"
	"github.com/agentic-research/vgrid/internal/groupstate"
	"github.com/agentic-research/vgrid/internal/ingest"
	"github.com/agentic-research/vgrid/internal/row"
)

// gridFlags are the dataset and layout flags shared by show, layout save
// and serve.
type gridFlags struct {
	selector    string
	childrenKey string
	groups      []string
	sums        []string
	aggregates  []string
	layoutPath  string
	toggles     []int
}

func (f *gridFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.selector, "select", ingest.DefaultSelector, "JSONPath selecting the records of a JSON dataset")
	cmd.Flags().StringVar(&f.childrenKey, "children", "", "Record field holding child records")
	cmd.Flags().StringSliceVarP(&f.groups, "group", "g", nil, "Group by column, outermost first (column[:asc|desc])")
	cmd.Flags().StringSliceVar(&f.sums, "sum", nil, "Sum a column in group and grid footers")
	cmd.Flags().StringSliceVar(&f.aggregates, "agg", nil, "Aggregate a column (column:function[:group|grid|both])")
	cmd.Flags().StringVar(&f.layoutPath, "layout", "", "Layout file to restore grouping and expansion state from")
	cmd.Flags().IntSliceVar(&f.toggles, "toggle", nil, "Row indices to toggle, applied in order")
}

// grid is a dataset loaded into a flat source.
type grid struct {
	src        *flat.Source
	reg        *grouping.Registry
	columns    []row.Column
	aggregates []grouping.AggregateDescriptor
}

// loadNodes reads a .db results table or a JSON dataset.
func loadNodes(ctx context.Context, path, selector, childrenKey string) ([]*row.Node, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		recs, err := ingest.LoadSQLite(ctx, path)
		if err != nil {
			return nil, err
		}
		return ingest.RecordNodes(recs), nil
	}
	fs, name, err := localFS(path)
	if err != nil {
		return nil, err
	}
	recs, err := ingest.LoadJSON(fs, name, selector)
	if err != nil {
		return nil, err
	}
	return ingest.Nodes(recs, childrenKey), nil
}

func parseGroups(specs []string) ([]api.GroupLayout, error) {
	out := make([]api.GroupLayout, 0, len(specs))
	for _, s := range specs {
		col, dir, _ := strings.Cut(s, ":")
		if col == "" {
			return nil, fmt.Errorf("invalid group %q", s)
		}
		d, err := grouping.ParseDirection(dir)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", col, err)
		}
		out = append(out, api.GroupLayout{ColumnKey: col, SortDirection: d.String(), DefaultExpanded: true})
	}
	return out, nil
}

func parseAggregates(sums, specs []string) ([]config.Aggregate, error) {
	out := make([]config.Aggregate, 0, len(sums)+len(specs))
	for _, col := range sums {
		out = append(out, config.Aggregate{Column: col, Function: "sum"})
	}
	for _, s := range specs {
		parts := strings.Split(s, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" {
			return nil, fmt.Errorf("invalid aggregate %q, want column:function[:placement]", s)
		}
		a := config.Aggregate{Column: parts[0], Function: parts[1]}
		if len(parts) == 3 {
			a.Placement = parts[2]
		}
		out = append(out, a)
	}
	return out, nil
}

// buildGrid loads path and applies the grouping selected by flags, the
// layout file or the config, in that order of precedence.
func (a *app) buildGrid(ctx context.Context, path string, f *gridFlags) (*grid, error) {
	nodes, err := loadNodes(ctx, path, f.selector, f.childrenKey)
	if err != nil {
		return nil, err
	}

	cfg := a.cfg
	store := groupstate.NewStore()
	if f.layoutPath != "" {
		fs, name, err := localFS(f.layoutPath)
		if err != nil {
			return nil, err
		}
		found, err := groupstate.LayoutFile{FS: fs, Path: name}.Load(store)
		if err != nil {
			return nil, err
		}
		if found {
			cfg.Groups = store.Descriptors()
		} else {
			a.logger.Warn("layout file not found, starting ungrouped", "path", f.layoutPath)
		}
	}
	if len(f.groups) > 0 {
		if cfg.Groups, err = parseGroups(f.groups); err != nil {
			return nil, err
		}
	}
	extra, err := parseAggregates(f.sums, f.aggregates)
	if err != nil {
		return nil, err
	}
	cfg.Aggregates = append(slices.Clone(cfg.Aggregates), extra...)

	reg, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	req, err := cfg.Request(reg)
	if err != nil {
		return nil, err
	}

	g := &grid{
		src:        flat.New(nodes, flat.WithStore(store), flat.WithLogger(a.logger)),
		reg:        reg,
		columns:    cfg.Columns,
		aggregates: req.Aggregates,
	}
	if len(g.columns) == 0 {
		g.columns = inferColumns(nodes)
	}
	if len(req.Groups) > 0 || len(req.Aggregates) > 0 {
		if err := g.src.ApplyGrouping(ctx, req); err != nil {
			return nil, fmt.Errorf("apply grouping: %w", err)
		}
	}
	for _, i := range f.toggles {
		if err := g.src.ToggleExpansion(i); err != nil {
			return nil, fmt.Errorf("toggle %d: %w", i, err)
		}
	}
	return g, nil
}

// inferColumns lists the keys of the first map record, sorted. Datasets of
// scalars have no columns.
func inferColumns(nodes []*row.Node) []row.Column {
	for _, n := range nodes {
		item := n.Row.Item
		if d, ok := item.(grouping.Dataer); ok {
			item = d.Data()
		}
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		cols := make([]row.Column, len(keys))
		for i, k := range keys {
			cols[i] = row.Column{Key: k, Header: k}
		}
		return cols
	}
	return nil
}
