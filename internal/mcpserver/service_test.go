package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/vgrid/api"
	"github.com/agentic-research/vgrid/internal/flat"
	"github.com/agentic-research/vgrid/internal/grouping"
	"github.com/agentic-research/vgrid/internal/groupstate"
	"github.com/agentic-research/vgrid/internal/row"
)

func newService(t *testing.T) (*Service, groupstate.LayoutFile) {
	t.Helper()
	items := []*row.Node{
		row.NewItemNode(map[string]any{"name": "A", "region": "East", "value": 10}),
		row.NewItemNode(map[string]any{"name": "B", "region": "West", "value": 20}),
		row.NewItemNode(map[string]any{"name": "C", "region": "East", "value": 30}),
	}
	sum, err := grouping.AggregatorByName("sum")
	require.NoError(t, err)
	cols := []row.Column{{Key: "name"}, {Key: "value"}}
	aggs := []grouping.AggregateDescriptor{{ColumnKey: "value", Placement: grouping.GroupAndGrid, Aggregator: sum}}
	lf := groupstate.LayoutFile{FS: memfs.New(), Path: "layouts/grid.json"}
	svc := NewService(flat.New(items), nil, cols, aggs).WithLayoutFile(lf)
	return svc, lf
}

func call(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (map[string]any, bool) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	res, err := h(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	if res.IsError {
		return map[string]any{"error": text.Text}, true
	}
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out, false
}

func TestService_RowsGroupToggle(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	rows, total, err := svc.Rows(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, "leaf", rows[0].Kind)
	assert.Equal(t, map[string]string{"name": "A", "value": "10"}, rows[0].Values)

	total, err = svc.Group(ctx, []GroupArg{{Column: "region"}})
	require.NoError(t, err)
	assert.Equal(t, 8, total)

	rows, _, err = svc.Rows(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 8)
	assert.Equal(t, RowDTO{Index: 0, Kind: "group", HasChildren: true, IsExpanded: true,
		Path: "region=East", Label: "East", ItemCount: 2}, rows[0])
	assert.Equal(t, "summary", rows[3].Kind)
	assert.Equal(t, "40", rows[3].Values["value"])
	assert.Equal(t, "60", rows[7].Values["value"])

	r, total, err := svc.Toggle(0)
	require.NoError(t, err)
	assert.False(t, r.IsExpanded)
	assert.Equal(t, 5, total)

	_, _, err = svc.Toggle(99)
	assert.ErrorIs(t, err, row.ErrInvalidRequest)

	total, err = svc.Group(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, total, "leaves plus the grid footer")

	_, err = svc.Group(ctx, []GroupArg{{Column: "region", Direction: "sideways"}})
	assert.Error(t, err)
	_, err = svc.Group(ctx, []GroupArg{{}})
	assert.Error(t, err)
}

func TestService_Layout(t *testing.T) {
	ctx := context.Background()
	svc, lf := newService(t)
	collapsed := false
	_, err := svc.Group(ctx, []GroupArg{{Column: "region", Direction: "descending", DefaultExpanded: &collapsed}})
	require.NoError(t, err)
	_, _, err = svc.Toggle(0)
	require.NoError(t, err)

	layout, err := svc.Layout(true)
	require.NoError(t, err)
	assert.Equal(t, []api.GroupLayout{{ColumnKey: "region", SortDirection: "descending"}}, layout.Groups)
	assert.Contains(t, layout.ExpansionStates, api.ExpansionState{Path: "region=West", IsExpanded: true})

	store := groupstate.NewStore()
	found, err := lf.Load(store)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, store.GetState("region=West").IsExpanded)
	assert.False(t, store.GetState("region=East").IsExpanded)

	_, err = NewService(flat.New(nil), nil, nil, nil).Layout(true)
	assert.Error(t, err, "no layout file")
}

func TestTools(t *testing.T) {
	svc, _ := newService(t)

	out, isErr := call(t, svc.handleGroup, map[string]any{
		"groups": []any{map[string]any{"column": "region"}},
	})
	require.False(t, isErr, out)
	assert.Equal(t, float64(8), out["total"])

	out, isErr = call(t, svc.handleRows, map[string]any{"start": 1, "count": 2})
	require.False(t, isErr, out)
	assert.Equal(t, float64(8), out["total"])
	assert.Len(t, out["rows"], 2)

	out, isErr = call(t, svc.handleToggle, map[string]any{"index": 0})
	require.False(t, isErr, out)
	assert.Equal(t, float64(5), out["total"])

	_, isErr = call(t, svc.handleToggle, map[string]any{})
	assert.True(t, isErr, "index is required")

	_, isErr = call(t, svc.handleRows, map[string]any{"start": -1})
	assert.True(t, isErr)

	out, isErr = call(t, svc.handleLayout, map[string]any{"save": true})
	require.False(t, isErr, out)
	assert.Equal(t, float64(api.CurrentLayoutVersion), out["version"])
}

func TestNewServer(t *testing.T) {
	svc, _ := newService(t)
	srv := NewServer(svc, "vgrid", "test")
	require.NotNil(t, srv)
}
