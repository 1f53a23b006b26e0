package flat

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/vgrid/internal/grouping"
	"github.com/agentic-research/vgrid/internal/provider"
	"github.com/agentic-research/vgrid/internal/row"
)

// randomTree builds a tree of string items named by their position.
func randomTree(rng *rand.Rand, prefix string, depth int) []*row.Node {
	n := 1 + rng.Intn(4)
	out := make([]*row.Node, 0, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("%s%d", prefix, i)
		var children []*row.Node
		if depth > 0 && rng.Intn(3) > 0 {
			children = randomTree(rng, name+".", depth-1)
		}
		node := row.NewItemNode(name, children...)
		node.Row.IsExpanded = rng.Intn(2) == 0
		out = append(out, node)
	}
	return out
}

type visible struct {
	Item     any
	Level    int
	Expanded bool
}

// reference walks the tree independently of the splice logic.
func reference(nodes []*row.Node, level int, expanded map[*row.Node]bool) []visible {
	var out []visible
	for _, n := range nodes {
		out = append(out, visible{n.Row.Item, level, expanded[n]})
		if expanded[n] && len(n.Children) > 0 {
			out = append(out, reference(n.Children, level+1, expanded)...)
		}
	}
	return out
}

func observed(s *Source) []visible {
	rows := s.Rows()
	out := make([]visible, len(rows))
	for i, r := range rows {
		out[i] = visible{r.Item, r.Level, r.IsExpanded}
	}
	return out
}

func TestToggleExpansion_FlatteningInvariant(t *testing.T) {
	for seed := int64(1); seed <= 25; seed++ {
		rng := rand.New(rand.NewSource(seed))
		roots := randomTree(rng, "n", 4)

		model := make(map[*row.Node]bool)
		var fill func([]*row.Node)
		fill = func(ns []*row.Node) {
			for _, n := range ns {
				model[n] = n.Row.IsExpanded
				fill(n.Children)
			}
		}
		fill(roots)

		s := New(roots)
		require.Empty(t, cmp.Diff(reference(roots, 0, model), observed(s)))

		for step := 0; step < 60; step++ {
			idx := rng.Intn(s.RowCount())
			node := s.published.Load().entries[idx].node
			require.NoError(t, s.ToggleExpansion(idx))
			if len(node.Children) > 0 {
				model[node] = !model[node]
			}
			if diff := cmp.Diff(reference(roots, 0, model), observed(s)); diff != "" {
				t.Fatalf("seed %d step %d toggle %d (-want +got):\n%s", seed, step, idx, diff)
			}
		}
	}
}

func TestToggleExpansion_Bounds(t *testing.T) {
	s := New([]*row.Node{row.NewItemNode("a")})
	assert.ErrorIs(t, s.ToggleExpansion(-1), row.ErrInvalidRequest)
	assert.ErrorIs(t, s.ToggleExpansion(1), row.ErrInvalidRequest)
	assert.NoError(t, s.ToggleExpansion(0), "leaf toggles are no-ops")
	assert.Equal(t, 1, s.RowCount())
}

func TestGetRow_PlaceholderOutOfRange(t *testing.T) {
	s := New([]*row.Node{row.NewItemNode("a")})
	r := s.GetRow(5)
	assert.True(t, r.IsPlaceholder)
	assert.NotNil(t, r.Item, "placeholders are renderable")
	assert.False(t, s.GetRow(0).IsPlaceholder)
	assert.True(t, s.IsPlaceholder(5))
}

func sales() []*row.Node {
	return []*row.Node{
		row.NewItemNode(map[string]any{"name": "A", "region": "East", "value": 10}),
		row.NewItemNode(map[string]any{"name": "B", "region": "West", "value": 20}),
		row.NewItemNode(map[string]any{"name": "C", "region": "East", "value": 30}),
	}
}

func regionRequest(adapter grouping.Adapter) grouping.Request {
	if adapter == nil {
		adapter = &grouping.FieldAdapter{Field: "region"}
	}
	return grouping.Request{Groups: []grouping.GroupDescriptor{{
		ColumnKey:       "region",
		Adapter:         adapter,
		DefaultExpanded: true,
		Aggregates: []grouping.AggregateDescriptor{
			{ColumnKey: "value", Placement: grouping.GroupAndGrid, Aggregator: grouping.SumDecimal},
		},
	}}}
}

func kinds(s *Source) []string {
	var out []string
	for _, r := range s.Rows() {
		switch {
		case r.IsGroup():
			out = append(out, "G:"+r.Group.Label)
		case r.IsSummary():
			out = append(out, "S:"+r.Summary.Values["value"])
		default:
			out = append(out, "L:"+grouping.FieldValue(r.Item, "name").(string))
		}
	}
	return out
}

func TestApplyGrouping_ScenarioAndCollapse(t *testing.T) {
	ctx := context.Background()
	s := New(sales())
	require.NoError(t, s.ApplyGrouping(ctx, regionRequest(nil)))

	assert.Equal(t, []string{"G:East", "L:A", "L:C", "S:40", "G:West", "L:B", "S:20", "S:60"}, kinds(s))
	summary := s.GetRow(3)
	assert.Equal(t, 1, summary.Level)
	assert.Equal(t, 1, s.GetRow(1).Level)

	require.NoError(t, s.ToggleExpansion(0))
	assert.Equal(t, []string{"G:East", "G:West", "L:B", "S:20", "S:60"}, kinds(s), "collapsing hides the footer too")
	assert.False(t, s.GetRow(0).IsExpanded)

	st, ok := s.Store().Lookup("region=East")
	require.True(t, ok)
	assert.False(t, st.IsExpanded)
	assert.Len(t, s.Store().Descriptors(), 1)

	// Same paths after a rebuild keep their state.
	require.NoError(t, s.ApplyGrouping(ctx, regionRequest(nil)))
	assert.Equal(t, []string{"G:East", "G:West", "L:B", "S:20", "S:60"}, kinds(s))

	require.NoError(t, s.ToggleExpansion(0))
	assert.Equal(t, 8, s.RowCount())
}

func TestToggleExpansion_Notifications(t *testing.T) {
	s := New(sales())
	require.NoError(t, s.ApplyGrouping(context.Background(), regionRequest(nil)))
	assert.Equal(t, provider.Reset, (<-s.Notifications()).Kind)

	require.NoError(t, s.ToggleExpansion(4)) // collapse West
	note := <-s.Notifications()
	assert.Equal(t, provider.Invalidated, note.Kind)
	assert.Equal(t, []row.Range{{Start: 4, Count: s.RowCount() - 4}}, note.Ranges)
}

// gateAdapter blocks the first Key call until gate is closed.
type gateAdapter struct {
	grouping.FieldAdapter
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func newGate() *gateAdapter {
	return &gateAdapter{
		FieldAdapter: grouping.FieldAdapter{Field: "region"},
		entered:      make(chan struct{}),
		gate:         make(chan struct{}),
	}
}

func (g *gateAdapter) Key(item any) any {
	g.once.Do(func() {
		close(g.entered)
		<-g.gate
	})
	return g.FieldAdapter.Key(item)
}

func waitTask(t *testing.T, task *Task) error {
	t.Helper()
	select {
	case <-task.Done():
		return task.Err()
	case <-time.After(2 * time.Second):
		t.Fatal("task never finished")
		return nil
	}
}

func TestApplyGroupingAsync_ReadersSeePriorListUntilSwap(t *testing.T) {
	s := New(sales())
	before := s.Rows()
	gate := newGate()

	task := s.ApplyGroupingAsync(context.Background(), regionRequest(gate))
	<-gate.entered
	assert.Equal(t, before, s.Rows(), "rebuild in flight is invisible")
	assert.Nil(t, task.Err())

	close(gate.gate)
	require.NoError(t, waitTask(t, task))
	assert.Equal(t, 8, s.RowCount())
}

func TestApplyGroupingAsync_CancelledKeepsPriorList(t *testing.T) {
	s := New(sales())
	before := s.Rows()
	gate := newGate()

	ctx, cancel := context.WithCancel(context.Background())
	task := s.ApplyGroupingAsync(ctx, regionRequest(gate))
	<-gate.entered
	cancel()
	close(gate.gate)

	assert.ErrorIs(t, waitTask(t, task), context.Canceled)
	assert.Equal(t, before, s.Rows())
}

func TestApplyGroupingAsync_Supersession(t *testing.T) {
	s := New(sales())
	gate := newGate()

	first := s.ApplyGroupingAsync(context.Background(), regionRequest(gate))
	<-gate.entered
	second := s.ApplyGroupingAsync(context.Background(), regionRequest(nil))
	require.NoError(t, waitTask(t, second))
	close(gate.gate)

	err := waitTask(t, first)
	assert.ErrorIs(t, err, ErrRebuildSuperseded)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 8, s.RowCount())
	require.NoError(t, s.WaitForPendingOperations(context.Background()))
}

type panicAdapter struct{ grouping.FieldAdapter }

func (*panicAdapter) Key(any) any { panic("adapter exploded") }

func TestApplyGroupingAsync_FailureKeepsPriorList(t *testing.T) {
	s := New(sales())
	require.NoError(t, s.ApplyGrouping(context.Background(), regionRequest(nil)))
	before := s.Rows()

	err := s.ApplyGrouping(context.Background(), regionRequest(&panicAdapter{}))
	assert.ErrorIs(t, err, grouping.ErrInconsistentState)
	assert.Equal(t, before, s.Rows())
}

func TestLeafExpansionSurvivesRebuild(t *testing.T) {
	child := row.NewItemNode(map[string]any{"name": "A.1"})
	parent := row.NewItemNode(map[string]any{"name": "A", "region": "East"}, child)
	s := New([]*row.Node{parent})
	assert.Equal(t, 1, s.RowCount())
	require.NoError(t, s.ToggleExpansion(0))
	assert.Equal(t, 2, s.RowCount())

	require.NoError(t, s.ApplyGrouping(context.Background(), grouping.Request{
		Groups: []grouping.GroupDescriptor{{ColumnKey: "region", Adapter: &grouping.FieldAdapter{Field: "region"}, DefaultExpanded: true}},
	}))
	assert.Equal(t, 3, s.RowCount(), "group, parent, child")
	assert.Equal(t, 2, s.GetRow(2).Level)
}

func TestSetItemsRebuildsUnderCurrentRequest(t *testing.T) {
	ctx := context.Background()
	s := New(sales())
	require.NoError(t, s.ApplyGrouping(ctx, regionRequest(nil)))

	more := append(sales(), row.NewItemNode(map[string]any{"name": "D", "region": "North", "value": 5}))
	require.NoError(t, s.SetItems(ctx, more).Wait(ctx))
	assert.Equal(t, []string{"G:East", "L:A", "L:C", "S:40", "G:North", "L:D", "S:5", "G:West", "L:B", "S:20", "S:65"}, kinds(s))
}

func TestGetPage(t *testing.T) {
	s := New(sales())
	page, err := s.GetPage(context.Background(), row.PageRequest{Start: 1, Count: 10})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Zero(t, page.PlaceholderCount())

	_, err = s.GetPage(context.Background(), row.PageRequest{Start: 0, Count: 0})
	assert.ErrorIs(t, err, row.ErrInvalidRequest)

	got, ok := s.TryGetMaterialized(2)
	require.True(t, ok)
	assert.Equal(t, "C", grouping.FieldValue(got.Item, "name"))
}

func TestConcurrentReadersDuringToggles(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	s := New(randomTree(rng, "n", 4))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				n := s.RowCount()
				_ = s.GetRow(n / 2)
				_ = s.Rows()
			}
		}()
	}
	for i := 0; i < 200; i++ {
		_ = s.ToggleExpansion(rng.Intn(s.RowCount()))
	}
	cancel()
	wg.Wait()
}
