package provider

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/vgrid/internal/row"
)

// gatedSource blocks every Fetch until release is closed, counting calls.
type gatedSource struct {
	n       int
	release chan struct{}
	calls   atomic.Int32
	honor   bool // return ctx.Err() when cancelled
}

func newGated(n int) *gatedSource {
	return &gatedSource{n: n, release: make(chan struct{})}
}

func (g *gatedSource) Len() int { return g.n }

func (g *gatedSource) Fetch(ctx context.Context, start, count int) ([]int, error) {
	g.calls.Add(1)
	if g.honor {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-g.release:
		}
	} else {
		<-g.release
	}
	var out []int
	for i := start; i < start+count && i < g.n; i++ {
		out = append(out, i*10)
	}
	return out, nil
}

func ints(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i * 10
	}
	return out
}

func waitDone(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("completion never closed")
	}
}

func TestCached_SyncFetch(t *testing.T) {
	src := NewSliceSource(ints(100))
	c, err := NewCached[int](src)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	assert.False(t, c.SupportsPlaceholders())
	assert.Equal(t, 100, c.Count())

	page, err := c.GetPage(context.Background(), row.PageRequest{Start: 10, Count: 5})
	require.NoError(t, err)
	assert.Equal(t, []int{100, 110, 120, 130, 140}, page.Items)
	assert.Zero(t, page.PlaceholderCount())
	assert.Nil(t, page.Completion)

	v, ok := c.TryGetMaterialized(12)
	require.True(t, ok)
	assert.Equal(t, 120, v)
	assert.False(t, c.IsPlaceholder(12))
	assert.True(t, c.IsPlaceholder(50))
	assert.Equal(t, 0, c.Get(50), "zero value stands in without a factory")

	// Clipped at the end.
	page, err = c.GetPage(context.Background(), row.PageRequest{Start: 98, Count: 10})
	require.NoError(t, err)
	assert.Equal(t, []int{980, 990}, page.Items)
}

func TestCached_RejectsInvalidRequests(t *testing.T) {
	c, err := NewCached[int](NewSliceSource(ints(10)))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.GetPage(ctx, row.PageRequest{Start: -1, Count: 1})
	assert.ErrorIs(t, err, row.ErrInvalidRequest)
	_, err = c.GetPage(ctx, row.PageRequest{Start: 0, Count: 0})
	assert.ErrorIs(t, err, row.ErrInvalidRequest)
	assert.ErrorIs(t, c.Prefetch(ctx, row.PageRequest{Count: -2}), row.ErrInvalidRequest)
	assert.ErrorIs(t, c.Invalidate(ctx, row.PageRequest{Start: -5, Count: 1}), row.ErrInvalidRequest)
}

func TestCached_PlaceholdersMaterializeInBackground(t *testing.T) {
	src := newGated(100)
	c, err := NewCached[int](src, WithPlaceholders(func(i int) int { return -i }))
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	page, err := c.GetPage(context.Background(), row.PageRequest{Start: 20, Count: 4})
	require.NoError(t, err)
	assert.Equal(t, []int{-20, -21, -22, -23}, page.Items, "placeholders are renderable stand-ins")
	assert.Equal(t, 4, page.PlaceholderCount())
	assert.True(t, page.IsPlaceholder(0), "positions index into Items")
	assert.False(t, page.IsPlaceholder(4))
	assert.True(t, c.IsPlaceholder(21))
	require.NotNil(t, page.Completion)

	close(src.release)
	waitDone(t, page.Completion)

	assert.False(t, c.IsPlaceholder(21))
	assert.Equal(t, 210, c.Get(21))

	note := <-c.Notifications()
	assert.Equal(t, Materialized, note.Kind)
	assert.Equal(t, []row.Range{{Start: 20, Count: 4}}, note.Ranges, "targeted, not full")
	assert.False(t, note.Full())
}

func TestCached_CancelledRequesterStillFillsCache(t *testing.T) {
	src := newGated(10)
	c, err := NewCached[int](src, WithPlaceholders(func(int) int { return -1 }))
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	page, err := c.GetPage(ctx, row.PageRequest{Start: 0, Count: 3})
	require.NoError(t, err)
	cancel()
	close(src.release)
	waitDone(t, page.Completion)

	v, ok := c.TryGetMaterialized(2)
	require.True(t, ok)
	assert.Equal(t, 20, v)
}

func TestCached_CancelAbandonsMaterialization(t *testing.T) {
	src := newGated(10)
	src.honor = true
	c, err := NewCached[int](src, WithPlaceholders(func(int) int { return -1 }))
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	page, err := c.GetPage(context.Background(), row.PageRequest{Start: 0, Count: 3})
	require.NoError(t, err)
	page.Cancel()
	waitDone(t, page.Completion)
	assert.True(t, c.IsPlaceholder(0))
	assert.Equal(t, 0, c.Materialized())
}

func TestCached_InvalidateAndReset(t *testing.T) {
	c, err := NewCached[int](NewSliceSource(ints(10)))
	require.NoError(t, err)
	ctx := context.Background()
	_, err = c.GetPage(ctx, row.PageRequest{Start: 0, Count: 10})
	require.NoError(t, err)
	<-c.Notifications() // materialized

	require.NoError(t, c.Invalidate(ctx, row.PageRequest{Start: 2, Count: 3}))
	note := <-c.Notifications()
	assert.Equal(t, Invalidated, note.Kind)
	assert.Equal(t, []row.Range{{Start: 2, Count: 3}}, note.Ranges)
	assert.True(t, c.IsPlaceholder(3))
	assert.False(t, c.IsPlaceholder(5))
	assert.Equal(t, 7, c.Materialized())

	c.Reset()
	note = <-c.Notifications()
	assert.Equal(t, Reset, note.Kind)
	assert.True(t, note.Full())
	assert.Equal(t, 0, c.Materialized())
}

func TestCached_EvictionKeepsBitmapInSync(t *testing.T) {
	c, err := NewCached[int](NewSliceSource(ints(20)), WithCacheSize(4))
	require.NoError(t, err)
	_, err = c.GetPage(context.Background(), row.PageRequest{Start: 0, Count: 10})
	require.NoError(t, err)
	assert.Equal(t, 4, c.Materialized())
	assert.True(t, c.IsPlaceholder(0), "evicted index reads as placeholder again")
	assert.False(t, c.IsPlaceholder(9))
}

func TestCached_Closed(t *testing.T) {
	c, err := NewCached[int](NewSliceSource(ints(10)))
	require.NoError(t, err)
	require.NoError(t, c.Close())
	_, err = c.GetPage(context.Background(), row.PageRequest{Start: 0, Count: 1})
	assert.ErrorIs(t, err, ErrClosed)
	_, open := <-c.Notifications()
	assert.False(t, open)
}

func TestNotifier_OverflowWidensToFull(t *testing.T) {
	n := NewNotifier(1)
	n.Send(Notification{Kind: Materialized, Ranges: []row.Range{{Start: 0, Count: 1}}})
	n.Send(Notification{Kind: Materialized, Ranges: []row.Range{{Start: 5, Count: 1}}}) // dropped

	first := <-n.C()
	assert.Equal(t, []row.Range{{Start: 0, Count: 1}}, first.Ranges)

	n.Send(Notification{Kind: Materialized, Ranges: []row.Range{{Start: 9, Count: 1}}})
	next := <-n.C()
	assert.Equal(t, Invalidated, next.Kind)
	assert.True(t, next.Full(), "an overrun turns the next event into a full invalidation")

	n.Send(Notification{Kind: Materialized, Ranges: []row.Range{{Start: 3, Count: 1}}})
	assert.False(t, (<-n.C()).Full(), "precision returns once the consumer catches up")

	n.Close()
	n.Send(Notification{Kind: Reset}) // no panic after close
}

func TestColumnSource(t *testing.T) {
	cols := []row.Column{{Key: "name", Header: "Name"}, {Key: "region", Header: "Region"}}
	c, err := NewColumnSource(cols)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	assert.True(t, c.SupportsPlaceholders())
	assert.True(t, c.Get(1).IsPlaceholder)

	page, err := c.GetPage(context.Background(), row.PageRequest{Start: 0, Count: 2})
	require.NoError(t, err)
	waitDone(t, page.Completion)
	assert.Equal(t, "Region", c.Get(1).Header)
}

func writeResults(t *testing.T, n int) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "results.db")
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	_, err = db.Exec(`CREATE TABLE results (id TEXT PRIMARY KEY, record JSON)`)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		rec := fmt.Sprintf(`{"name":"item-%d","price":%d.10}`, i, i)
		_, err = db.Exec(`INSERT INTO results (id, record) VALUES (?, ?)`, fmt.Sprintf("r%02d", i), rec)
		require.NoError(t, err)
	}
	return dbPath
}

func TestSQLiteSource(t *testing.T) {
	ctx := context.Background()
	src, err := OpenSQLite(ctx, writeResults(t, 10))
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	assert.Equal(t, 10, src.Len())

	recs, err := src.Fetch(ctx, 2, 3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "r02", recs[0].ID)
	data := recs[0].Data().(map[string]any)
	assert.Equal(t, json.Number("2.10"), data["price"], "numbers keep their text")

	tail, err := src.Fetch(ctx, 8, 5)
	require.NoError(t, err)
	assert.Len(t, tail, 2)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = src.Fetch(cancelled, 0, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSQLiteSource_CachedProvider(t *testing.T) {
	ctx := context.Background()
	src, err := OpenSQLite(ctx, writeResults(t, 50))
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	c, err := NewCached[Record](src)
	require.NoError(t, err)
	page, err := c.GetPage(ctx, row.PageRequest{Start: 40, Count: 20})
	require.NoError(t, err)
	require.Len(t, page.Items, 10)
	assert.Equal(t, "r49", page.Items[9].ID)
}

func TestOpenSQLite_MissingTable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE other (x INTEGER)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = OpenSQLite(context.Background(), dbPath)
	assert.Error(t, err)
}
