package row

import (
	"errors"
	"testing"

	"github.com/RoaringBitmap/roaring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tallItem struct{ h float64 }

func (t tallItem) RowHeight() float64 { return t.h }

type taggedItem struct{}

func (taggedItem) GroupMetadata() map[string]any { return map[string]any{"color": "red"} }
func (taggedItem) RowHeight() float64            { return 40 }

func TestResolveCapability(t *testing.T) {
	t.Run("plain", func(t *testing.T) {
		c := ResolveCapability("x")
		assert.Equal(t, CapPlain, c.Kind)
		assert.False(t, c.HasHeight)
		assert.False(t, c.HasMetadata)
	})

	t.Run("height aware", func(t *testing.T) {
		c := ResolveCapability(tallItem{h: 32})
		assert.Equal(t, CapHeightAware, c.Kind)
		assert.Equal(t, 32.0, c.Height)
	})

	t.Run("both", func(t *testing.T) {
		c := ResolveCapability(taggedItem{})
		assert.Equal(t, CapGroupAware, c.Kind)
		assert.True(t, c.HasHeight)
		assert.Equal(t, 40.0, c.Height)
		assert.Equal(t, "red", c.Metadata["color"])
	})
}

func TestNewItemNode(t *testing.T) {
	leaf := NewItemNode("leaf")
	assert.False(t, leaf.Row.HasChildren)

	parent := NewItemNode("parent", leaf)
	assert.True(t, parent.Row.HasChildren)
	assert.Equal(t, KindLeaf, parent.Row.Kind)

	empty := NewItemNode("empty")
	empty.Add(NewItemNode("late"))
	assert.True(t, empty.Row.HasChildren)

	assert.Equal(t, []any{"parent", "leaf", "empty", "late"}, Leaves([]*Node{parent, empty}))
}

func TestPlaceholderIsRenderable(t *testing.T) {
	p := Placeholder(7)
	assert.True(t, p.IsPlaceholder)
	require.NotNil(t, p.Item)
	assert.Equal(t, PlaceholderItem{Index: 7}, p.Item)
	assert.Equal(t, "", p.Item.(PlaceholderItem).String())
}

func TestPageRequestValidate(t *testing.T) {
	assert.NoError(t, PageRequest{Start: 0, Count: 1}.Validate())
	assert.True(t, errors.Is(PageRequest{Start: -1, Count: 1}.Validate(), ErrInvalidRequest))
	assert.True(t, errors.Is(PageRequest{Start: 0, Count: 0}.Validate(), ErrInvalidRequest))
}

func TestViewportRequestValidate(t *testing.T) {
	assert.NoError(t, ViewportRequest{Start: 0, Count: 10}.Validate())
	assert.ErrorIs(t, ViewportRequest{Start: -5, Count: 10}.Validate(), ErrInvalidRequest)
	assert.ErrorIs(t, ViewportRequest{Start: 0, Count: 0}.Validate(), ErrInvalidRequest)
	assert.ErrorIs(t, ViewportRequest{Start: 0, Count: 3, PrefetchRadius: -1}.Validate(), ErrInvalidRequest)

	a := ViewportRequest{Start: 1, Count: 2, PrefetchRadius: 3}
	b := ViewportRequest{Start: 1, Count: 2, PrefetchRadius: 3}
	assert.True(t, a == b)
}

func TestRangeClip(t *testing.T) {
	assert.Equal(t, Range{Start: 5, Count: 5}, Range{Start: 5, Count: 20}.Clip(10))
	assert.True(t, Range{Start: 12, Count: 3}.Clip(10).Empty())
	assert.Equal(t, Range{Start: 0, Count: 2}, Range{Start: -3, Count: 5}.Clip(10))
	assert.True(t, Range{Start: 2, Count: 2}.Contains(3))
	assert.False(t, Range{Start: 2, Count: 2}.Contains(4))
}

func TestRuns(t *testing.T) {
	assert.Nil(t, Runs(nil))
	bm := roaring.BitmapOf(1, 2, 3, 7, 9, 10)
	assert.Equal(t, []Range{{Start: 1, Count: 3}, {Start: 7, Count: 1}, {Start: 9, Count: 2}}, Runs(bm))
}

func TestPageResultPlaceholders(t *testing.T) {
	p := PageResult[string]{Items: []string{"a", "", ""}, Placeholders: roaring.BitmapOf(1, 2)}
	assert.False(t, p.IsPlaceholder(0))
	assert.True(t, p.IsPlaceholder(2))
	assert.Equal(t, 2, p.PlaceholderCount())
	assert.Equal(t, 0, PageResult[string]{}.PlaceholderCount())
}
