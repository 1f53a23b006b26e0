package provider

import (
	"context"
	"sync"

	"github.com/agentic-research/vgrid/internal/row"
)

// SliceSource serves items from memory.
type SliceSource[T any] struct {
	mu    sync.RWMutex
	items []T
}

// NewSliceSource returns a source over items. The slice is not copied.
func NewSliceSource[T any](items []T) *SliceSource[T] {
	return &SliceSource[T]{items: items}
}

func (s *SliceSource[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *SliceSource[T]) Fetch(ctx context.Context, start, count int) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := (row.PageRequest{Start: start, Count: count}).Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rng := row.Range{Start: start, Count: count}.Clip(len(s.items))
	if rng.Empty() {
		return nil, nil
	}
	out := make([]T, rng.Count)
	copy(out, s.items[rng.Start:rng.End()])
	return out, nil
}

// Replace swaps the backing slice.
func (s *SliceSource[T]) Replace(items []T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = items
}

// NewColumnSource returns a cached column provider with placeholder columns.
func NewColumnSource(cols []row.Column, opts ...CachedOption) (*Cached[row.Column], error) {
	opts = append([]CachedOption{WithPlaceholders(row.PlaceholderColumn)}, opts...)
	return NewCached[row.Column](NewSliceSource(cols), opts...)
}
