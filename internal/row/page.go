package row

import (
	"context"
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring"
)

// ErrInvalidRequest is returned for negative indices/counts and empty ranges.
// Requests are rejected, never clamped.
var ErrInvalidRequest = errors.New("invalid request")

// PageRequest asks a provider for Count items starting at Start.
type PageRequest struct {
	Start int
	Count int
}

// Validate rejects negative starts and non-positive counts.
func (r PageRequest) Validate() error {
	if r.Start < 0 {
		return fmt.Errorf("%w: negative start %d", ErrInvalidRequest, r.Start)
	}
	if r.Count <= 0 {
		return fmt.Errorf("%w: count %d", ErrInvalidRequest, r.Count)
	}
	return nil
}

// Range returns the index range the request covers.
func (r PageRequest) Range() Range { return Range{Start: r.Start, Count: r.Count} }

// PageResult is a provider's answer to a PageRequest.
//
// Placeholders holds positions into Items (not global indices) whose value is a
// stand-in awaiting background materialization. Completion, when non-nil, is
// closed once that materialization finishes; Cancel abandons it.
type PageResult[T any] struct {
	Items        []T
	Placeholders *roaring.Bitmap
	Completion   <-chan struct{}
	Cancel       context.CancelFunc
}

// IsPlaceholder reports whether Items[i] is a placeholder.
func (p PageResult[T]) IsPlaceholder(i int) bool {
	if p.Placeholders == nil || i < 0 {
		return false
	}
	return p.Placeholders.Contains(uint32(i))
}

// PlaceholderCount returns how many items in the page are placeholders.
func (p PageResult[T]) PlaceholderCount() int {
	if p.Placeholders == nil {
		return 0
	}
	return int(p.Placeholders.GetCardinality())
}

// ViewportRequest describes the visible range plus a prefetch margin. It is a
// comparable value; schedulers debounce identical consecutive requests with ==.
type ViewportRequest struct {
	Start          int
	Count          int
	PrefetchRadius int
}

// Validate rejects negative fields and zero-length viewports.
func (v ViewportRequest) Validate() error {
	if v.Start < 0 {
		return fmt.Errorf("%w: negative viewport start %d", ErrInvalidRequest, v.Start)
	}
	if v.Count <= 0 {
		return fmt.Errorf("%w: viewport count %d", ErrInvalidRequest, v.Count)
	}
	if v.PrefetchRadius < 0 {
		return fmt.Errorf("%w: negative prefetch radius %d", ErrInvalidRequest, v.PrefetchRadius)
	}
	return nil
}

// Range is a half-open index range [Start, Start+Count).
type Range struct {
	Start int
	Count int
}

// End returns the exclusive end of the range.
func (r Range) End() int { return r.Start + r.Count }

// Empty reports whether the range covers no index.
func (r Range) Empty() bool { return r.Count <= 0 }

// Contains reports whether i falls inside the range.
func (r Range) Contains(i int) bool { return i >= r.Start && i < r.End() }

// Clip limits the range to [0, limit).
func (r Range) Clip(limit int) Range {
	start, end := max(r.Start, 0), min(r.End(), limit)
	if end <= start {
		return Range{Start: start}
	}
	return Range{Start: start, Count: end - start}
}

// Runs splits a set of indices into maximal contiguous ranges, ascending.
func Runs(indices *roaring.Bitmap) []Range {
	if indices == nil || indices.IsEmpty() {
		return nil
	}
	var out []Range
	it := indices.Iterator()
	cur := Range{Start: int(it.Next()), Count: 1}
	for it.HasNext() {
		i := int(it.Next())
		if i == cur.End() {
			cur.Count++
			continue
		}
		out = append(out, cur)
		cur = Range{Start: i, Count: 1}
	}
	return append(out, cur)
}
