package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/RoaringBitmap/roaring"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/agentic-research/vgrid/internal/row"
)

// DefaultCacheSize bounds the item cache when no size is configured.
const DefaultCacheSize = 4096

// Cached wraps a Source with a bounded LRU item cache and optional
// placeholders. The cache is shared by every request regardless of who asked
// first: a fetch that completes after its requester gave up still lands in it.
type Cached[T any] struct {
	src         Source[T]
	placeholder func(index int) T
	usePlace    bool
	logger      *slog.Logger
	notes       *Notifier

	mu           sync.Mutex
	cache        *lru.Cache[int, T]
	materialized *roaring.Bitmap
	closed       bool
	wg           sync.WaitGroup
}

type cachedOptions struct {
	size        int
	placeholder any
	buffer      int
	logger      *slog.Logger
}

// CachedOption configures NewCached.
type CachedOption func(*cachedOptions)

// WithCacheSize bounds the number of cached items.
func WithCacheSize(n int) CachedOption {
	return func(o *cachedOptions) { o.size = n }
}

// WithPlaceholders enables placeholder pages: GetPage answers immediately
// with factory-built stand-ins and materializes in the background.
func WithPlaceholders[T any](factory func(index int) T) CachedOption {
	return func(o *cachedOptions) { o.placeholder = factory }
}

// WithNotificationBuffer sets the notification queue depth.
func WithNotificationBuffer(n int) CachedOption {
	return func(o *cachedOptions) { o.buffer = n }
}

// WithLogger sets the logger for background failures.
func WithLogger(l *slog.Logger) CachedOption {
	return func(o *cachedOptions) { o.logger = l }
}

// NewCached wraps src.
func NewCached[T any](src Source[T], opts ...CachedOption) (*Cached[T], error) {
	o := cachedOptions{size: DefaultCacheSize, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	c := &Cached[T]{
		src:          src,
		logger:       o.logger,
		notes:        NewNotifier(o.buffer),
		materialized: roaring.New(),
	}
	if o.placeholder != nil {
		f, ok := o.placeholder.(func(int) T)
		if !ok {
			return nil, fmt.Errorf("placeholder factory has type %T", o.placeholder)
		}
		c.placeholder, c.usePlace = f, true
	}
	cache, err := lru.NewWithEvict[int, T](o.size, func(k int, _ T) {
		// Runs inside cache mutations, which all happen under c.mu.
		c.materialized.Remove(uint32(k))
	})
	if err != nil {
		return nil, fmt.Errorf("create item cache: %w", err)
	}
	c.cache = cache
	return c, nil
}

func (c *Cached[T]) Count() int { return c.src.Len() }

func (c *Cached[T]) SupportsPlaceholders() bool { return c.usePlace }

func (c *Cached[T]) Notifications() <-chan Notification { return c.notes.C() }

func (c *Cached[T]) placeholderAt(i int) T {
	if c.placeholder != nil {
		return c.placeholder(i)
	}
	var zero T
	return zero
}

// GetPage answers req from the cache. Missing items are fetched synchronously
// unless placeholders are enabled, in which case the result carries
// placeholders and a Completion that closes once they are materialized.
func (c *Cached[T]) GetPage(ctx context.Context, req row.PageRequest) (row.PageResult[T], error) {
	if err := req.Validate(); err != nil {
		return row.PageResult[T]{}, err
	}
	rng := req.Range().Clip(c.Count())

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return row.PageResult[T]{}, ErrClosed
	}
	items := make([]T, rng.Count)
	missing := roaring.New()
	for pos := range items {
		if v, ok := c.cache.Get(rng.Start + pos); ok {
			items[pos] = v
			continue
		}
		missing.Add(uint32(pos))
	}
	c.mu.Unlock()

	if missing.IsEmpty() {
		return row.PageResult[T]{Items: items}, nil
	}
	lo, hi := int(missing.Minimum()), int(missing.Maximum())
	span := row.Range{Start: rng.Start + lo, Count: hi - lo + 1}

	if !c.usePlace {
		fetched, err := c.load(ctx, span)
		if err != nil {
			return row.PageResult[T]{}, err
		}
		for i, v := range fetched {
			if pos := lo + i; pos < len(items) {
				items[pos] = v
			}
		}
		if len(fetched) < span.Count {
			// Source shrank under us; report what was not delivered.
			tail := roaring.New()
			tail.AddRange(uint64(lo+len(fetched)), uint64(hi+1))
			tail.And(missing)
			for _, pos := range tail.ToArray() {
				items[pos] = c.placeholderAt(rng.Start + int(pos))
			}
			return row.PageResult[T]{Items: items, Placeholders: tail}, nil
		}
		return row.PageResult[T]{Items: items}, nil
	}

	for _, pos := range missing.ToArray() {
		items[pos] = c.placeholderAt(rng.Start + int(pos))
	}
	done := make(chan struct{})
	// Materialization outlives the requester's ctx; only Cancel stops it.
	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return row.PageResult[T]{}, ErrClosed
	}
	c.wg.Add(1)
	c.mu.Unlock()
	go func() {
		defer c.wg.Done()
		defer close(done)
		defer cancel()
		if _, err := c.load(bg, span); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("materialize page failed", "start", span.Start, "count", span.Count, "error", err)
		}
	}()
	return row.PageResult[T]{Items: items, Placeholders: missing, Completion: done, Cancel: cancel}, nil
}

// load fetches rng from the source, writes the cache and announces the
// indices that were not materialized before.
func (c *Cached[T]) load(ctx context.Context, rng row.Range) ([]T, error) {
	fetched, err := c.src.Fetch(ctx, rng.Start, rng.Count)
	if err != nil {
		return nil, fmt.Errorf("fetch [%d,%d): %w", rng.Start, rng.End(), err)
	}
	changed := roaring.New()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fetched, nil
	}
	for i, v := range fetched {
		idx := rng.Start + i
		if !c.materialized.Contains(uint32(idx)) {
			changed.Add(uint32(idx))
		}
		c.cache.Add(idx, v)
		c.materialized.Add(uint32(idx))
	}
	c.mu.Unlock()
	if !changed.IsEmpty() {
		c.notes.Send(Notification{Kind: Materialized, Ranges: row.Runs(changed)})
	}
	return fetched, nil
}

// Prefetch passes the hint to sources that implement Prefetcher.
func (c *Cached[T]) Prefetch(ctx context.Context, req row.PageRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if p, ok := c.src.(Prefetcher); ok {
		return p.Prefetch(ctx, req.Start, req.Count)
	}
	return nil
}

// Invalidate drops the cached items of req and announces the range.
func (c *Cached[T]) Invalidate(_ context.Context, req row.PageRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	for i := req.Start; i < req.Range().End(); i++ {
		c.cache.Remove(i)
		c.materialized.Remove(uint32(i))
	}
	c.mu.Unlock()
	c.notes.Send(Notification{Kind: Invalidated, Ranges: []row.Range{req.Range()}})
	return nil
}

// Reset drops every cached item, for when the source data changed wholesale.
func (c *Cached[T]) Reset() {
	c.mu.Lock()
	c.cache.Purge()
	c.materialized.Clear()
	c.mu.Unlock()
	c.notes.Send(Notification{Kind: Reset})
}

func (c *Cached[T]) TryGetMaterialized(index int) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Get(index)
}

func (c *Cached[T]) IsPlaceholder(index int) bool {
	if index < 0 || index >= c.Count() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.materialized.Contains(uint32(index))
}

func (c *Cached[T]) Get(index int) T {
	if v, ok := c.TryGetMaterialized(index); ok {
		return v
	}
	return c.placeholderAt(index)
}

// Materialized returns how many indices are currently cached.
func (c *Cached[T]) Materialized() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(c.materialized.GetCardinality())
}

// Close waits for background materializations and closes the notification
// queue.
func (c *Cached[T]) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.wg.Wait()
	c.notes.Close()
	return nil
}
