// Package provider defines the paged item source a viewport scheduler drives
// and ships the adapters that implement it: an LRU-cached wrapper with
// placeholder support, an in-memory slice source, a SQLite results-table
// source and a column source.
package provider

import (
	"context"
	"errors"
	"sync"

	"github.com/agentic-research/vgrid/internal/row"
)

// ErrClosed is returned by providers used after Close.
var ErrClosed = errors.New("provider closed")

// Provider is the paged source contract.
//
// Get never fails: indices that are not materialized yet return a renderable
// placeholder and IsPlaceholder reports true until background materialization
// completes. Completion is announced on Notifications with the exact ranges
// that changed.
type Provider[T any] interface {
	Count() int
	SupportsPlaceholders() bool
	GetPage(ctx context.Context, req row.PageRequest) (row.PageResult[T], error)
	Prefetch(ctx context.Context, req row.PageRequest) error
	Invalidate(ctx context.Context, req row.PageRequest) error
	TryGetMaterialized(index int) (T, bool)
	IsPlaceholder(index int) bool
	Get(index int) T
	Notifications() <-chan Notification
}

// Source is a raw, uncached item source. Fetch may return fewer items than
// asked for at the end of the data.
type Source[T any] interface {
	Len() int
	Fetch(ctx context.Context, start, count int) ([]T, error)
}

// Prefetcher is implemented by sources that can warm themselves ahead of a
// fetch.
type Prefetcher interface {
	Prefetch(ctx context.Context, start, count int) error
}

// NotificationKind classifies a Notification.
type NotificationKind uint8

const (
	// Reset means every index may have changed, including the count.
	Reset NotificationKind = iota
	// Invalidated names ranges whose items were dropped or replaced. No
	// ranges means everything.
	Invalidated
	// Materialized names ranges whose placeholders became real items.
	Materialized
)

func (k NotificationKind) String() string {
	switch k {
	case Reset:
		return "reset"
	case Invalidated:
		return "invalidated"
	case Materialized:
		return "materialized"
	}
	return "unknown"
}

// Notification is one change event.
type Notification struct {
	Kind   NotificationKind
	Ranges []row.Range
}

// Full reports whether the notification covers every index.
func (n Notification) Full() bool {
	return n.Kind == Reset || len(n.Ranges) == 0
}

// Notifier is a buffered notification queue. When the buffer is full the
// event is dropped and the next event that fits is widened to a full
// invalidation, so a slow consumer loses precision, never changes.
type Notifier struct {
	mu      sync.Mutex
	ch      chan Notification
	overrun bool
	closed  bool
}

// DefaultNotificationBuffer is the queue depth used when none is configured.
const DefaultNotificationBuffer = 64

// NewNotifier returns a notifier with the given buffer size.
func NewNotifier(buffer int) *Notifier {
	if buffer <= 0 {
		buffer = DefaultNotificationBuffer
	}
	return &Notifier{ch: make(chan Notification, buffer)}
}

// C returns the receive side of the queue.
func (n *Notifier) C() <-chan Notification { return n.ch }

// Send queues note without blocking.
func (n *Notifier) Send(note Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	if n.overrun && note.Kind != Reset {
		note = Notification{Kind: Invalidated}
	}
	select {
	case n.ch <- note:
		n.overrun = false
	default:
		n.overrun = true
	}
}

// Close closes the queue. Later sends are dropped.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.closed {
		n.closed = true
		close(n.ch)
	}
}
