// Package flat owns the flattened row sequence of a grid: a depth-first,
// pre-order projection of a node tree that descends into a node only while it
// is expanded.
//
// The published sequence is immutable. Toggles splice a copy under the writer
// lock; rebuilds under a new grouping run without any lock and are swapped in
// by one atomic pointer store, so readers always see a complete list.
package flat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/agentic-research/vgrid/internal/grouping"
	"github.com/agentic-research/vgrid/internal/groupstate"
	"github.com/agentic-research/vgrid/internal/provider"
	"github.com/agentic-research/vgrid/internal/row"
)

type entry struct {
	node     *row.Node
	level    int
	expanded bool
}

func (e entry) row() row.Row {
	r := e.node.Row
	r.Level = e.level
	r.IsExpanded = e.expanded
	r.HasChildren = len(e.node.Children) > 0
	return r
}

type list struct {
	entries []entry
}

// Source is the authoritative flattened sequence.
type Source struct {
	store  *groupstate.Store
	logger *slog.Logger
	notes  *provider.Notifier

	published atomic.Pointer[list]

	// mu serializes writers: toggles and swaps.
	mu        sync.Mutex
	items     []*row.Node
	overrides map[*row.Node]bool // expansion of leaf-tree nodes that differs from Row.IsExpanded
	request   grouping.Request

	rebuildMu sync.Mutex
	seq       atomic.Uint64
	cancel    context.CancelFunc
	pending   *Task
}

type options struct {
	store  *groupstate.Store
	logger *slog.Logger
	buffer int
}

// Option configures New.
type Option func(*options)

// WithStore sets the group state store. By default each Source gets its own.
func WithStore(s *groupstate.Store) Option {
	return func(o *options) { o.store = s }
}

// WithLogger sets the logger for rebuild failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithNotificationBuffer sets the notification queue depth.
func WithNotificationBuffer(n int) Option {
	return func(o *options) { o.buffer = n }
}

// New publishes the ungrouped flattening of items.
func New(items []*row.Node, opts ...Option) *Source {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.store == nil {
		o.store = groupstate.NewStore()
	}
	s := &Source{
		store:     o.store,
		logger:    o.logger,
		notes:     provider.NewNotifier(o.buffer),
		items:     items,
		overrides: make(map[*row.Node]bool),
	}
	s.published.Store(&list{entries: flatten(nil, items, 0, s.overrides)})
	return s
}

// flatten appends the visible pre-order traversal of nodes to dst.
func flatten(dst []entry, nodes []*row.Node, level int, overrides map[*row.Node]bool) []entry {
	for _, n := range nodes {
		exp, ok := overrides[n]
		if !ok {
			exp = n.Row.IsExpanded
		}
		dst = append(dst, entry{node: n, level: level, expanded: exp})
		if exp && len(n.Children) > 0 {
			dst = flatten(dst, n.Children, level+1, overrides)
		}
	}
	return dst
}

// Store returns the group state store.
func (s *Source) Store() *groupstate.Store { return s.store }

// RowCount returns the length of the published sequence.
func (s *Source) RowCount() int { return len(s.published.Load().entries) }

// GetRow returns the row at index. Indices outside the sequence yield a
// placeholder row, never an error.
func (s *Source) GetRow(index int) row.Row {
	l := s.published.Load()
	if index < 0 || index >= len(l.entries) {
		return row.Placeholder(index)
	}
	return l.entries[index].row()
}

// Rows returns a copy of the whole published sequence.
func (s *Source) Rows() []row.Row {
	l := s.published.Load()
	out := make([]row.Row, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.row()
	}
	return out
}

// ToggleExpansion flips the expansion of the row at index, splicing its
// visible subtree in or out. Rows without children are left alone. Toggling
// a group row records the new state in the store under the group's path.
func (s *Source) ToggleExpansion(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.published.Load().entries
	if index < 0 || index >= len(cur) {
		return fmt.Errorf("%w: row %d of %d", row.ErrInvalidRequest, index, len(cur))
	}
	e := cur[index]
	if len(e.node.Children) == 0 {
		return nil
	}

	var next []entry
	if e.expanded {
		end := index + 1
		for end < len(cur) && cur[end].level > e.level {
			end++
		}
		next = make([]entry, 0, len(cur)-(end-index-1))
		next = append(next, cur[:index]...)
		next = append(next, entry{node: e.node, level: e.level})
		next = append(next, cur[end:]...)
	} else {
		sub := flatten(nil, e.node.Children, e.level+1, s.overrides)
		next = make([]entry, 0, len(cur)+len(sub))
		next = append(next, cur[:index]...)
		next = append(next, entry{node: e.node, level: e.level, expanded: true})
		next = append(next, sub...)
		next = append(next, cur[index+1:]...)
	}

	expanded := !e.expanded
	if expanded == e.node.Row.IsExpanded {
		delete(s.overrides, e.node)
	} else {
		s.overrides[e.node] = expanded
	}
	if g := e.node.Row.Group; g != nil {
		s.store.SetExpanded(g.Path, expanded)
	}
	s.published.Store(&list{entries: next})
	s.notes.Send(provider.Notification{
		Kind:   provider.Invalidated,
		Ranges: []row.Range{{Start: index, Count: len(next) - index}},
	})
	return nil
}

// ApplyGroupingAsync rebuilds the sequence under req off to the side and
// publishes it when complete. A rebuild already in flight is cancelled; it
// finishes with ErrRebuildSuperseded. Cancellation or failure leaves the
// previously published sequence in place.
func (s *Source) ApplyGroupingAsync(ctx context.Context, req grouping.Request) *Task {
	return s.start(ctx, req, nil)
}

func (s *Source) start(ctx context.Context, req grouping.Request, items []*row.Node) *Task {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	bctx, cancel := context.WithCancel(ctx)
	my := s.seq.Add(1)
	task := newTask()
	s.cancel, s.pending = cancel, task

	s.mu.Lock()
	if items == nil {
		items = s.items
	}
	overrides := make(map[*row.Node]bool, len(s.overrides))
	for n, exp := range s.overrides {
		if n.Row.Kind == row.KindLeaf {
			overrides[n] = exp
		}
	}
	s.mu.Unlock()

	go func() {
		defer cancel()
		task.finish(s.rebuild(ctx, bctx, my, items, overrides, req))
	}()
	return task
}

// rebuild runs under bctx; ctx is the caller's, to tell its cancellation
// apart from supersession.
func (s *Source) rebuild(ctx, bctx context.Context, my uint64, items []*row.Node, overrides map[*row.Node]bool, req grouping.Request) error {
	res, err := grouping.Build(bctx, items, req, s.store)
	if err == nil {
		var entries []entry
		entries, err = safeFlatten(res.Roots, overrides)
		if err == nil {
			if !s.publish(my, entries, overrides, items, req) {
				return ErrRebuildSuperseded
			}
			s.logger.Debug("grouping applied", "groups", res.Groups, "leaves", res.Leaves, "rows", len(entries))
			return nil
		}
	}
	switch {
	case s.seq.Load() != my:
		s.logger.Debug("rebuild superseded", "error", err)
		return ErrRebuildSuperseded
	case ctx.Err() != nil:
		s.logger.Debug("rebuild cancelled", "error", err)
		return ctx.Err()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	s.logger.Error("rebuild failed", "error", err)
	return err
}

func safeFlatten(roots []*row.Node, overrides map[*row.Node]bool) (entries []entry, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: flatten: %v", grouping.ErrInconsistentState, r)
		}
	}()
	return flatten(nil, roots, 0, overrides), nil
}

func (s *Source) publish(my uint64, entries []entry, overrides map[*row.Node]bool, items []*row.Node, req grouping.Request) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq.Load() != my {
		return false
	}
	s.published.Store(&list{entries: entries})
	s.overrides = overrides
	s.items = items
	s.request = req
	s.store.SetDescriptors(req.Layout())
	s.notes.Send(provider.Notification{Kind: provider.Reset})
	return true
}

// ApplyGrouping rebuilds under req and waits for the result.
func (s *Source) ApplyGrouping(ctx context.Context, req grouping.Request) error {
	return s.ApplyGroupingAsync(ctx, req).Wait(ctx)
}

// SetItems replaces the source tree and rebuilds it under the current
// request.
func (s *Source) SetItems(ctx context.Context, items []*row.Node) *Task {
	if items == nil {
		items = []*row.Node{}
	}
	return s.start(ctx, s.Request(), items)
}

// Request returns the grouping request of the published sequence.
func (s *Source) Request() grouping.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.request
}

// WaitForPendingOperations blocks until no rebuild is in flight. Outcomes of
// the rebuilds themselves are not reported.
func (s *Source) WaitForPendingOperations(ctx context.Context) error {
	for {
		s.rebuildMu.Lock()
		t := s.pending
		s.rebuildMu.Unlock()
		if t == nil {
			return nil
		}
		select {
		case <-t.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
		s.rebuildMu.Lock()
		same := s.pending == t
		if same {
			s.pending = nil
		}
		s.rebuildMu.Unlock()
		if same {
			return nil
		}
	}
}
