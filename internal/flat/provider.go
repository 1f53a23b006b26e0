package flat

import (
	"context"

	"github.com/agentic-research/vgrid/internal/provider"
	"github.com/agentic-research/vgrid/internal/row"
)

var _ provider.Provider[row.Row] = (*Source)(nil)

// Count implements provider.Provider.
func (s *Source) Count() int { return s.RowCount() }

// SupportsPlaceholders implements provider.Provider. Every published row is
// materialized.
func (s *Source) SupportsPlaceholders() bool { return false }

// GetPage implements provider.Provider. The page is read from one published
// snapshot and clipped at its end.
func (s *Source) GetPage(ctx context.Context, req row.PageRequest) (row.PageResult[row.Row], error) {
	if err := req.Validate(); err != nil {
		return row.PageResult[row.Row]{}, err
	}
	if err := ctx.Err(); err != nil {
		return row.PageResult[row.Row]{}, err
	}
	l := s.published.Load()
	rng := req.Range().Clip(len(l.entries))
	items := make([]row.Row, rng.Count)
	for i := range items {
		items[i] = l.entries[rng.Start+i].row()
	}
	return row.PageResult[row.Row]{Items: items}, nil
}

// Prefetch implements provider.Provider. There is nothing to warm.
func (s *Source) Prefetch(_ context.Context, req row.PageRequest) error {
	return req.Validate()
}

// Invalidate implements provider.Provider by announcing the range.
func (s *Source) Invalidate(_ context.Context, req row.PageRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	s.notes.Send(provider.Notification{Kind: provider.Invalidated, Ranges: []row.Range{req.Range()}})
	return nil
}

// TryGetMaterialized implements provider.Provider.
func (s *Source) TryGetMaterialized(index int) (row.Row, bool) {
	l := s.published.Load()
	if index < 0 || index >= len(l.entries) {
		return row.Row{}, false
	}
	return l.entries[index].row(), true
}

// IsPlaceholder implements provider.Provider.
func (s *Source) IsPlaceholder(index int) bool {
	return s.GetRow(index).IsPlaceholder
}

// Get implements provider.Provider.
func (s *Source) Get(index int) row.Row { return s.GetRow(index) }

// Notifications implements provider.Provider. Rebuilds send Reset; toggles
// send the invalidated tail starting at the toggled row.
func (s *Source) Notifications() <-chan provider.Notification { return s.notes.C() }
