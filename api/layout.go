package api

import "encoding/json"

// CurrentLayoutVersion is written by every serializer. Readers normalize
// versions <= 0 to 1.
const CurrentLayoutVersion = 1

// Layout is the persisted grouping layout of a grid.
// The dataset itself is never part of it.
type Layout struct {
	// Version of the layout format.
	Version int `json:"version"`
	// Groups is the ordered descriptor list; index 0 is the outermost level.
	Groups []GroupLayout `json:"groups"`
	// ExpansionStates records per-group expand/collapse state keyed by path.
	ExpansionStates []ExpansionState `json:"expansion_states"`
}

// GroupLayout is the serializable part of one group descriptor.
type GroupLayout struct {
	// ColumnKey names the grouped column.
	ColumnKey string `json:"column_key"`
	// SortDirection is "ascending" or "descending".
	SortDirection string `json:"sort_direction,omitempty"`
	// DefaultExpanded is the state of buckets with no stored expansion state.
	DefaultExpanded bool `json:"default_expanded"`
	// Metadata is opaque, adapter-defined data.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ExpansionState is the stored state of one group bucket.
type ExpansionState struct {
	Path       string `json:"path"`
	IsExpanded bool   `json:"is_expanded"`
}

// UnmarshalJSON accepts "is_expanded" as an alias of "default_expanded".
// When both are present "default_expanded" wins.
func (g *GroupLayout) UnmarshalJSON(data []byte) error {
	var wire struct {
		ColumnKey       string            `json:"column_key"`
		SortDirection   string            `json:"sort_direction"`
		DefaultExpanded *bool             `json:"default_expanded"`
		IsExpanded      *bool             `json:"is_expanded"`
		Metadata        map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*g = GroupLayout{
		ColumnKey:     wire.ColumnKey,
		SortDirection: wire.SortDirection,
		Metadata:      wire.Metadata,
	}
	switch {
	case wire.DefaultExpanded != nil:
		g.DefaultExpanded = *wire.DefaultExpanded
	case wire.IsExpanded != nil:
		g.DefaultExpanded = *wire.IsExpanded
	}
	return nil
}
