package groupstate

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/agentic-research/vgrid/api"
)

// Sort directions as written in layouts.
const (
	Ascending  = "ascending"
	Descending = "descending"
)

// Layout converts a snapshot into its serializable form. Expansion states are
// sorted by path so the output is deterministic.
func (s Snapshot) Layout() api.Layout {
	l := api.Layout{
		Version:         api.CurrentLayoutVersion,
		Groups:          canonicalGroups(s.Descriptors),
		ExpansionStates: make([]api.ExpansionState, 0, len(s.States)),
	}
	if l.Groups == nil {
		l.Groups = []api.GroupLayout{}
	}
	for _, st := range s.States {
		l.ExpansionStates = append(l.ExpansionStates, api.ExpansionState{Path: st.Path, IsExpanded: st.IsExpanded})
	}
	sort.Slice(l.ExpansionStates, func(i, j int) bool {
		return l.ExpansionStates[i].Path < l.ExpansionStates[j].Path
	})
	return l
}

// FromLayout builds a snapshot from a decoded layout, normalizing it on the
// way: version <= 0 becomes 1, sort directions are lower-cased, and duplicate
// paths keep their last state.
func FromLayout(l api.Layout) (Snapshot, error) {
	if l.Version <= 0 {
		l.Version = 1
	}
	if l.Version > api.CurrentLayoutVersion {
		return Snapshot{}, fmt.Errorf("unsupported layout version %d", l.Version)
	}
	groups := cloneGroups(l.Groups)
	for i := range groups {
		dir, err := normalizeDirection(groups[i].SortDirection)
		if err != nil {
			return Snapshot{}, fmt.Errorf("group %d (%s): %w", i, groups[i].ColumnKey, err)
		}
		groups[i].SortDirection = dir
		if len(groups[i].Metadata) == 0 {
			groups[i].Metadata = nil
		}
	}
	byPath := make(map[string]bool, len(l.ExpansionStates))
	for _, es := range l.ExpansionStates {
		byPath[es.Path] = es.IsExpanded
	}
	snap := Snapshot{Descriptors: groups, States: make([]GroupState, 0, len(byPath))}
	for path, expanded := range byPath {
		snap.States = append(snap.States, GroupState{Path: path, Level: LevelOf(path), IsExpanded: expanded})
	}
	sort.Slice(snap.States, func(i, j int) bool { return snap.States[i].Path < snap.States[j].Path })
	return snap, nil
}

// canonicalGroups copies groups in the form FromLayout produces: known sort
// directions spelled out and empty metadata as nil. Unknown directions are
// left for FromLayout to reject.
func canonicalGroups(groups []api.GroupLayout) []api.GroupLayout {
	out := cloneGroups(groups)
	for i := range out {
		if dir, err := normalizeDirection(out[i].SortDirection); err == nil {
			out[i].SortDirection = dir
		}
		if len(out[i].Metadata) == 0 {
			out[i].Metadata = nil
		}
	}
	return out
}

func normalizeDirection(dir string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(dir)) {
	case "", "asc", Ascending:
		return Ascending, nil
	case "desc", Descending:
		return Descending, nil
	default:
		return "", fmt.Errorf("unknown sort direction %q", dir)
	}
}

// Marshal serializes a snapshot as an indented JSON layout.
func Marshal(s Snapshot) ([]byte, error) {
	return json.MarshalIndent(s.Layout(), "", "  ")
}

// Unmarshal parses a JSON layout into a normalized snapshot.
func Unmarshal(data []byte) (Snapshot, error) {
	var l api.Layout
	if err := json.Unmarshal(data, &l); err != nil {
		return Snapshot{}, fmt.Errorf("parse layout: %w", err)
	}
	return FromLayout(l)
}
