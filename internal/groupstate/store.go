// Package groupstate keeps per-group expand/collapse state across grouping
// rebuilds and serializes grouping layouts.
//
// State is keyed by a group's path, the deterministic join of its ancestor
// keys. A rebuild that reproduces a path finds the state the previous build
// left behind; everything else about a rebuild is thrown away.
package groupstate

import (
	"maps"
	"sort"
	"sync"

	"github.com/agentic-research/vgrid/api"
)

// GroupState is the stored state of one group bucket.
type GroupState struct {
	Path       string
	Level      int
	Key        any // nil when the state was created from a path alone
	IsExpanded bool
	Metadata   map[string]any
}

func (g GroupState) clone() GroupState {
	if g.Metadata != nil {
		g.Metadata = maps.Clone(g.Metadata)
	}
	return g
}

// Store is a keyed store of GroupStates guarded by one RWMutex. Concurrent
// reads of existing entries never block each other; writes are O(1).
type Store struct {
	mu              sync.RWMutex
	states          map[string]*GroupState
	descriptors     []api.GroupLayout
	defaultExpanded bool
}

// NewStore returns an empty store whose GetState default is expanded.
func NewStore() *Store {
	return &Store{
		states:          make(map[string]*GroupState),
		defaultExpanded: true,
	}
}

// SetDefaultExpanded changes the state GetState gives entries it creates.
func (s *Store) SetDefaultExpanded(expanded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultExpanded = expanded
}

// GetState returns the state stored for path, creating and storing a default
// entry if there is none.
func (s *Store) GetState(path string) GroupState {
	s.mu.RLock()
	def := s.defaultExpanded
	s.mu.RUnlock()
	return s.GetOrCreate(path, LevelOf(path), nil, def)
}

// GetOrCreate returns the state stored for path. If absent, an entry with the
// given level, key and expansion is stored and returned. The fast path only
// takes the read lock.
func (s *Store) GetOrCreate(path string, level int, key any, defaultExpanded bool) GroupState {
	s.mu.RLock()
	st, ok := s.states[path]
	if ok {
		out := st.clone()
		s.mu.RUnlock()
		return out
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another writer may have created it between the two locks.
	if st, ok := s.states[path]; ok {
		return st.clone()
	}
	st = &GroupState{Path: path, Level: level, Key: key, IsExpanded: defaultExpanded}
	s.states[path] = st
	return st.clone()
}

// Lookup returns the state stored for path without creating one.
func (s *Store) Lookup(path string) (GroupState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[path]
	if !ok {
		return GroupState{}, false
	}
	return st.clone(), true
}

// SetExpanded records the expansion state of path, creating the entry if
// needed.
func (s *Store) SetExpanded(path string, expanded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[path]; ok {
		st.IsExpanded = expanded
		return
	}
	s.states[path] = &GroupState{Path: path, Level: LevelOf(path), IsExpanded: expanded}
}

// SetMetadata attaches adapter-defined metadata to the state of path.
func (s *Store) SetMetadata(path string, metadata map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[path]
	if !ok {
		st = &GroupState{Path: path, Level: LevelOf(path), IsExpanded: s.defaultExpanded}
		s.states[path] = st
	}
	st.Metadata = maps.Clone(metadata)
}

// Clear drops every stored state. Descriptors are kept.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = make(map[string]*GroupState)
}

// Len returns the number of stored states.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

// SetDescriptors replaces the descriptor list the store snapshots alongside
// its states. Directions and metadata are stored in canonical layout form.
func (s *Store) SetDescriptors(groups []api.GroupLayout) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.descriptors = canonicalGroups(groups)
}

// Descriptors returns a copy of the stored descriptor list.
func (s *Store) Descriptors() []api.GroupLayout {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneGroups(s.descriptors)
}

// Snapshot is a point-in-time copy of a store, ready for serialization.
type Snapshot struct {
	Descriptors []api.GroupLayout
	States      []GroupState // sorted by path
}

// CreateSnapshot copies the descriptors and every state.
func (s *Store) CreateSnapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Descriptors: cloneGroups(s.descriptors),
		States:      make([]GroupState, 0, len(s.states)),
	}
	for _, st := range s.states {
		snap.States = append(snap.States, st.clone())
	}
	sort.Slice(snap.States, func(i, j int) bool { return snap.States[i].Path < snap.States[j].Path })
	return snap
}

// RestoreSnapshot replaces the store's content with snap.
func (s *Store) RestoreSnapshot(snap Snapshot) {
	states := make(map[string]*GroupState, len(snap.States))
	for _, st := range snap.States {
		c := st.clone()
		states[st.Path] = &c
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.descriptors = cloneGroups(snap.Descriptors)
	s.states = states
}

func cloneGroups(groups []api.GroupLayout) []api.GroupLayout {
	if groups == nil {
		return nil
	}
	out := make([]api.GroupLayout, len(groups))
	for i, g := range groups {
		out[i] = g
		out[i].Metadata = maps.Clone(g.Metadata)
	}
	return out
}
